package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// classificationReply mirrors the JSON shape the classification instruction
// asks for.
type classificationReply struct {
	IsImportant     bool     `json:"is_important"`
	ImportanceLevel string   `json:"importance_level"`
	EventType       *string  `json:"event_type"`
	EventSummary    string   `json:"event_summary"`
	Keywords        []string `json:"keywords"`
	EventDate       *string  `json:"event_date"`
}

// summaryReply mirrors the JSON shape the summarization instruction asks for.
type summaryReply struct {
	SummaryText       string   `json:"summary_text"`
	KeyTopics         []string `json:"key_topics"`
	EmotionTrajectory string   `json:"emotion_trajectory"`
	UserNeeds         []string `json:"user_needs"`
}

// RetrievalHints is the parsed reply of the retrieval-hint call.
type RetrievalHints struct {
	ShouldRetrieve    bool     `json:"should_retrieve"`
	RelevanceKeywords []string `json:"relevance_keywords"`
	EventTypes        []string `json:"event_types"`
}

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text. Models add explanations or fence the JSON in a code
// block despite instructions, so strip markers and balance braces manually.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found, let the parser fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // no complete JSON object, let the parser fail
}

// ParseClassificationReply parses the classifier's JSON reply, accepting raw
// JSON or JSON fenced in a code block. An error means the reply did not match
// the expected schema and the caller should fall back to the rule classifier.
func ParseClassificationReply(reply string) (*types.Classification, error) {
	cleanJSON := extractJSON(reply)

	var parsed classificationReply
	if err := json.Unmarshal([]byte(cleanJSON), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}

	result := &types.Classification{
		IsImportant: parsed.IsImportant,
		Summary:     strings.TrimSpace(parsed.EventSummary),
		Keywords:    parsed.Keywords,
	}

	if !parsed.IsImportant {
		return result, nil
	}

	if !types.IsValidImportance(parsed.ImportanceLevel) {
		return nil, fmt.Errorf("invalid importance level: %q", parsed.ImportanceLevel)
	}
	result.Importance = types.Importance(parsed.ImportanceLevel)

	if parsed.EventType != nil {
		category := strings.TrimSpace(*parsed.EventType)
		if category != "" && !types.IsValidCategory(category) {
			category = types.CategoryOther
		}
		result.Category = category
	}

	if result.Summary == "" {
		return nil, fmt.Errorf("classification marked important but event_summary is empty")
	}

	if parsed.EventDate != nil && *parsed.EventDate != "" {
		// A malformed date is dropped, not fatal: the fact is still worth keeping.
		if d, err := time.Parse("2006-01-02", *parsed.EventDate); err == nil {
			result.EventDate = &d
		}
	}

	return result, nil
}

// ParseSummaryReply parses the summarizer's JSON reply. An error means the
// caller should fall back to the rule-based summarizer.
func ParseSummaryReply(reply string) (*types.ConversationSummary, error) {
	cleanJSON := extractJSON(reply)

	var parsed summaryReply
	if err := json.Unmarshal([]byte(cleanJSON), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse summary JSON: %w", err)
	}

	if strings.TrimSpace(parsed.SummaryText) == "" {
		return nil, fmt.Errorf("summary reply has empty summary_text")
	}

	return &types.ConversationSummary{
		SummaryText:       strings.TrimSpace(parsed.SummaryText),
		KeyTopics:         parsed.KeyTopics,
		EmotionTrajectory: parsed.EmotionTrajectory,
		UserNeeds:         parsed.UserNeeds,
		Method:            "model",
	}, nil
}

// ParseRetrievalHints parses the retrieval-hint JSON reply. Unknown event
// types are filtered out rather than failing the whole reply.
func ParseRetrievalHints(reply string) (*RetrievalHints, error) {
	cleanJSON := extractJSON(reply)

	var parsed RetrievalHints
	if err := json.Unmarshal([]byte(cleanJSON), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse retrieval hints JSON: %w", err)
	}

	valid := parsed.EventTypes[:0]
	for _, t := range parsed.EventTypes {
		if types.IsValidCategory(t) {
			valid = append(valid, t)
		}
	}
	parsed.EventTypes = valid

	return &parsed, nil
}
