// Package summary condenses mid-term conversation history into a compact
// structured recap. The rule mode costs no tokens and is always available;
// the model mode produces better prose but transparently falls back to rules
// on any failure.
package summary

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

// DefaultMaxLength bounds the summary text when the caller passes 0.
const DefaultMaxLength = 200

// Service produces conversation summaries. A nil generator limits the
// service to rule mode.
type Service struct {
	lexicon   *Lexicon
	generator llm.TextGenerator
}

// NewService builds a summary service. lexicon may be nil to use the
// built-in defaults; generator may be nil to disable model mode.
func NewService(lexicon *Lexicon, generator llm.TextGenerator) *Service {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Service{lexicon: lexicon, generator: generator}
}

// Summarize condenses turns. useModel requests the model path; it degrades
// to rules when no generator is configured or the call or parse fails.
// Summarize never returns an error.
func (s *Service) Summarize(ctx context.Context, turns []types.ConversationTurn, useModel bool, maxLength int) types.ConversationSummary {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if len(turns) == 0 {
		return types.ConversationSummary{
			SummaryText: "No conversation history yet.",
			TurnRange:   [2]int{0, 0},
			Method:      "rules",
		}
	}

	if useModel && s.generator != nil {
		if sum, err := s.summarizeWithModel(ctx, turns, maxLength); err == nil {
			return sum
		} else {
			log.Printf("summary: model summarization failed, falling back to rules: %v", err)
		}
	}

	return s.summarizeWithRules(turns, maxLength)
}

func (s *Service) summarizeWithModel(ctx context.Context, turns []types.ConversationTurn, maxLength int) (types.ConversationSummary, error) {
	messages := []llm.Message{{Role: "user", Content: llm.FlattenTurns(turns)}}
	reply, err := s.generator.Generate(ctx, messages, llm.SummarizationInstruction(maxLength))
	if err != nil {
		return types.ConversationSummary{}, err
	}
	parsed, err := llm.ParseSummaryReply(reply)
	if err != nil {
		return types.ConversationSummary{}, err
	}
	sum := *parsed
	sum.SummaryText = truncate(sum.SummaryText, maxLength)
	sum.TurnRange = [2]int{1, countUserTurns(turns)}
	return sum, nil
}

func (s *Service) summarizeWithRules(turns []types.ConversationTurn, maxLength int) types.ConversationSummary {
	topics := s.extractTopics(turns)
	trajectory := s.emotionTrajectory(turns)
	needs := s.identifyNeeds(turns)

	return types.ConversationSummary{
		SummaryText:       truncate(s.composeSummary(topics, trajectory, needs), maxLength),
		KeyTopics:         head(topics, 5),
		EmotionTrajectory: trajectory,
		UserNeeds:         head(needs, 3),
		TurnRange:         [2]int{1, countUserTurns(turns)},
		Method:            "rules",
	}
}

// extractTopics tallies topic families across all turns, most frequent
// first. Each turn counts a family at most once.
func (s *Service) extractTopics(turns []types.ConversationTurn) []string {
	counts := make(map[string]int)
	for _, turn := range turns {
		content := strings.ToLower(turn.Content)
		for topic, keywords := range s.lexicon.Topics {
			if containsAny(content, keywords) {
				counts[topic]++
			}
		}
	}
	return sortByCount(counts)
}

// emotionTrajectory classifies each user turn as positive, negative or
// neutral, then labels the overall trend.
func (s *Service) emotionTrajectory(turns []types.ConversationTurn) string {
	var positive, negative int
	for _, turn := range turns {
		if turn.Role != types.RoleUser {
			continue
		}
		content := strings.ToLower(turn.Content)
		switch {
		case containsAny(content, s.lexicon.Emotions.Positive):
			positive++
		case containsAny(content, s.lexicon.Emotions.Negative):
			negative++
		}
	}

	switch {
	case positive > negative*2:
		return "mostly positive"
	case negative > positive*2:
		return "mostly negative"
	case positive > 0 && negative > 0:
		return "fluctuating"
	default:
		return "steady"
	}
}

func (s *Service) identifyNeeds(turns []types.ConversationTurn) []string {
	counts := make(map[string]int)
	for _, turn := range turns {
		if turn.Role != types.RoleUser {
			continue
		}
		content := strings.ToLower(turn.Content)
		for need, keywords := range s.lexicon.Needs {
			if containsAny(content, keywords) {
				counts[need]++
			}
		}
	}
	return sortByCount(counts)
}

func (s *Service) composeSummary(topics []string, trajectory string, needs []string) string {
	var parts []string
	if len(topics) > 0 {
		parts = append(parts, "Topics discussed: "+strings.Join(head(topics, 3), ", "))
	}
	if trajectory != "" && trajectory != "steady" {
		parts = append(parts, "Mood: "+trajectory)
	}
	if len(needs) > 0 {
		parts = append(parts, "The user is looking for: "+strings.Join(head(needs, 2), ", "))
	}
	if len(parts) == 0 {
		return "Casual everyday conversation."
	}
	return strings.Join(parts, ". ") + "."
}

func containsAny(content string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// sortByCount orders keys by descending count, ties alphabetically so the
// result is deterministic.
func sortByCount(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func countUserTurns(turns []types.ConversationTurn) int {
	n := 0
	for _, turn := range turns {
		if turn.Role == types.RoleUser {
			n++
		}
	}
	return n
}

// truncate cuts s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
