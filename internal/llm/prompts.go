package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// ClassificationInstruction is the fixed system instruction for the
// importance classifier. The reply must be a single JSON object; anything
// else triggers the rule-based fallback in the memory service.
const ClassificationInstruction = `You are a memory analysis assistant. Analyze the conversation between a user and an AI assistant and decide whether it contains an event worth remembering long-term.

Worth remembering:
- Personal facts: birthday, age, occupation, family members, where they live
- Strong preferences: things they like or dislike, hobbies, habits
- Goals and plans: study plans, career goals, life plans
- Emotional events: significant emotional expressions or shifts
- Life events: graduation, new job, marriage, illness, moving
- Relationships: friends, family, partners, colleagues

Not worth remembering:
- Greetings and small talk: hello, goodbye, thanks, good morning
- Simple questions: weather, time, trivia
- Technical questions carrying no personal information
- One-off topics with no long-term relevance

Reply with exactly one JSON object in this shape:
{
    "is_important": true or false,
    "importance_level": "low" | "medium" | "high" | "critical",
    "event_type": "preference" | "birthday" | "goal" | "emotion" | "life_event" | "relationship" | "other" | null,
    "event_summary": "concise summary of the event, if important",
    "keywords": ["keyword1", "keyword2"],
    "event_date": "YYYY-MM-DD" or null
}

Return only the JSON, nothing else.`

// RetrievalHintInstruction asks the model which memories the current message
// calls for. Used by the fallback retrieval path to narrow the metadata query.
const RetrievalHintInstruction = `You are a memory retrieval assistant. Given the user's current message, decide what kinds of stored memories would help answer it. For example, a message about birthdays calls for birthday memories, a message about work calls for goal memories.

Reply with exactly one JSON object in this shape:
{
    "should_retrieve": true or false,
    "relevance_keywords": ["keyword1", "keyword2"],
    "event_types": ["preference", "goal", "emotion"]
}

Return only the JSON, nothing else.`

// SummarizationInstruction builds the system instruction for model-based
// conversation summarization with the given length bound.
func SummarizationInstruction(maxLength int) string {
	return fmt.Sprintf(`You are a conversation summarization assistant. Summarize the conversation you are given:
1. Extract the key topics (3-5).
2. Describe how the user's emotions developed.
3. Identify what the user needs or cares about.
4. Compose a concise summary of at most %d characters.

Reply with exactly one JSON object in this shape:
{
    "summary_text": "the summary",
    "key_topics": ["topic1", "topic2"],
    "emotion_trajectory": "description of the emotional arc",
    "user_needs": ["need1", "need2"]
}

Return only the JSON, nothing else.`, maxLength)
}

// ClassificationMessage renders the turn under analysis as the single user
// message for the classification call.
func ClassificationMessage(userText, assistantText string) []Message {
	content := fmt.Sprintf("User message: %s\nAssistant reply: %s\n\nDecide whether this exchange contains an event worth remembering.", userText, assistantText)
	return []Message{{Role: "user", Content: content}}
}

// RetrievalHintMessage renders the current message for the hint call.
func RetrievalHintMessage(currentMessage string) []Message {
	return []Message{{Role: "user", Content: "Current message: " + currentMessage}}
}

// FlattenTurns renders history as role-prefixed lines for summarization.
func FlattenTurns(turns []types.ConversationTurn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		label := "Assistant"
		if t.Role == types.RoleUser {
			label = "User"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}
