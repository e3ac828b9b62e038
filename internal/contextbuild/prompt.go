package contextbuild

import (
	"strings"

	"github.com/scrypster/recall/pkg/types"
)

// Block headings for the merged system message.
const (
	memoryHeading = "[Things you remember about this user]"
	recapHeading  = "[Recap of earlier parts of this session]"
)

// Transcript fences keep the quoted history from reading as instructions.
const (
	transcriptOpen  = "=== recent conversation (reference only, do not imitate this format) ==="
	transcriptClose = "=== end of recent conversation ==="
)

// replyInstruction is the fixed contract for the downstream model's output.
const replyInstruction = `[Reply format]
Respond with a single JSON object and nothing else:
{"reply": string, "emotion": string}
- "reply" is plain conversational text. No emotion labels, stage directions or bracketed asides.
- To send several messages, separate the segments inside "reply" with [MSG_SPLIT]. Use at most 3 segments.
- "emotion" must be one of: happy, gentle, sad, excited, angry, crying.`

// composeSystemPrompt merges the persona, the memory and recap blocks, the
// strategy text, the short-term transcript and the reply instruction into one
// system message. Block order is fixed; empty blocks are omitted.
func (b *Builder) composeSystemPrompt(persona, memoryBlock string, summary *types.ConversationSummary, strategy string, short []types.ConversationTurn) string {
	blocks := make([]string, 0, 6)
	if persona != "" {
		blocks = append(blocks, persona)
	}
	if memoryBlock != "" {
		blocks = append(blocks, memoryHeading+"\n"+memoryBlock)
	}
	if recap := formatRecap(summary); recap != "" {
		blocks = append(blocks, recapHeading+"\n"+recap)
	}
	if strategy != "" {
		blocks = append(blocks, strategy)
	}
	if transcript := formatTranscript(short); transcript != "" {
		blocks = append(blocks, transcript)
	}
	blocks = append(blocks, replyInstruction)
	return strings.Join(blocks, "\n\n")
}

func formatRecap(summary *types.ConversationSummary) string {
	if summary == nil || summary.SummaryText == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(summary.SummaryText)
	if len(summary.KeyTopics) > 0 {
		topics := summary.KeyTopics
		if len(topics) > 3 {
			topics = topics[:3]
		}
		sb.WriteString("\nTopics: ")
		sb.WriteString(strings.Join(topics, ", "))
	}
	if summary.EmotionTrajectory != "" {
		sb.WriteString("\nMood: ")
		sb.WriteString(summary.EmotionTrajectory)
	}
	return sb.String()
}

func formatTranscript(short []types.ConversationTurn) string {
	if len(short) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(transcriptOpen)
	for _, t := range short {
		sb.WriteByte('\n')
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	sb.WriteByte('\n')
	sb.WriteString(transcriptClose)
	return sb.String()
}
