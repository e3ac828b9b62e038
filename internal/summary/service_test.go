package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

func userTurn(content string) types.ConversationTurn {
	return types.ConversationTurn{Role: types.RoleUser, Content: content}
}

func assistantTurn(content string) types.ConversationTurn {
	return types.ConversationTurn{Role: types.RoleAssistant, Content: content}
}

func TestSummarizeEmptyTurns(t *testing.T) {
	svc := NewService(nil, nil)
	sum := svc.Summarize(context.Background(), nil, false, 0)
	assert.Equal(t, [2]int{0, 0}, sum.TurnRange)
	assert.Equal(t, "rules", sum.Method)
	assert.NotEmpty(t, sum.SummaryText)
}

func TestRuleSummaryExtractsTopicsByFrequency(t *testing.T) {
	svc := NewService(nil, nil)
	turns := []types.ConversationTurn{
		userTurn("work has been brutal, my boss keeps piling on"),
		assistantTurn("That sounds exhausting."),
		userTurn("another project landed on my desk at work today"),
		userTurn("I watched a movie to unwind"),
	}
	sum := svc.Summarize(context.Background(), turns, false, 0)
	require.NotEmpty(t, sum.KeyTopics)
	assert.Equal(t, "work", sum.KeyTopics[0])
	assert.Contains(t, sum.KeyTopics, "hobbies")
	assert.Equal(t, [2]int{1, 3}, sum.TurnRange)
	assert.Equal(t, "rules", sum.Method)
}

func TestEmotionTrajectoryLabels(t *testing.T) {
	svc := NewService(nil, nil)
	tests := []struct {
		name  string
		turns []types.ConversationTurn
		want  string
	}{
		{
			"mostly negative",
			[]types.ConversationTurn{
				userTurn("so much stress lately"),
				userTurn("I feel really anxious"),
				userTurn("tired of everything"),
			},
			"mostly negative",
		},
		{
			"mostly positive",
			[]types.ConversationTurn{
				userTurn("I'm so happy today"),
				userTurn("everything is awesome"),
				userTurn("feeling great about the trip"),
			},
			"mostly positive",
		},
		{
			"fluctuating",
			[]types.ConversationTurn{
				userTurn("I'm happy about the offer"),
				userTurn("but also anxious about moving"),
				userTurn("it was a great call though"),
				userTurn("still worried about rent"),
			},
			"fluctuating",
		},
		{
			"steady",
			[]types.ConversationTurn{
				userTurn("what time is it"),
				userTurn("remind me tomorrow"),
			},
			"steady",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := svc.Summarize(context.Background(), tt.turns, false, 0)
			assert.Equal(t, tt.want, sum.EmotionTrajectory)
		})
	}
}

func TestRuleSummaryCJKKeywords(t *testing.T) {
	svc := NewService(nil, nil)
	turns := []types.ConversationTurn{
		userTurn("最近工作压力好大，天天加班"),
		userTurn("怎么办，好焦虑"),
	}
	sum := svc.Summarize(context.Background(), turns, false, 0)
	assert.Contains(t, sum.KeyTopics, "work")
	assert.Equal(t, "mostly negative", sum.EmotionTrajectory)
	assert.Contains(t, sum.UserNeeds, "advice")
}

func TestSummaryTruncation(t *testing.T) {
	svc := NewService(nil, nil)
	turns := []types.ConversationTurn{
		userTurn("work work work, school exams, my parents, feeling sick, playing games, shopping all day"),
	}
	sum := svc.Summarize(context.Background(), turns, false, 20)
	runes := []rune(sum.SummaryText)
	assert.LessOrEqual(t, len(runes), 20)
	assert.True(t, strings.HasSuffix(sum.SummaryText, "..."))
}

// failingGenerator always errors, driving the model path into its fallback.
type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, messages []llm.Message, instruction string) (string, error) {
	return "", errors.New("model unavailable")
}
func (failingGenerator) Model() string { return "failing" }

func TestModelModeFallsBackToRules(t *testing.T) {
	svc := NewService(nil, failingGenerator{})
	turns := []types.ConversationTurn{userTurn("work is piling up")}
	sum := svc.Summarize(context.Background(), turns, true, 0)
	assert.Equal(t, "rules", sum.Method)
	assert.Contains(t, sum.KeyTopics, "work")
}

// fixedGenerator returns a canned JSON reply.
type fixedGenerator struct{ reply string }

func (g fixedGenerator) Generate(ctx context.Context, messages []llm.Message, instruction string) (string, error) {
	return g.reply, nil
}
func (fixedGenerator) Model() string { return "fixed" }

func TestModelModeParsesReply(t *testing.T) {
	svc := NewService(nil, fixedGenerator{reply: `{"summary_text": "Job hunt chat.",
		"key_topics": ["work"], "emotion_trajectory": "mostly negative", "user_needs": ["encouragement"]}`})
	turns := []types.ConversationTurn{userTurn("the job hunt is rough"), assistantTurn("Hang in there.")}
	sum := svc.Summarize(context.Background(), turns, true, 0)
	assert.Equal(t, "model", sum.Method)
	assert.Equal(t, "Job hunt chat.", sum.SummaryText)
	assert.Equal(t, [2]int{1, 1}, sum.TurnRange)
}
