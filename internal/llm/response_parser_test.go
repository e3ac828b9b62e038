package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

func TestParseClassificationReply_RawJSON(t *testing.T) {
	reply := `{"is_important": true, "importance_level": "high", "event_type": "birthday",
		"event_summary": "User's birthday is May 3", "keywords": ["birthday", "May 3"],
		"event_date": "2026-05-03"}`

	c, err := ParseClassificationReply(reply)
	require.NoError(t, err)
	assert.True(t, c.IsImportant)
	assert.Equal(t, types.ImportanceHigh, c.Importance)
	assert.Equal(t, types.CategoryBirthday, c.Category)
	assert.Equal(t, "User's birthday is May 3", c.Summary)
	assert.Equal(t, []string{"birthday", "May 3"}, c.Keywords)
	require.NotNil(t, c.EventDate)
	assert.Equal(t, "2026-05-03", c.EventDate.Format("2006-01-02"))
}

func TestParseClassificationReply_FencedJSON(t *testing.T) {
	reply := "Here is my analysis:\n```json\n" +
		`{"is_important": true, "importance_level": "medium", "event_type": "preference",
		"event_summary": "User likes jazz", "keywords": ["jazz"], "event_date": null}` +
		"\n```\nLet me know if you need anything else."

	c, err := ParseClassificationReply(reply)
	require.NoError(t, err)
	assert.True(t, c.IsImportant)
	assert.Equal(t, types.ImportanceMedium, c.Importance)
	assert.Nil(t, c.EventDate)
}

func TestParseClassificationReply_NotImportant(t *testing.T) {
	c, err := ParseClassificationReply(`{"is_important": false}`)
	require.NoError(t, err)
	assert.False(t, c.IsImportant)
}

func TestParseClassificationReply_InvalidImportance(t *testing.T) {
	_, err := ParseClassificationReply(`{"is_important": true, "importance_level": "urgent",
		"event_summary": "something"}`)
	assert.Error(t, err)
}

func TestParseClassificationReply_UnknownCategoryNormalized(t *testing.T) {
	c, err := ParseClassificationReply(`{"is_important": true, "importance_level": "low",
		"event_type": "pet_name", "event_summary": "User's cat is called Miso", "keywords": []}`)
	require.NoError(t, err)
	assert.Equal(t, types.CategoryOther, c.Category)
}

func TestParseClassificationReply_MalformedDateDropped(t *testing.T) {
	c, err := ParseClassificationReply(`{"is_important": true, "importance_level": "medium",
		"event_type": "goal", "event_summary": "User wants to run a marathon",
		"event_date": "sometime next year"}`)
	require.NoError(t, err)
	assert.Nil(t, c.EventDate)
}

func TestParseClassificationReply_Garbage(t *testing.T) {
	_, err := ParseClassificationReply("I cannot answer that.")
	assert.Error(t, err)
}

func TestParseSummaryReply(t *testing.T) {
	reply := "```json\n" +
		`{"summary_text": "Talked about a stressful job hunt.",
		"key_topics": ["work", "stress"],
		"emotion_trajectory": "mostly negative",
		"user_needs": ["venting", "encouragement"]}` + "\n```"

	s, err := ParseSummaryReply(reply)
	require.NoError(t, err)
	assert.Equal(t, "Talked about a stressful job hunt.", s.SummaryText)
	assert.Equal(t, []string{"work", "stress"}, s.KeyTopics)
	assert.Equal(t, "mostly negative", s.EmotionTrajectory)
	assert.Equal(t, "model", s.Method)
}

func TestParseSummaryReply_EmptySummaryText(t *testing.T) {
	_, err := ParseSummaryReply(`{"summary_text": "  ", "key_topics": []}`)
	assert.Error(t, err)
}

func TestParseRetrievalHints_FiltersUnknownTypes(t *testing.T) {
	h, err := ParseRetrievalHints(`{"should_retrieve": true,
		"relevance_keywords": ["birthday"],
		"event_types": ["birthday", "shopping", "goal"]}`)
	require.NoError(t, err)
	assert.True(t, h.ShouldRetrieve)
	assert.Equal(t, []string{"birthday", "goal"}, h.EventTypes)
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	raw := `noise {"a": "opening { brace and closing } brace", "b": 1} trailing`
	assert.Equal(t, `{"a": "opening { brace and closing } brace", "b": 1}`, extractJSON(raw))
}

func TestExtractJSON_NestedObjects(t *testing.T) {
	raw := `{"outer": {"inner": 2}} extra`
	assert.Equal(t, `{"outer": {"inner": 2}}`, extractJSON(raw))
}
