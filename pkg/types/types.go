// Package types defines the shared data model for the recall memory engine:
// conversation turns, importance tiers, event categories, and the persisted
// MemoryRecord that the retrieval and context-assembly layers exchange.
package types

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the human user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn authored by the bot.
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one turn of raw dialogue history. A full history is an
// ordered slice of turns; user and assistant turns need not strictly alternate.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Importance is the tier assigned to a memory by the importance classifier.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// importanceOrder maps tiers to their rank for threshold comparisons.
var importanceOrder = map[Importance]int{
	ImportanceLow:      0,
	ImportanceMedium:   1,
	ImportanceHigh:     2,
	ImportanceCritical: 3,
}

// Rank returns the numeric rank of the tier (low=0 .. critical=3).
// Unknown tiers rank below low.
func (i Importance) Rank() int {
	if r, ok := importanceOrder[i]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether the tier meets or exceeds the given threshold.
func (i Importance) AtLeast(threshold Importance) bool {
	return i.Rank() >= threshold.Rank()
}

// IsValidImportance checks whether the given string is a known tier.
func IsValidImportance(s string) bool {
	_, ok := importanceOrder[Importance(s)]
	return ok
}

// Event category constants classify what kind of fact a memory captures.
const (
	CategoryPreference   = "preference"
	CategoryBirthday     = "birthday"
	CategoryGoal         = "goal"
	CategoryEmotion      = "emotion"
	CategoryLifeEvent    = "life_event"
	CategoryRelationship = "relationship"
	CategoryOther        = "other"
)

// ValidCategories is the closed set of event categories the classifier emits.
var ValidCategories = []string{
	CategoryPreference,
	CategoryBirthday,
	CategoryGoal,
	CategoryEmotion,
	CategoryLifeEvent,
	CategoryRelationship,
	CategoryOther,
}

// IsValidCategory checks whether the given category string is known.
func IsValidCategory(category string) bool {
	for _, c := range ValidCategories {
		if c == category {
			return true
		}
	}
	return false
}
