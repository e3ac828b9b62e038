package types

import "time"

// MemoryRecord is a persisted long-term fact about a user, extracted from a
// conversational turn that the importance classifier judged worth keeping.
//
// Invariants:
//   - Embedding is either empty or has the dimensionality of exactly the
//     model named in EmbeddingModel.
//   - A record is eligible for retrieval only while Active is true. Records
//     are soft-deleted by flipping Active to false, never hard-deleted here.
//
// AccessCount and LastAccessedAt are mutated on every retrieval, in the same
// storage transaction as the read.
type MemoryRecord struct {
	// ID is the surrogate identifier assigned by the store.
	ID string `json:"id"`

	// OwnerID is the user this fact belongs to.
	OwnerID string `json:"owner_id"`

	// BotID scopes the memory to one bot persona. Empty means the memory is
	// shared across all bots talking to this user.
	BotID string `json:"bot_id,omitempty"`

	// Summary is the free-text digest of the fact ("user's birthday is May 3").
	Summary string `json:"summary"`

	// UserMessage and AssistantMessage preserve the original turn.
	UserMessage      string `json:"user_message,omitempty"`
	AssistantMessage string `json:"assistant_message,omitempty"`

	// Importance is the tier the classifier assigned.
	Importance Importance `json:"importance"`

	// Category is the event category tag (preference, goal, ...).
	Category string `json:"category,omitempty"`

	// Keywords are the classifier's match terms, used by the fallback
	// retrieval path.
	Keywords []string `json:"keywords,omitempty"`

	// EventDate is the concrete date the fact refers to, when one was
	// mentioned ("my exam is on 2026-06-01").
	EventDate *time.Time `json:"event_date,omitempty"`

	// Embedding is the vector for Summary, absent until vectorization
	// succeeds. EmbeddingModel names the model that produced it.
	Embedding      []float64 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`

	// Active is the soft-delete flag.
	Active bool `json:"active"`

	// AccessCount and LastAccessedAt track retrieval usage.
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEmbedding reports whether the record carries a vector.
func (m *MemoryRecord) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// Classification is the importance classifier's verdict on one turn.
type Classification struct {
	// IsImportant gates persistence: false means the turn is not remembered.
	IsImportant bool `json:"is_important"`

	// Importance is the assigned tier, meaningful only when IsImportant.
	Importance Importance `json:"importance_level"`

	// Category is the event category tag.
	Category string `json:"event_type"`

	// Summary is the digest text that will be persisted and embedded.
	Summary string `json:"event_summary"`

	// Keywords are the matched or extracted terms.
	Keywords []string `json:"keywords"`

	// EventDate is a concrete date mentioned in the turn, if any.
	EventDate *time.Time `json:"-"`
}

// ConversationSummary is the structured digest of a window of mid-term turns.
type ConversationSummary struct {
	// SummaryText is the composed digest sentence.
	SummaryText string `json:"summary_text"`

	// KeyTopics are the detected topics, ordered by match frequency.
	KeyTopics []string `json:"key_topics"`

	// EmotionTrajectory labels the user's emotional arc across the window:
	// "mostly positive", "mostly negative", "fluctuating" or "steady".
	EmotionTrajectory string `json:"emotion_trajectory"`

	// UserNeeds are the detected needs (venting, advice, ...), ranked.
	UserNeeds []string `json:"user_needs"`

	// TurnRange is the 1-based range of user turns the digest covers.
	TurnRange [2]int `json:"turn_range"`

	// Method records how the digest was produced ("rules" or "model").
	Method string `json:"method,omitempty"`
}
