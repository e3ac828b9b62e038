// Package contextbuild assembles the final prompt for a conversational turn.
// It splits raw history into short-term and mid-term windows, compresses the
// mid-term window into a summary, renders retrieved long-term memories, and
// merges everything with the bot persona into a single token-budgeted system
// message.
package contextbuild

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultShortTermRounds      = 5
	DefaultMidTermEnd           = 20
	DefaultMaxMemories          = 8
	DefaultMaxTotalTokens       = 8000
	DefaultReservedOutputTokens = 1000
	DefaultMaxSummaryLength     = 200
)

// perMessageOverhead is the fixed token cost added for each message's framing.
const perMessageOverhead = 4

// ErrNoCurrentMessage is returned by Build when the request carries no
// current user message. Everything else in a BuildRequest is optional.
var ErrNoCurrentMessage = errors.New("contextbuild: current message is empty")

// Config bounds the assembled prompt.
type Config struct {
	// ShortTermRounds is the number of most recent user rounds kept verbatim.
	ShortTermRounds int

	// MidTermEnd bounds the total window of rounds considered at all; rounds
	// older than MidTermEnd from the end are dropped outright. The mid-term
	// window therefore holds at most MidTermEnd-ShortTermRounds rounds.
	MidTermEnd int

	// MaxMemories caps how many retrieved memories are rendered.
	MaxMemories int

	// MaxTotalTokens and ReservedOutputTokens define the prompt budget:
	// the assembled messages must fit MaxTotalTokens-ReservedOutputTokens.
	MaxTotalTokens       int
	ReservedOutputTokens int

	// UseModelSummary routes mid-term summarization through the language
	// model instead of the rule-based path.
	UseModelSummary bool

	// MaxSummaryLength caps the summary text in runes.
	MaxSummaryLength int
}

func (c *Config) applyDefaults() {
	if c.ShortTermRounds <= 0 {
		c.ShortTermRounds = DefaultShortTermRounds
	}
	if c.MidTermEnd <= 0 {
		c.MidTermEnd = DefaultMidTermEnd
	}
	if c.MaxMemories <= 0 {
		c.MaxMemories = DefaultMaxMemories
	}
	if c.MaxTotalTokens <= 0 {
		c.MaxTotalTokens = DefaultMaxTotalTokens
	}
	if c.ReservedOutputTokens <= 0 {
		c.ReservedOutputTokens = DefaultReservedOutputTokens
	}
	if c.MaxSummaryLength <= 0 {
		c.MaxSummaryLength = DefaultMaxSummaryLength
	}
}

// Message is one entry of the assembled prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Summarizer compresses a window of turns into a structured digest. It must
// not fail; implementations degrade internally (see the summary package).
type Summarizer interface {
	Summarize(ctx context.Context, turns []types.ConversationTurn, useModel bool, maxLength int) types.ConversationSummary
}

// BuildRequest carries everything one prompt assembly needs. Only
// CurrentMessage is required.
type BuildRequest struct {
	// Persona is the bot's base system prompt, kept verbatim at the top.
	Persona string

	// History is the raw turn-by-turn dialogue, oldest first.
	History []types.ConversationTurn

	// CurrentMessage is the user message being answered.
	CurrentMessage string

	// Memories are long-term facts retrieved for this turn, already ranked.
	Memories []types.MemoryRecord

	// SummaryOverride, when set, is used instead of invoking the Summarizer.
	// Callers use it to reuse a digest computed on a prior turn.
	SummaryOverride *types.ConversationSummary

	// StrategyText is an externally supplied dialogue-strategy block.
	StrategyText string
}

// BuildResult is the assembled prompt plus bookkeeping for the caller.
type BuildResult struct {
	Messages      []Message
	TokenEstimate int
	Metadata      map[string]any
}

// Builder assembles prompts. Construct once and share; it holds no mutable
// state.
type Builder struct {
	summarizer Summarizer
	cfg        Config
}

// NewBuilder returns a Builder. summarizer may be nil, in which case mid-term
// turns are dropped without a recap block.
func NewBuilder(summarizer Summarizer, cfg Config) *Builder {
	cfg.applyDefaults()
	return &Builder{summarizer: summarizer, cfg: cfg}
}

// Build assembles the two-message prompt: one system message carrying the
// persona, memory and recap blocks, strategy, the short-term transcript and
// the reply-format instruction, then one user message with CurrentMessage.
//
// When the token estimate exceeds the budget, the oldest short-term rounds
// are dropped one at a time until the prompt fits. If it still does not fit
// with no short-term rounds left, the over-budget prompt is returned anyway;
// a degraded prompt beats no reply.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	if strings.TrimSpace(req.CurrentMessage) == "" {
		return BuildResult{}, ErrNoCurrentMessage
	}

	shortTerm, midTerm := b.splitHistory(req.History)

	summary := req.SummaryOverride
	if summary == nil && len(midTerm) > 0 && b.summarizer != nil {
		s := b.summarizer.Summarize(ctx, midTerm, b.cfg.UseModelSummary, b.cfg.MaxSummaryLength)
		summary = &s
	}

	memoryCount := len(req.Memories)
	if memoryCount > b.cfg.MaxMemories {
		memoryCount = b.cfg.MaxMemories
	}
	memoryBlock := formatMemories(req.Memories, b.cfg.MaxMemories)

	budget := b.cfg.MaxTotalTokens - b.cfg.ReservedOutputTokens
	truncated := 0
	messages := b.assemble(req, memoryBlock, summary, shortTerm)
	estimate := EstimateTokens(messages)
	for estimate > budget && len(shortTerm) > 0 {
		shortTerm = dropOldestRound(shortTerm)
		truncated++
		messages = b.assemble(req, memoryBlock, summary, shortTerm)
		estimate = EstimateTokens(messages)
	}
	if estimate > budget {
		log.Printf("context: estimate %d exceeds budget %d after dropping %d rounds, returning over-budget prompt",
			estimate, budget, truncated)
	} else if truncated > 0 {
		log.Printf("context: dropped %d oldest short-term rounds to fit budget %d", truncated, budget)
	}

	return BuildResult{
		Messages:      messages,
		TokenEstimate: estimate,
		Metadata: map[string]any{
			"short_term_count":     len(shortTerm),
			"mid_term_count":       len(midTerm),
			"has_mid_term_summary": summary != nil,
			"memory_count":         memoryCount,
			"truncated_rounds":     truncated,
		},
	}, nil
}

func (b *Builder) assemble(req BuildRequest, memoryBlock string, summary *types.ConversationSummary, short []types.ConversationTurn) []Message {
	system := b.composeSystemPrompt(req.Persona, memoryBlock, summary, req.StrategyText, short)
	return []Message{
		{Role: "system", Content: system},
		{Role: string(types.RoleUser), Content: req.CurrentMessage},
	}
}

// splitHistory divides history into the verbatim short-term window and the
// mid-term window destined for summarization. Windows are delimited by
// user-authored turns: a round starts at a user turn and runs up to the next
// one. Anything older than the mid-term window is dropped; the long-term
// path is the memory service, not raw history.
func (b *Builder) splitHistory(history []types.ConversationTurn) (short, mid []types.ConversationTurn) {
	userIdx := userTurnIndices(history)
	if len(userIdx) <= b.cfg.ShortTermRounds {
		return history, nil
	}

	cut := userIdx[len(userIdx)-b.cfg.ShortTermRounds]
	short = history[cut:]
	remainder := history[:cut]

	midRounds := b.cfg.MidTermEnd - b.cfg.ShortTermRounds
	if midRounds <= 0 {
		return short, nil
	}
	remIdx := userTurnIndices(remainder)
	if len(remIdx) == 0 {
		return short, nil
	}
	if len(remIdx) > midRounds {
		remainder = remainder[remIdx[len(remIdx)-midRounds]:]
	}
	return short, remainder
}

func userTurnIndices(turns []types.ConversationTurn) []int {
	var idx []int
	for i, t := range turns {
		if t.Role == types.RoleUser {
			idx = append(idx, i)
		}
	}
	return idx
}

// dropOldestRound removes the earliest user round from a short-term window.
// The window always starts at a user turn, so the next user turn marks the
// boundary; with a single round left the whole window goes.
func dropOldestRound(short []types.ConversationTurn) []types.ConversationTurn {
	for i := 1; i < len(short); i++ {
		if short[i].Role == types.RoleUser {
			return short[i:]
		}
	}
	return nil
}

// formatMemories renders up to max memories as bullet lines, each with its
// summary text and, when known, the event date.
func formatMemories(memories []types.MemoryRecord, max int) string {
	if len(memories) == 0 {
		return ""
	}
	if len(memories) > max {
		memories = memories[:max]
	}
	var sb strings.Builder
	for i, m := range memories {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(m.Summary)
		if m.EventDate != nil {
			sb.WriteString(" (")
			sb.WriteString(m.EventDate.Format(time.DateOnly))
			sb.WriteString(")")
		}
	}
	return sb.String()
}

// EstimateTokens approximates the token cost of a message list. Characters in
// the CJK unified range weigh 1.5 characters per token, everything else 4,
// rounded to the nearest integer, plus a fixed per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		cjk, other := 0, 0
		for _, r := range msg.Content {
			if r >= 0x4E00 && r <= 0x9FFF {
				cjk++
			} else {
				other++
			}
		}
		total += int(math.Round(float64(cjk)/1.5+float64(other)/4)) + perMessageOverhead
	}
	return total
}

// BudgetInfo reports how a build result sits against the configured budget.
func (b *Builder) BudgetInfo(result BuildResult) map[string]any {
	available := b.cfg.MaxTotalTokens - b.cfg.ReservedOutputTokens
	return map[string]any{
		"estimated_tokens":      result.TokenEstimate,
		"max_tokens":            b.cfg.MaxTotalTokens,
		"reserved_for_output":   b.cfg.ReservedOutputTokens,
		"available_for_context": available,
		"usage_percentage":      float64(result.TokenEstimate) / float64(available) * 100,
	}
}
