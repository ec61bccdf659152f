// Package memo generates question/answer study cards from the artifacts of
// a processed lecture.
//
// The Generator prompts a chat completion model with the analysis summary,
// the lexicon glossary and the researched terminology, asks for a
// strict-JSON deck, and validates every card: declared type and difficulty,
// question and answer length bounds, and a minimum number of medical
// keywords drawn from the lecture's own vocabulary. Cards failing validation
// are dropped, not fixed. A reply that stays unparseable after the
// configured attempts is an external failure, mirroring the analysis stage.
//
// The material sent to the model is already condensed (summary plus bounded
// lists), so no context-window chunking is needed here.
package memo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/types"
)

// DefaultLanguage is the card language used when Inputs does not name one.
const DefaultLanguage = "it"

const (
	defaultTemperature   = 0.3
	defaultParseAttempts = 2
	defaultMaxCards      = 30
)

// Option is a functional option for configuring a Generator.
type Option func(*Generator)

// WithTemperature sets the sampling temperature for deck generation.
// Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(g *Generator) {
		g.temperature = temp
	}
}

// WithParseAttempts sets how many completions are tried when the model
// returns a reply that does not parse against the schema. Default: 2.
func WithParseAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.parseAttempts = n
		}
	}
}

// WithMaxCards caps the validated deck size. Default: 30.
func WithMaxCards(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxCards = n
		}
	}
}

// WithClock overrides the time source used to stamp cards.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// Inputs bundles the upstream artifacts a deck is generated from. Analysis
// is required; post-processing and research results widen the keyword
// vocabulary and give the model better material.
type Inputs struct {
	Analysis *types.LLMAnalysisResult
	Post     *types.PostProcessingResult
	Research []types.ResearchResult

	// Language is the ISO 639-1 card language. Empty means DefaultLanguage.
	Language string
}

// Generator derives micro-memo decks via a chat completion model. It is safe
// for concurrent use.
type Generator struct {
	llm           llm.Provider
	temperature   float64
	parseAttempts int
	maxCards      int
	now           func() time.Time
}

// New returns a Generator backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:           provider,
		temperature:   defaultTemperature,
		parseAttempts: defaultParseAttempts,
		maxCards:      defaultMaxCards,
		now:           time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate produces the validated deck for one lecture. Cards the model
// proposed but that fail validation are dropped silently from the result;
// an empty deck with a nil error means nothing survived.
func (g *Generator) Generate(ctx context.Context, in Inputs) ([]types.MicroMemo, error) {
	if in.Analysis == nil || strings.TrimSpace(in.Analysis.Summary) == "" {
		return nil, types.Errorf(types.KindValidation, "memo: analysis with a summary is required")
	}
	vocab := BuildVocabulary(in)
	if len(vocab) == 0 {
		return nil, types.Errorf(types.KindValidation, "memo: inputs carry no medical vocabulary")
	}
	lang := in.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(lang, g.maxCards),
		Temperature:  g.temperature,
		JSONMode:     true,
		Messages:     []llm.Message{{Role: "user", Content: buildUserMessage(in)}},
	}

	var parsed *deckResponse
	var parseErr error
	for attempt := 0; attempt < g.parseAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		resp, err := g.llm.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.ErrCancelled
			}
			return nil, fmt.Errorf("memo: complete: %w", err)
		}
		parsed, parseErr = parseDeck(resp.Content)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return nil, types.Errorf(types.KindExternal, "memo: model reply unparseable after %d attempts: %v", g.parseAttempts, parseErr)
	}

	now := g.now().UTC()
	memos := make([]types.MicroMemo, 0, len(parsed.Cards))
	dropped := 0
	for _, c := range parsed.Cards {
		if len(memos) == g.maxCards {
			break
		}
		m := c.memo(in.Analysis.ClassSessionID, now)
		if err := ValidateCard(m, vocab); err != nil {
			dropped++
			slog.Debug("memo card dropped", "type", m.Type, "reason", err)
			continue
		}
		memos = append(memos, m)
	}
	if dropped > 0 {
		slog.Debug("memo deck validated",
			"class_session_id", in.Analysis.ClassSessionID,
			"kept", len(memos),
			"dropped", dropped)
	}
	return memos, nil
}
