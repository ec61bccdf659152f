// Package llmdriven implements the analysis stage on top of a chat
// completion model.
//
// The Analyzer builds a structured prompt from the corrected transcript, the
// activity outline and the lexicon-confirmed terminology, asks the
// llm.Provider for a strict-JSON reply, and validates the reply against the
// expected schema. Transcripts that do not fit the model's context window
// are condensed first: the text is split at sentence boundaries, each part
// is digested by a plain completion, and the structured analysis runs over
// the concatenated digests.
//
// Quality scores combine the model's self-report with structural heuristics
// (see scoreQuality); NeedsReview follows types.ReviewRequired. A reply that
// stays unparseable after the configured attempts is an external failure,
// not a retriable one: the stage worker owns transport-level retries, the
// analyzer only re-asks when the transport succeeded but the payload was
// malformed.
package llmdriven

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/recognizer/analyze"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	defaultTemperature   = 0.2
	defaultParseAttempts = 2
	defaultMaxConcepts   = 12
	defaultMaxMoments    = 10

	// promptOverheadTokens reserves context-window room for the system
	// prompt, message framing and counting error.
	promptOverheadTokens = 1024

	// charsPerToken converts a token budget into a chunk size. Deliberately
	// below the ~4 chars/token estimate so chunks err on the small side.
	charsPerToken = 3
)

var _ analyze.Analyzer = (*Analyzer)(nil)

// Option is a functional option for configuring an Analyzer.
type Option func(*Analyzer)

// WithTemperature sets the default sampling temperature used when the call
// config does not override it. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(a *Analyzer) {
		a.temperature = temp
	}
}

// WithParseAttempts sets how many completions are tried when the model
// returns a reply that does not parse against the schema. Default: 2.
func WithParseAttempts(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.parseAttempts = n
		}
	}
}

// Analyzer derives the didactic lecture view via a chat completion model.
// It is safe for concurrent use.
type Analyzer struct {
	llm           llm.Provider
	temperature   float64
	parseAttempts int
}

// New returns an Analyzer backed by the given provider. Model selection
// follows the one-provider-per-model pattern: construct the provider with
// the desired model rather than overriding per request.
func New(provider llm.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		llm:           provider,
		temperature:   defaultTemperature,
		parseAttempts: defaultParseAttempts,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements analyze.Analyzer.
func (a *Analyzer) Name() string { return "llmdriven" }

// Analyze implements analyze.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, post *types.PostProcessingResult, cfg analyze.Config, progress analyze.ProgressFunc) (*types.LLMAnalysisResult, error) {
	start := time.Now()
	if post == nil || strings.TrimSpace(post.CorrectedText) == "" {
		return nil, types.Errorf(types.KindValidation, "llmdriven: empty corrected transcript")
	}
	report := func(pct float64) {
		if progress != nil {
			progress(pct)
		}
	}

	lang := cfg.Language
	if lang == "" {
		lang = analyze.DefaultLanguage
	}
	maxConcepts := cfg.MaxConcepts
	if maxConcepts <= 0 {
		maxConcepts = defaultMaxConcepts
	}
	maxMoments := cfg.MaxMoments
	if maxMoments <= 0 {
		maxMoments = defaultMaxMoments
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = a.temperature
	}

	sysPrompt := buildSystemPrompt(lang, maxConcepts, maxMoments)
	userMsg := buildUserMessage(post, post.CorrectedText, false)
	report(0.05)

	if budget := a.inputBudget(); budget > 0 {
		used, err := a.llm.CountTokens([]llm.Message{
			{Role: "system", Content: sysPrompt},
			{Role: "user", Content: userMsg},
		})
		if err != nil {
			used = llm.EstimateTokens([]llm.Message{{Content: sysPrompt}, {Content: userMsg}})
		}
		if used > budget {
			condensed, err := a.condense(ctx, post.CorrectedText, lang, budget, report)
			if err != nil {
				return nil, err
			}
			userMsg = buildUserMessage(post, condensed, true)
		}
	}

	req := llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Temperature:  temp,
		JSONMode:     true,
		Messages:     []llm.Message{{Role: "user", Content: userMsg}},
	}

	var parsed *analysisResponse
	var parseErr error
	for attempt := 0; attempt < a.parseAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		resp, err := a.llm.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.ErrCancelled
			}
			return nil, fmt.Errorf("llmdriven: complete: %w", err)
		}
		parsed, parseErr = parseAnalysis(resp.Content)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return nil, types.Errorf(types.KindExternal, "llmdriven: model reply unparseable after %d attempts: %v", a.parseAttempts, parseErr)
	}
	report(0.9)

	out := toResult(parsed, maxConcepts, maxMoments)
	out.JobID = post.JobID
	out.ClassSessionID = post.ClassSessionID
	out.Quality = scoreQuality(parsed.Quality, out, post)
	out.NeedsReview = types.ReviewRequired(out.Quality)
	out.Model = modelLabel(a.llm.Info())
	out.ProcessingTimeSec = time.Since(start).Seconds()
	out.CreatedAt = time.Now().UTC()
	report(1.0)
	return out, nil
}

// inputBudget is the token room available for the analysis input. Zero means
// the window is unknown and chunking is skipped.
func (a *Analyzer) inputBudget() int {
	info := a.llm.Info()
	if info.ContextWindow <= 0 {
		return 0
	}
	budget := info.ContextWindow - info.MaxOutputTokens - promptOverheadTokens
	if budget < 0 {
		return 0
	}
	return budget
}

// condense digests an oversized transcript chunk by chunk so the structured
// analysis input fits the budget. Progress advances from 0.05 to 0.6 across
// chunks.
func (a *Analyzer) condense(ctx context.Context, transcript, lang string, budget int, report func(float64)) (string, error) {
	chunks := splitTranscript(transcript, budget*charsPerToken)
	digests := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return "", types.ErrCancelled
		}
		resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: fmt.Sprintf(chunkPromptTemplate, i+1, len(chunks), lang),
			Temperature:  a.temperature,
			Messages:     []llm.Message{{Role: "user", Content: chunk}},
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", types.ErrCancelled
			}
			return "", fmt.Errorf("llmdriven: condense part %d/%d: %w", i+1, len(chunks), err)
		}
		digest := strings.TrimSpace(resp.Content)
		if digest == "" {
			return "", types.Errorf(types.KindExternal, "llmdriven: empty digest for part %d/%d", i+1, len(chunks))
		}
		digests = append(digests, digest)
		report(0.05 + 0.55*float64(i+1)/float64(len(chunks)))
	}
	return strings.Join(digests, "\n\n"), nil
}

// modelLabel formats provider and model for the result's Model field.
func modelLabel(info llm.ModelInfo) string {
	if info.Provider == "" {
		return info.Model
	}
	if info.Model == "" {
		return info.Provider
	}
	return info.Provider + "/" + info.Model
}
