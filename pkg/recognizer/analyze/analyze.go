// Package analyze defines the lecture-analysis stage contract.
//
// An Analyzer consumes the corrected, annotated transcript produced by the
// post-processing stage and derives the didactic view of the lecture: a
// summary, the key concepts, the chapter structure, the medical terminology
// with translations, and timestamped key moments. It also reports
// per-dimension quality scores for its own output and flags results that
// need human review.
//
// Backends live in subpackages (llmdriven for the language-model
// implementation, mock for tests) and are selected through the recognizer
// registry at bootstrap.
package analyze

import (
	"context"

	"github.com/aulavox/aulavox/pkg/types"
)

// DefaultLanguage is the output language used when Config.Language is empty.
// The lecture corpus is Italian.
const DefaultLanguage = "it"

// Config tunes a single analysis call. The zero value selects Italian output
// and the backend's defaults for everything else.
type Config struct {
	// Language is the ISO 639-1 code the summary, structure and key-moment
	// titles are written in. Empty selects DefaultLanguage.
	Language string

	// Temperature overrides the completion sampling temperature. Zero keeps
	// the backend default.
	Temperature float64

	// MaxConcepts caps the KeyConcepts list. Zero keeps the backend default.
	MaxConcepts int

	// MaxMoments caps the KeyMoments list. Zero keeps the backend default.
	MaxMoments int
}

// ProgressFunc receives stage progress in [0,1]. Implementations call it
// from the goroutine running Analyze; callers must not block in it.
type ProgressFunc func(pct float64)

// Analyzer is the abstraction over any lecture-analysis backend.
//
// Implementations must be safe for concurrent use, must honor ctx
// cancellation between model calls, and must set NeedsReview on the result
// per types.ReviewRequired.
type Analyzer interface {
	// Analyze derives the didactic view of the lecture from the
	// post-processing result. post must carry a non-empty corrected
	// transcript.
	//
	// progress may be nil. When non-nil it is invoked with non-decreasing
	// values and is guaranteed a final call with 1.0 on success.
	Analyze(ctx context.Context, post *types.PostProcessingResult, cfg Config, progress ProgressFunc) (*types.LLMAnalysisResult, error)

	// Name identifies the backend in logs and job metadata.
	Name() string
}
