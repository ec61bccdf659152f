// Package mock provides a test double for the analyze.Analyzer interface.
//
// The zero value returns a small canned analysis; tests exercising retry
// behavior set Err and FailTimes to fail the first N calls before
// succeeding.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/recognizer/analyze"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ analyze.Analyzer = (*Analyzer)(nil)

// Analyzer is a mock implementation of analyze.Analyzer.
type Analyzer struct {
	mu sync.Mutex

	// Result is returned on success. Nil yields a canned cardiology
	// analysis with quality scores above the review thresholds.
	Result *types.LLMAnalysisResult

	// Err is returned by the first FailTimes calls. A zero FailTimes with a
	// non-nil Err fails every call.
	Err       error
	FailTimes int

	calls int
}

// Analyze records the call, honors the configured failures, and returns the
// canned result.
func (a *Analyzer) Analyze(ctx context.Context, post *types.PostProcessingResult, _ analyze.Config, progress analyze.ProgressFunc) (*types.LLMAnalysisResult, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	err := a.Err
	failTimes := a.FailTimes
	result := a.Result
	a.mu.Unlock()

	if ctx.Err() != nil {
		return nil, types.ErrCancelled
	}
	if err != nil && (failTimes == 0 || n <= failTimes) {
		return nil, err
	}

	if progress != nil {
		progress(0.5)
		progress(1.0)
	}

	if result != nil {
		out := *result
		return &out, nil
	}

	quality := types.QualityScores{
		Confidence:       0.9,
		Coherence:        0.85,
		Completeness:     0.8,
		MedicalRelevance: 0.95,
	}
	out := &types.LLMAnalysisResult{
		Summary:     "Lezione introduttiva sulla miocardite: definizione, eziologia virale e percorso diagnostico.",
		KeyConcepts: []string{"miocardite", "eziologia virale", "diagnosi differenziale"},
		Structure: []types.StructureSection{
			{Title: "Introduzione", StartSec: 0, Summary: "Presentazione del caso clinico."},
			{Title: "Eziologia", StartSec: 300, Summary: "Cause virali e autoimmuni."},
		},
		Terminology: []types.TerminologyEntry{
			{
				Term:         "miocardite",
				Definition:   "Infiammazione del miocardio.",
				Translations: types.Translations{IT: "miocardite", ES: "miocarditis", EN: "myocarditis"},
			},
		},
		KeyMoments: []types.KeyMoment{
			{TimeSec: 120, Title: "Definizione di miocardite"},
		},
		Quality:     quality,
		NeedsReview: types.ReviewRequired(quality),
		Model:       "mock/canned",
		CreatedAt:   time.Now().UTC(),
	}
	if post != nil {
		out.JobID = post.JobID
		out.ClassSessionID = post.ClassSessionID
	}
	return out, nil
}

// Name implements analyze.Analyzer.
func (a *Analyzer) Name() string { return "mock" }

// CallCount reports how many times Analyze has been invoked.
func (a *Analyzer) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
