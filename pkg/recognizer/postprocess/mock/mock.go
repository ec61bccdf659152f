// Package mock provides a test double for the postprocess.PostProcessor
// interface.
//
// The zero value returns a small canned result over the input transcript;
// tests exercising retry behavior set Err and FailTimes to fail the first N
// calls before succeeding.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/recognizer/postprocess"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ postprocess.PostProcessor = (*Processor)(nil)

// Processor is a mock implementation of postprocess.PostProcessor.
type Processor struct {
	mu sync.Mutex

	// Result is returned on success. Nil yields a canned result that keeps
	// the input text unchanged and tags one entity.
	Result *types.PostProcessingResult

	// Err is returned by the first FailTimes calls. A zero FailTimes with a
	// non-nil Err fails every call.
	Err       error
	FailTimes int

	calls int
}

// Process records the call, honors the configured failures, and returns the
// canned result.
func (p *Processor) Process(ctx context.Context, transcription *types.TranscriptionResult, diarization *types.DiarizationResult, progress postprocess.ProgressFunc) (*types.PostProcessingResult, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	err := p.Err
	failTimes := p.FailTimes
	result := p.Result
	p.mu.Unlock()

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

	text := ""
	if transcription != nil {
		text = transcription.Text
	}
	out := &types.PostProcessingResult{
		CorrectedText: text,
		Corrections:   []types.Correction{},
		Entities: []types.MedicalEntity{
			{
				Term:       "miocardite",
				Detected:   "miocardite",
				Category:   types.CategoryPathology,
				Specialty:  "cardiologia",
				Confidence: 0.95,
			},
		},
		Glossary: []types.GlossaryEntry{
			{Term: "miocardite", Category: types.CategoryPathology, Specialty: "cardiologia", Occurrences: 1},
		},
		Activities: []types.ActivitySegment{
			{Start: 0, End: 60, Activity: types.ActivityIntro, Score: 1.0},
		},
		ProcessingTimeSec: 0.01,
		CreatedAt:         time.Now().UTC(),
	}
	if transcription != nil {
		out.JobID = transcription.JobID
		out.ClassSessionID = transcription.ClassSessionID
	}
	return out, nil
}

// Name identifies the mock in logs.
func (p *Processor) Name() string { return "mock" }

// CallCount returns how many times Process was invoked.
func (p *Processor) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
