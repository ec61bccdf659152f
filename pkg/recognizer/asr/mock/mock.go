// Package mock provides a test double for the asr.Recognizer interface.
//
// The zero value returns a small canned Italian lecture transcript; tests
// exercising retry behavior set Err and FailTimes to fail the first N calls
// before succeeding.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ asr.Recognizer = (*Recognizer)(nil)

// Call records a single invocation of Transcribe.
type Call struct {
	Ref    string
	Config asr.Config
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned on success. Nil yields a canned transcript.
	Result *types.TranscriptionResult

	// Err is returned by the first FailTimes calls. A zero FailTimes with a
	// non-nil Err fails every call.
	Err       error
	FailTimes int

	// ProgressSteps are forwarded to the progress callback before returning.
	// Nil defaults to [0.5, 1.0].
	ProgressSteps []float64

	// Calls records every invocation in order.
	Calls []Call
}

// Transcribe records the call, honors the configured failures, and returns
// the canned result.
func (r *Recognizer) Transcribe(ctx context.Context, audio asr.Audio, cfg asr.Config, progress asr.ProgressFunc) (*types.TranscriptionResult, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Ref: audio.Ref, Config: cfg})
	n := len(r.Calls)
	err := r.Err
	failTimes := r.FailTimes
	result := r.Result
	steps := r.ProgressSteps
	r.mu.Unlock()

	if ctx.Err() != nil {
		return nil, types.ErrCancelled
	}
	if err != nil && (failTimes == 0 || n <= failTimes) {
		return nil, err
	}

	if steps == nil {
		steps = []float64{0.5, 1.0}
	}
	if progress != nil {
		for _, pct := range steps {
			progress(pct)
		}
	}

	if result != nil {
		out := *result
		return &out, nil
	}
	return &types.TranscriptionResult{
		Text: "Buongiorno a tutti. Oggi parliamo di miocardite e insufficienza cardiaca.",
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 2.4, Text: "Buongiorno a tutti.", Confidence: 0.95},
			{Start: 2.6, End: 6.8, Text: "Oggi parliamo di miocardite e insufficienza cardiaca.", Confidence: 0.91},
		},
		Language:          "it",
		Confidence:        0.92,
		AudioDurationSec:  audio.DurationSec(),
		Model:             cfg.Model,
		ProcessingTimeSec: 0.01,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// Name identifies the mock in logs.
func (r *Recognizer) Name() string { return "mock" }

// CallCount returns how many times Transcribe was invoked.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
