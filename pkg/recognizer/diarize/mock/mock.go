// Package mock provides a test double for the diarize.Diarizer interface.
//
// The zero value returns a canned two-speaker lecture with the professor
// dominant; the role assignment and separation quality are computed with the
// contract package's shared heuristics so tests downstream see realistic
// values.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ diarize.Diarizer = (*Diarizer)(nil)

// Call records a single invocation of Diarize.
type Call struct {
	Ref    string
	Config diarize.Config
}

// Diarizer is a mock implementation of diarize.Diarizer.
type Diarizer struct {
	mu sync.Mutex

	// Result is returned on success. Nil yields the canned two-speaker
	// result.
	Result *types.DiarizationResult

	// Err is returned by the first FailTimes calls. A zero FailTimes with a
	// non-nil Err fails every call.
	Err       error
	FailTimes int

	// Calls records every invocation in order.
	Calls []Call
}

// Diarize records the call and returns the configured or canned result.
func (d *Diarizer) Diarize(ctx context.Context, audio diarize.Audio, cfg diarize.Config, progress diarize.ProgressFunc) (*types.DiarizationResult, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, Call{Ref: audio.Ref, Config: cfg})
	n := len(d.Calls)
	err := d.Err
	failTimes := d.FailTimes
	result := d.Result
	d.mu.Unlock()

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

	segments := []types.SpeakerSegment{
		{Start: 0, End: 40, SpeakerID: "SPEAKER_00", Confidence: 0.94},
		{Start: 40, End: 45, SpeakerID: "SPEAKER_01", Confidence: 0.88},
		{Start: 45, End: 90, SpeakerID: "SPEAKER_00", Confidence: 0.93},
	}
	embeddings := map[string][]float32{
		"SPEAKER_00": {1, 0, 0, 0},
		"SPEAKER_01": {0, 1, 0, 0},
	}
	return &types.DiarizationResult{
		SpeakerCount:      2,
		Segments:          segments,
		Embeddings:        embeddings,
		Roles:             diarize.AssignRoles(segments),
		SeparationQuality: diarize.SeparationQuality(embeddings),
		Model:             cfg.Model,
		ProcessingTimeSec: 0.01,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// Name identifies the mock in logs.
func (d *Diarizer) Name() string { return "mock" }

// CallCount returns how many times Diarize was invoked.
func (d *Diarizer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
