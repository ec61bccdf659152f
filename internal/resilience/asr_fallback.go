package resilience

import (
	"context"
	"strings"

	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ asr.Recognizer = (*ASRChain)(nil)

// ASRChain is an [asr.Recognizer] backed by an ordered group of recognizers.
// A run is served by the first healthy backend; a backend that fails with a
// retryable error costs only that run, and repeated failures open its breaker
// so later runs skip it outright. Progress callbacks pass through from
// whichever backend is serving the run.
type ASRChain struct {
	group *FallbackGroup[asr.Recognizer]
	name  string
}

// NewASRChain chains primary and fallbacks in order. The chain's Name joins
// the backend names, so job metadata shows the full failover order rather
// than which backend happened to serve.
func NewASRChain(cfg FallbackConfig, primary asr.Recognizer, fallbacks ...asr.Recognizer) *ASRChain {
	group := NewFallbackGroup(primary, primary.Name(), cfg)
	names := []string{primary.Name()}
	for _, f := range fallbacks {
		group.AddFallback(f.Name(), f)
		names = append(names, f.Name())
	}
	return &ASRChain{
		group: group,
		name:  strings.Join(names, ">"),
	}
}

// Transcribe implements [asr.Recognizer]. A fallback restarting after a
// mid-run primary failure would report progress from zero again, so the
// callback is clamped to stay non-decreasing across backends.
func (c *ASRChain) Transcribe(ctx context.Context, audio asr.Audio, cfg asr.Config, progress asr.ProgressFunc) (*types.TranscriptionResult, error) {
	progress = monotonic(progress)
	return ExecuteWithResult(c.group, func(r asr.Recognizer) (*types.TranscriptionResult, error) {
		return r.Transcribe(ctx, audio, cfg, progress)
	})
}

// monotonic wraps progress so reported values never regress.
func monotonic(progress asr.ProgressFunc) asr.ProgressFunc {
	if progress == nil {
		return nil
	}
	high := 0.0
	return func(pct float64) {
		if pct > high {
			high = pct
		}
		progress(high)
	}
}

// Name implements [asr.Recognizer].
func (c *ASRChain) Name() string {
	return c.name
}
