// Package mock provides a test double for the tts.Engine interface.
package mock

import (
	"context"
	"sync"

	"github.com/aulavox/aulavox/pkg/tts"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ tts.Engine = (*Engine)(nil)

// Engine is a mock implementation of tts.Engine.
type Engine struct {
	mu sync.Mutex

	// Clip is returned on success. Nil yields a short silent mono clip at
	// 24 kHz whose length scales with the input text.
	Clip *tts.Clip

	// Err is returned by the first FailTimes calls. A zero FailTimes with a
	// non-nil Err fails every call.
	Err       error
	FailTimes int

	texts []string
}

// Synthesize records the text and returns the canned clip.
func (e *Engine) Synthesize(ctx context.Context, text string, _ tts.Params) (*tts.Clip, error) {
	e.mu.Lock()
	e.texts = append(e.texts, text)
	n := len(e.texts)
	err := e.Err
	failTimes := e.FailTimes
	clip := e.Clip
	e.mu.Unlock()

	if ctx.Err() != nil {
		return nil, types.ErrCancelled
	}
	if err != nil && (failTimes == 0 || n <= failTimes) {
		return nil, err
	}

	if clip != nil {
		out := *clip
		return &out, nil
	}

	// 10 ms of silence per input rune keeps durations text-dependent
	// without synthesizing anything.
	const rate = 24000
	samples := len([]rune(text)) * rate / 100
	if samples == 0 {
		samples = rate / 100
	}
	return &tts.Clip{
		PCM:        make([]byte, samples*2),
		SampleRate: rate,
		Channels:   1,
	}, nil
}

// Name implements tts.Engine.
func (e *Engine) Name() string { return "mock" }

// Texts returns a copy of every text Synthesize received.
func (e *Engine) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}
