// Package tts defines the speech-synthesis Engine interface used by the
// voice-summary artifact generator.
//
// Unlike a conversational voice pipeline this is a batch contract: the
// generator hands over normalized text (see internal/ttsjob) and receives
// one decoded clip per call. Backends live in subpackages (xtts for an
// XTTS-compatible HTTP server, mock for tests).
package tts

import "context"

// Params tunes one synthesis call. Zero values select the backend defaults.
type Params struct {
	// Voice is the backend speaker or voice identifier.
	Voice string

	// Language is the ISO 639-1 code of the text.
	Language string

	// Speed is the speaking-rate multiplier; 1.0 is the native rate.
	Speed float64
}

// Clip is a decoded synthesis result: interleaved 16-bit little-endian PCM.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// DurationSec returns the play length of the clip in seconds.
func (c Clip) DurationSec() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.Channels
	return float64(samples) / float64(c.SampleRate)
}

// Engine is the abstraction over any batch speech-synthesis backend.
//
// Implementations must be safe for concurrent use, must honor ctx
// cancellation, and must classify failures: backend unavailability is
// retriable (types.KindTransient), empty input is not (types.KindValidation).
type Engine interface {
	// Synthesize renders text into one clip.
	Synthesize(ctx context.Context, text string, params Params) (*Clip, error)

	// Name identifies the backend in logs and artifact metadata.
	Name() string
}
