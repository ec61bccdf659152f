// Package asr defines the Recognizer interface for speech-to-text backends.
//
// An ASR recognizer consumes a fully assembled lecture recording and returns
// a TranscriptionResult: the complete transcript, per-segment timings, an
// optional word-level alignment, the detected language, and a global
// confidence in [0,1]. Unlike a live captioning pipeline this is a batch
// contract; the recording is already on disk (or in the object store) when
// Transcribe is called.
//
// Callers never assemble a Config by hand. They pick a named Preset and
// resolve it with ConfigFor; presets are immutable value records fixing the
// model identifier, beam size, temperature fallback schedule, VAD parameters,
// word-timestamp flag, and initial prompt.
//
// Implementations must be safe for concurrent use, though GPU-backed ones are
// typically run as per-process singletons with queue prefetch bounding the
// parallelism.
package asr

import (
	"context"
	"fmt"

	"github.com/aulavox/aulavox/pkg/types"
)

// Preset names a pre-tuned transcription parameter bundle.
type Preset string

const (
	// PresetHighPrecision maximizes accuracy at the cost of throughput.
	// Large model, wide beam, single-temperature decode.
	PresetHighPrecision Preset = "HIGH_PRECISION"

	// PresetBalanced is the default trade-off for lecture-length audio.
	PresetBalanced Preset = "BALANCED"

	// PresetFast favors turnaround for previews and smoke runs.
	PresetFast Preset = "FAST"

	// PresetMultilingualAuto disables the language hint so the model detects
	// the spoken language itself. Used for guest lectures not held in
	// Italian.
	PresetMultilingualAuto Preset = "MULTILINGUAL_AUTO"
)

// Presets lists all valid preset names in a stable order.
var Presets = []Preset{
	PresetHighPrecision,
	PresetBalanced,
	PresetFast,
	PresetMultilingualAuto,
}

// IsValid reports whether p is a declared preset.
func (p Preset) IsValid() bool {
	for _, v := range Presets {
		if v == p {
			return true
		}
	}
	return false
}

// VADParams tunes the voice-activity detector that trims silence before
// decoding. Backends without a VAD stage ignore these.
type VADParams struct {
	// Enabled turns silence trimming on.
	Enabled bool

	// Threshold is the speech probability above which a frame counts as
	// voiced, in [0,1].
	Threshold float64

	// MinSilenceMs is the minimum silence run, in milliseconds, that splits
	// two speech intervals.
	MinSilenceMs int
}

// Config is the resolved, immutable parameter set handed to a Recognizer.
// Obtain one from ConfigFor; the zero value is not a valid configuration.
type Config struct {
	// Preset records which named preset this config was resolved from.
	Preset Preset

	// Model is the backend-specific model identifier (e.g. "large-v3").
	Model string

	// Language is the ISO 639-1 hint for recognition. Empty means the
	// backend auto-detects.
	Language string

	// BeamSize is the decoder beam width. 1 selects greedy decoding.
	BeamSize int

	// Temperatures is the fallback schedule: decoding starts at the first
	// value and retries with each next one when the decoder output degrades.
	Temperatures []float64

	// VAD configures silence trimming.
	VAD VADParams

	// WordTimestamps requests per-word alignment in the result.
	WordTimestamps bool

	// InitialPrompt biases the decoder vocabulary. Lecture presets carry an
	// Italian clinical context sentence.
	InitialPrompt string
}

// italianMedicalPrompt primes the decoder for clinical vocabulary. Shared by
// the presets that fix the lecture language to Italian.
const italianMedicalPrompt = "Lezione universitaria di medicina in italiano. " +
	"Terminologia clinica: anatomia, patologia, farmacologia, diagnosi e terapia."

// ConfigFor resolves a preset name into its immutable parameter set.
// Unknown presets return an error rather than a guessed default.
func ConfigFor(preset Preset) (Config, error) {
	switch preset {
	case PresetHighPrecision:
		return Config{
			Preset:         preset,
			Model:          "large-v3",
			Language:       "it",
			BeamSize:       10,
			Temperatures:   []float64{0.0},
			VAD:            VADParams{Enabled: true, Threshold: 0.5, MinSilenceMs: 500},
			WordTimestamps: true,
			InitialPrompt:  italianMedicalPrompt,
		}, nil
	case PresetBalanced:
		return Config{
			Preset:         preset,
			Model:          "medium",
			Language:       "it",
			BeamSize:       5,
			Temperatures:   []float64{0.0, 0.2, 0.4},
			VAD:            VADParams{Enabled: true, Threshold: 0.5, MinSilenceMs: 500},
			WordTimestamps: true,
			InitialPrompt:  italianMedicalPrompt,
		}, nil
	case PresetFast:
		return Config{
			Preset:       preset,
			Model:        "base",
			Language:     "it",
			BeamSize:     1,
			Temperatures: []float64{0.0, 0.4},
			VAD:          VADParams{Enabled: true, Threshold: 0.6, MinSilenceMs: 300},
		}, nil
	case PresetMultilingualAuto:
		return Config{
			Preset:         preset,
			Model:          "large-v3",
			Language:       "", // auto-detect
			BeamSize:       5,
			Temperatures:   []float64{0.0, 0.2, 0.4},
			VAD:            VADParams{Enabled: true, Threshold: 0.5, MinSilenceMs: 500},
			WordTimestamps: true,
		}, nil
	default:
		return Config{}, fmt.Errorf("asr: unknown preset %q", preset)
	}
}

// Audio is the decoded recording handed to a Recognizer. The stage worker
// fetches the assembled file from the object store and decodes it to PCM
// before invoking the recognizer, so backends never touch storage directly.
type Audio struct {
	// Ref is the object-store key the recording was fetched from. Carried
	// for logging and error context only.
	Ref string

	// PCM is interleaved 16-bit little-endian PCM.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz, typically 16000 after the
	// worker's downmix.
	SampleRate int

	// Channels is the channel count of PCM. Backends that require mono
	// downmix internally.
	Channels int
}

// DurationSec returns the play length of the PCM buffer in seconds.
func (a Audio) DurationSec() float64 {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / 2 / a.Channels
	return float64(samples) / float64(a.SampleRate)
}

// ProgressFunc receives coarse progress in [0,1] while a transcription runs.
// Implementations call it from the decoding goroutine; callbacks must return
// quickly. A nil ProgressFunc is always permitted.
type ProgressFunc func(pct float64)

// Recognizer is the abstraction over any batch speech-to-text backend.
//
// Implementations must honor ctx cancellation between decoding units and
// must classify failures: temporary backend unavailability and resource
// exhaustion are marked retriable (types.KindTransient), malformed audio is
// not (types.KindValidation).
type Recognizer interface {
	// Transcribe runs recognition over the whole recording and returns the
	// transcript. The returned segments cover [0, duration] without overlap;
	// gaps are permitted where the VAD removed silence.
	//
	// progress may be nil. When non-nil it is invoked with non-decreasing
	// values and is guaranteed a final call with 1.0 on success.
	Transcribe(ctx context.Context, audio Audio, cfg Config, progress ProgressFunc) (*types.TranscriptionResult, error)

	// Name identifies the backend in logs and job metadata (e.g.
	// "whisperd", "whisperlocal").
	Name() string
}
