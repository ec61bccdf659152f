// Package postprocess defines the post-processing stage contract.
//
// A PostProcessor consumes the transcription and diarization results of a
// lecture and produces the corrected transcript, the medical entities found
// in it, the class glossary and a pedagogical segmentation of the lecture
// timeline. Backends live in subpackages (medlex for the lexicon-driven
// implementation, mock for tests) and are selected through the recognizer
// registry at bootstrap.
package postprocess

import (
	"context"

	"github.com/aulavox/aulavox/pkg/types"
)

// ProgressFunc receives stage progress in [0,1]. Implementations call it
// from the goroutine running Process; callers must not block in it.
type ProgressFunc func(pct float64)

// PostProcessor corrects and annotates a transcribed lecture.
//
// Implementations must be safe for concurrent use and must be idempotent:
// processing the same inputs twice yields the same corrected text and the
// same entity set.
type PostProcessor interface {
	// Process runs the correction and annotation passes over the
	// transcription, using the diarization for speaker-aware segmentation
	// signals. diarization may be nil when the stage ran without speaker
	// separation.
	//
	// progress may be nil. Cancellation is cooperative: ctx is checked
	// between passes and the result row is not returned once ctx is done.
	Process(ctx context.Context, transcription *types.TranscriptionResult, diarization *types.DiarizationResult, progress ProgressFunc) (*types.PostProcessingResult, error)

	// Name identifies the backend in logs and job metadata.
	Name() string
}
