package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aulavox/aulavox/pkg/recognizer/postprocess"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ StageRunner = (*PostprocessStage)(nil)

// PostprocessStage corrects the raw transcript against the medical lexicon
// and aligns it with the speaker turns. It consumes the transcription and
// diarization rows persisted by the job's earlier stages.
type PostprocessStage struct {
	results   store.ResultStore
	processor postprocess.PostProcessor
}

// NewPostprocessStage builds the post-processing stage runner.
func NewPostprocessStage(results store.ResultStore, p postprocess.PostProcessor) *PostprocessStage {
	return &PostprocessStage{results: results, processor: p}
}

// Stage implements StageRunner.
func (s *PostprocessStage) Stage() types.Stage { return types.StagePostprocess }

// Run implements StageRunner.
func (s *PostprocessStage) Run(ctx context.Context, env StageEnv) (any, error) {
	transcription, err := s.results.GetTranscription(ctx, env.Job.ID)
	if err != nil {
		return nil, priorResultErr("transcription", env.Job.ID, err)
	}
	diarization, err := s.results.GetDiarization(ctx, env.Job.ID)
	if err != nil {
		return nil, priorResultErr("diarization", env.Job.ID, err)
	}
	result, err := s.processor.Process(ctx, transcription, diarization, postprocess.ProgressFunc(env.Progress))
	if err != nil {
		return nil, err
	}
	result.JobID = env.Job.ID
	result.ClassSessionID = env.Session.ID
	return result, nil
}

// priorResultErr wraps a failed lookup of an earlier stage's result row. A
// missing row means the sequential-stages invariant was broken upstream, so
// it surfaces as an invalid state rather than a not-found.
func priorResultErr(what, jobID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return types.WithKind(types.KindInvalidState,
			fmt.Errorf("pipeline: %s result for job %s missing: %w", what, jobID, err))
	}
	return types.WithKind(types.KindTransient,
		fmt.Errorf("pipeline: load %s result for job %s: %w", what, jobID, err))
}
