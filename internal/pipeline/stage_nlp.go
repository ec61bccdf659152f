package pipeline

import (
	"context"

	"github.com/aulavox/aulavox/pkg/recognizer/analyze"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ StageRunner = (*NLPStage)(nil)

// NLPStage runs the LLM lecture analysis over the corrected transcript.
type NLPStage struct {
	results  store.ResultStore
	analyzer analyze.Analyzer
}

// NewNLPStage builds the analysis stage runner.
func NewNLPStage(results store.ResultStore, a analyze.Analyzer) *NLPStage {
	return &NLPStage{results: results, analyzer: a}
}

// Stage implements StageRunner.
func (s *NLPStage) Stage() types.Stage { return types.StageNLP }

// Run implements StageRunner.
func (s *NLPStage) Run(ctx context.Context, env StageEnv) (any, error) {
	post, err := s.results.GetPostProcessing(ctx, env.Job.ID)
	if err != nil {
		return nil, priorResultErr("post-processing", env.Job.ID, err)
	}
	cfg := env.Preset.Analyze
	if cfg.Language != "" && env.Session.Language != "" {
		cfg.Language = env.Session.Language
	}
	result, err := s.analyzer.Analyze(ctx, post, cfg, analyze.ProgressFunc(env.Progress))
	if err != nil {
		return nil, err
	}
	result.JobID = env.Job.ID
	result.ClassSessionID = env.Session.ID
	return result, nil
}
