package pipeline

import (
	"context"

	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ StageRunner = (*ResearchStage)(nil)

// ResearchStage enriches the analyzed terminology with sourced definitions.
// The researcher persists its batch job and per-term rows incrementally, so
// this stage returns no result row of its own; completion only records the
// marker and advances the session.
type ResearchStage struct {
	results    store.ResultStore
	researcher research.Researcher
}

// NewResearchStage builds the research stage runner.
func NewResearchStage(results store.ResultStore, r research.Researcher) *ResearchStage {
	return &ResearchStage{results: results, researcher: r}
}

// Stage implements StageRunner.
func (s *ResearchStage) Stage() types.Stage { return types.StageResearch }

// Run implements StageRunner.
func (s *ResearchStage) Run(ctx context.Context, env StageEnv) (any, error) {
	analysis, err := s.results.GetLLMAnalysis(ctx, env.Job.ID)
	if err != nil {
		return nil, priorResultErr("llm analysis", env.Job.ID, err)
	}
	cfg, err := research.ConfigFor(env.Preset.Research)
	if err != nil {
		return nil, types.WithKind(types.KindConfiguration, err)
	}
	if cfg.Language != "" && env.Session.Language != "" {
		cfg.Language = env.Session.Language
	}
	_, _, err = s.researcher.Research(ctx, analysis, cfg, func(p research.Progress) {
		env.Progress(p.Pct)
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}
