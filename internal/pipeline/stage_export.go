package pipeline

import (
	"context"

	"github.com/aulavox/aulavox/pkg/types"
)

// Exporter generates the study artifacts of a finished analysis: micro-memos,
// export bundles in the configured formats and, when enabled, synthesized
// audio. Implementations persist their rows and objects themselves and report
// progress in [0,1] through the callback.
type Exporter interface {
	Export(ctx context.Context, job *types.ProcessingJob, session *types.ClassSession, progress func(pct float64)) error
}

var _ StageRunner = (*ExportStage)(nil)

// ExportStage drives the exporter. Like research, the stage persists no
// result row; artifacts land in their own tables and buckets.
type ExportStage struct {
	exporter Exporter
}

// NewExportStage builds the artifact generation stage runner.
func NewExportStage(e Exporter) *ExportStage {
	return &ExportStage{exporter: e}
}

// Stage implements StageRunner.
func (s *ExportStage) Stage() types.Stage { return types.StageExport }

// Run implements StageRunner.
func (s *ExportStage) Run(ctx context.Context, env StageEnv) (any, error) {
	if err := s.exporter.Export(ctx, env.Job, env.Session, env.Progress); err != nil {
		return nil, err
	}
	return nil, nil
}
