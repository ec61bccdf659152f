package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// Persistence cadence for progress updates: a stage-local update is written
// when it moved at least reportStep percentage points since the last write,
// when the stage reports completion, or when reportEvery elapsed.
const (
	reportStep  = 5.0
	reportEvery = 10 * time.Second
)

// progressReporter maps stage-local progress in [0,1] into the job's overall
// progress window and throttles persistence. Every persisted update doubles
// as a cancellation probe: observing a CANCELLED job cancels the stage
// context so the runner aborts cooperatively.
type progressReporter struct {
	store  store.JobStore
	jobID  string
	stage  types.Stage
	floor  float64 // overall pct where the stage's window starts
	ceil   float64 // overall pct where it ends
	cancel context.CancelFunc
	now    func() time.Time

	mu       sync.Mutex
	lastPct  float64 // stage-local pct of the last persisted update
	lastTime time.Time
}

func (w *Worker) newReporter(jobID string, stage types.Stage, cancel context.CancelFunc) *progressReporter {
	return &progressReporter{
		store:    w.store,
		jobID:    jobID,
		stage:    stage,
		floor:    stageFloor(stage),
		ceil:     stage.ProgressCeiling(),
		cancel:   cancel,
		now:      w.now,
		lastTime: w.now(),
	}
}

// report accepts one stage-local progress sample from the runner. Callers may
// invoke it from any goroutine.
func (r *progressReporter) report(ctx context.Context, p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	stagePct := p * 100

	r.mu.Lock()
	due := stagePct-r.lastPct >= reportStep ||
		stagePct >= 100 ||
		r.now().Sub(r.lastTime) >= reportEvery
	if !due {
		r.mu.Unlock()
		return
	}
	if stagePct > r.lastPct {
		r.lastPct = stagePct
	}
	r.lastTime = r.now()
	r.mu.Unlock()

	overall := r.floor + (r.ceil-r.floor)*p
	if err := r.store.SetJobProgress(ctx, r.jobID, overall); err != nil {
		slog.Warn("progress update failed", "job_id", r.jobID, "stage", r.stage, "error", err)
	}

	job, err := r.store.GetJob(ctx, r.jobID)
	if err != nil {
		return
	}
	if job.State == types.JobCancelled {
		slog.Info("cancellation observed mid-stage", "job_id", r.jobID, "stage", r.stage)
		r.cancel()
	}
}

// stageFloor returns the overall progress percentage at which a stage's
// window begins: the previous stage's ceiling, or zero for the first stage.
func stageFloor(stage types.Stage) float64 {
	var prev types.Stage
	for _, s := range types.StageOrder {
		if s == stage {
			if prev == "" {
				return 0
			}
			return prev.ProgressCeiling()
		}
		prev = s
	}
	return 0
}
