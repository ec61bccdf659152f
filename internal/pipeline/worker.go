package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aulavox/aulavox/internal/queue"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// StageEnv carries everything a stage runner needs for one execution.
type StageEnv struct {
	Job     *types.ProcessingJob
	Session *types.ClassSession
	Preset  Preset

	// Progress reports stage-local progress in [0,1]. The worker maps it
	// into the job's overall progress window, throttles persistence, and
	// uses each persisted update as a cancellation probe: on a cancelled
	// job the run context is cancelled under the runner.
	Progress func(pct float64)
}

// StageRunner executes one pipeline stage. Run returns the stage's typed
// result row, or nil for stages that persist their rows incrementally
// (research, export). Runners must honor ctx and report progress.
type StageRunner interface {
	Stage() types.Stage
	Run(ctx context.Context, env StageEnv) (any, error)
}

// Worker consumes stage tasks and drives their runners. One Worker processes
// one task at a time; run several for parallelism across sessions.
type Worker struct {
	store   store.Store
	queue   queue.Queue
	orch    *Orchestrator
	runners map[types.Stage]StageRunner

	queues   []string
	device   string
	attempts int
	now      func() time.Time
}

// WorkerOption adjusts Worker construction.
type WorkerOption func(*Worker)

// WithQueues sets the named queues the worker consumes, polled in order. The
// default is the processing and export queues.
func WithQueues(names ...string) WorkerOption {
	return func(w *Worker) {
		if len(names) > 0 {
			w.queues = names
		}
	}
}

// WithDevice records the compute device label written to jobs this worker
// picks up (e.g. "cuda:0"). Defaults to "cpu".
func WithDevice(device string) WorkerOption {
	return func(w *Worker) {
		if device != "" {
			w.device = device
		}
	}
}

// WithStageAttempts bounds in-process retries of a transient runner failure
// before it is escalated to the orchestrator. The default is a single
// attempt, so the job's retry budget stays the one source of truth for retry
// accounting; raising it trades extra local attempts for fewer requeues.
func WithStageAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.attempts = n
		}
	}
}

// WithWorkerClock substitutes the time source used for progress throttling.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker wires a Worker over its transport, persistence and stage runners.
func NewWorker(st store.Store, q queue.Queue, orch *Orchestrator, runners []StageRunner, opts ...WorkerOption) (*Worker, error) {
	if st == nil {
		return nil, types.Errorf(types.KindConfiguration, "pipeline: worker store is required")
	}
	if q == nil {
		return nil, types.Errorf(types.KindConfiguration, "pipeline: worker queue is required")
	}
	if orch == nil {
		return nil, types.Errorf(types.KindConfiguration, "pipeline: worker orchestrator is required")
	}
	w := &Worker{
		store:    st,
		queue:    q,
		orch:     orch,
		runners:  make(map[types.Stage]StageRunner, len(runners)),
		queues:   []string{queue.Processing, queue.Export},
		device:   "cpu",
		attempts: 1,
		now:      time.Now,
	}
	for _, r := range runners {
		if r == nil {
			continue
		}
		if _, dup := w.runners[r.Stage()]; dup {
			return nil, types.Errorf(types.KindConfiguration, "pipeline: duplicate runner for stage %q", r.Stage())
		}
		w.runners[r.Stage()] = r
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run consumes stage tasks until ctx is cancelled and returns ctx's error.
// Each delivery is handled to completion before the next dequeue.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("stage worker started", "queues", w.queues, "device", w.device)
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("stage worker stopped", "device", w.device)
			return err
		}
		for _, name := range w.queues {
			d, err := w.queue.Dequeue(ctx, name)
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					slog.Info("stage worker stopped", "device", w.device)
					return ctx.Err()
				}
				slog.Warn("dequeue failed", "queue", name, "error", err)
				continue
			}
			w.handle(ctx, d)
		}
	}
}

// handle runs one delivery end to end: admission checks, runner execution,
// outcome report, ack. Deliveries whose outcome could not be recorded are
// left unacked so the broker redelivers them; completion idempotency makes
// the replay safe.
func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	task := d.Task
	log := slog.With("job_id", task.JobID, "stage", task.Stage, "queue", d.Queue)

	runner, ok := w.runners[task.Stage]
	if !ok {
		w.park(ctx, d, fmt.Sprintf("no runner for stage %q", task.Stage))
		return
	}
	job, err := w.store.GetJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.park(ctx, d, "job not found")
			return
		}
		log.Warn("job lookup failed, task left for redelivery", "error", err)
		return
	}
	if job.State != types.JobPending && job.State != types.JobRunning {
		log.Info("task skipped, job no longer active", "state", job.State)
		w.ack(ctx, d)
		return
	}
	session, err := w.store.GetClassSession(ctx, job.ClassSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.park(ctx, d, "class session not found")
			return
		}
		log.Warn("session lookup failed, task left for redelivery", "error", err)
		return
	}
	preset, err := PresetFor(job.Preset)
	if err != nil {
		w.park(ctx, d, err.Error())
		return
	}
	if err := w.store.MarkJobRunning(ctx, job.ID, task.Stage, w.device); err != nil {
		log.Warn("running mark failed", "error", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	rep := w.newReporter(job.ID, task.Stage, cancelRun)
	env := StageEnv{
		Job:      job,
		Session:  session,
		Preset:   preset,
		Progress: func(p float64) { rep.report(runCtx, p) },
	}
	log.Info("stage started", "kind", job.Kind, "preset", preset.Name)
	result, err := w.runStage(runCtx, runner, env)

	// Bookkeeping must survive worker shutdown racing the stage's last
	// moments, so it runs on a context detached from cancellation.
	done := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if w.cancelledMeanwhile(done, job.ID) {
			log.Info("stage output discarded, job cancelled during run")
			w.ack(done, d)
			return
		}
		if cerr := w.orch.OnStageCompleted(done, job.ID, task.Stage, result); cerr != nil {
			log.Error("completion not applied, task left for redelivery", "error", cerr)
			return
		}
		w.ack(done, d)
	case ctx.Err() != nil:
		log.Info("worker stopping mid-stage, task left for redelivery")
	case errors.Is(err, types.ErrCancelled) || runCtx.Err() != nil:
		log.Info("stage aborted, output discarded")
		w.ack(done, d)
	default:
		if herr := w.orch.OnStageFailed(done, job.ID, task.Stage, err); herr != nil {
			log.Error("failure not recorded, task left for redelivery", "error", herr)
			return
		}
		w.ack(done, d)
	}
}

// runStage invokes the runner with bounded in-process retries on transient
// errors (see WithStageAttempts).
func (w *Worker) runStage(ctx context.Context, runner StageRunner, env StageEnv) (any, error) {
	for attempt := 1; ; attempt++ {
		result, err := runner.Run(ctx, env)
		if err == nil {
			return result, nil
		}
		if attempt >= w.attempts || !types.IsRetriable(err) || ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("stage attempt failed, retrying in-process",
			"job_id", env.Job.ID, "stage", runner.Stage(), "attempt", attempt, "error", err)
	}
}

func (w *Worker) cancelledMeanwhile(ctx context.Context, jobID string) bool {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.State == types.JobCancelled
}

// park moves a delivery to the dead-letter stream. Used for tasks that can
// never run: unknown stage, vanished job or session, unresolvable preset.
func (w *Worker) park(ctx context.Context, d *queue.Delivery, reason string) {
	slog.Error("task dead-lettered",
		"job_id", d.Task.JobID, "stage", d.Task.Stage, "queue", d.Queue, "reason", reason)
	if err := w.queue.SendToDeadLetter(ctx, *d, reason); err != nil {
		slog.Error("dead letter append failed", "queue", d.Queue, "task_id", d.ID, "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, d *queue.Delivery) {
	if err := w.queue.Ack(ctx, d.Queue, d.ID); err != nil {
		slog.Warn("ack failed", "queue", d.Queue, "task_id", d.ID, "error", err)
	}
}
