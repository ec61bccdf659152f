// Package pipeline coordinates processing jobs across the lecture pipeline
// state machine.
//
// The Orchestrator owns the job lifecycle: it admits new jobs against the
// class session state machine, applies stage completions and failures
// reported by workers, schedules capped-backoff retries and serves status
// projections. The Worker consumes stage tasks from the queue, resolves the
// stage's registered StageRunner and feeds the outcome back into the
// Orchestrator.
//
// Stages of one class session run strictly in sequence: the store's
// AdvanceStage compare-and-swaps the session state, so a stage completion is
// only accepted while the session sits in that stage's state. Independent
// sessions proceed concurrently without coordination.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aulavox/aulavox/internal/queue"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// Retry defaults. The delay before attempt n is retryBase doubled per
// attempt, capped at retryMax.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 30 * time.Second
	DefaultRetryMax   = 10 * time.Minute
)

// Notifier receives terminal job outcomes. Implementations must not block;
// delivery failures are theirs to log. A nil Notifier disables notifications.
type Notifier interface {
	JobDone(ctx context.Context, job *types.ProcessingJob, session *types.ClassSession)
	JobFailed(ctx context.Context, job *types.ProcessingJob, session *types.ClassSession, cause error)
}

// Orchestrator drives processing jobs through the stage state machine.
type Orchestrator struct {
	store    store.Store
	queue    queue.Queue
	notifier Notifier

	mu            sync.Mutex
	maxRetries    int
	defaultPreset string
	retryBase     time.Duration
	retryMax      time.Duration

	now      func() time.Time
	schedule func(d time.Duration, fn func())
}

// Option adjusts Orchestrator construction.
type Option func(*Orchestrator)

// WithNotifier installs a terminal-outcome notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithMaxRetries sets the default per-job retry budget. Individual jobs may
// override it at creation.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithDefaultPreset sets the processing preset applied to jobs that name
// none. Unknown names are rejected at job admission, not here.
func WithDefaultPreset(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.defaultPreset = name
		}
	}
}

// WithRetryBackoff sets the base delay and cap for scheduled stage retries.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(o *Orchestrator) {
		if base > 0 {
			o.retryBase = base
		}
		if max > 0 {
			o.retryMax = max
		}
	}
}

// WithClock substitutes the time source. Tests use it to pin ETA math.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithScheduler substitutes the delayed-execution primitive used for retry
// backoff. The default is time.AfterFunc; tests inject a synchronous one.
// Scheduled retries live in process memory only: a crash loses the timer but
// not the retry count, and the task reappears via broker redelivery.
func WithScheduler(schedule func(d time.Duration, fn func())) Option {
	return func(o *Orchestrator) {
		if schedule != nil {
			o.schedule = schedule
		}
	}
}

// NewOrchestrator wires an Orchestrator over its persistence and transport.
func NewOrchestrator(st store.Store, q queue.Queue, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, types.Errorf(types.KindConfiguration, "pipeline: store is required")
	}
	if q == nil {
		return nil, types.Errorf(types.KindConfiguration, "pipeline: queue is required")
	}
	o := &Orchestrator{
		store:         st,
		queue:         q,
		maxRetries:    DefaultMaxRetries,
		defaultPreset: DefaultPreset,
		retryBase:     DefaultRetryBase,
		retryMax:      DefaultRetryMax,
		now:           time.Now,
		schedule:      func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SetMaxRetries changes the default retry budget for jobs admitted after the
// call. In-flight jobs keep the budget they were created with. Used by config
// hot-reload.
func (o *Orchestrator) SetMaxRetries(n int) {
	if n <= 0 {
		return
	}
	o.mu.Lock()
	o.maxRetries = n
	o.mu.Unlock()
}

func (o *Orchestrator) defaultMaxRetries() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxRetries
}

// SetDefaultPreset changes the preset applied to jobs admitted after the
// call that name none. Used by config hot-reload.
func (o *Orchestrator) SetDefaultPreset(name string) {
	if name == "" {
		return
	}
	if _, err := PresetFor(name); err != nil {
		slog.Warn("ignoring unknown default preset", "preset", name)
		return
	}
	o.mu.Lock()
	o.defaultPreset = name
	o.mu.Unlock()
}

func (o *Orchestrator) presetDefault() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.defaultPreset
}

// StartRequest describes a job to admit.
type StartRequest struct {
	ClassSessionID string
	Kind           types.JobKind

	// Preset names the processing profile. Empty selects DefaultPreset.
	Preset string

	Priority int

	// MaxRetries overrides the orchestrator default when positive.
	MaxRetries int
}

// StartJob admits a new processing job for a class session and enqueues its
// first stage.
//
// Admission rules per kind: FULL and ASR_ONLY require the session to be in
// UPLOADED with an assembled recording and claim it by moving it to ASR.
// DIARIZATION_ONLY requires a session parked in DIARIZATION by an earlier
// ASR_ONLY run. The REPROCESS kinds restart the state machine from their
// stage unconditionally, overwriting that stage's result row on completion.
//
// Two concurrent starts on one session race on the session state transition;
// the loser's job is cancelled and an invalid-state error returned.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) (*types.ProcessingJob, error) {
	if req.ClassSessionID == "" {
		return nil, types.Errorf(types.KindValidation, "pipeline: class session id is required")
	}
	if !req.Kind.IsValid() {
		return nil, types.Errorf(types.KindValidation, "pipeline: unknown job kind %q", req.Kind)
	}
	presetName := req.Preset
	if presetName == "" {
		presetName = o.presetDefault()
	}
	if _, err := PresetFor(presetName); err != nil {
		return nil, err
	}

	cs, err := o.store.GetClassSession(ctx, req.ClassSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.WithKind(types.KindNotFound, fmt.Errorf("pipeline: class session %s: %w", req.ClassSessionID, err))
		}
		return nil, fmt.Errorf("pipeline: load class session %s: %w", req.ClassSessionID, err)
	}
	if cs.AudioURL == "" {
		return nil, types.Errorf(types.KindInvalidState, "pipeline: class session %s has no assembled recording", cs.ID)
	}
	switch {
	case req.Kind == types.KindFull || req.Kind == types.KindASROnly:
		if cs.PipelineState != types.StateUploaded {
			return nil, types.Errorf(types.KindInvalidState,
				"pipeline: class session %s is in %s, want %s", cs.ID, cs.PipelineState, types.StateUploaded)
		}
	case req.Kind == types.KindDiarizationOnly:
		if cs.PipelineState != types.StateDiarization {
			return nil, types.Errorf(types.KindInvalidState,
				"pipeline: class session %s is in %s, want %s", cs.ID, cs.PipelineState, types.StateDiarization)
		}
	}

	maxRetries := o.defaultMaxRetries()
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}
	job := &types.ProcessingJob{
		ID:             uuid.NewString(),
		ClassSessionID: cs.ID,
		Kind:           req.Kind,
		Priority:       req.Priority,
		State:          types.JobPending,
		MaxRetries:     maxRetries,
		Preset:         presetName,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("pipeline: create job: %w", err)
	}

	start := req.Kind.StartStage()
	if err := o.claimSession(ctx, cs, req.Kind, start); err != nil {
		if _, cerr := o.store.CancelJob(ctx, job.ID); cerr != nil {
			slog.Warn("cancel of unadmitted job failed", "job_id", job.ID, "error", cerr)
		}
		return nil, err
	}

	if _, err := o.enqueueStage(ctx, job, start); err != nil {
		o.fail(ctx, job, start, fmt.Errorf("enqueue first stage: %w", err))
		return nil, err
	}
	slog.Info("job admitted",
		"job_id", job.ID, "class_session_id", cs.ID, "kind", req.Kind,
		"preset", presetName, "start_stage", start)
	return o.store.GetJob(ctx, job.ID)
}

// claimSession moves the class session into the job's start state.
func (o *Orchestrator) claimSession(ctx context.Context, cs *types.ClassSession, kind types.JobKind, start types.Stage) error {
	switch {
	case kind.Reprocess():
		if err := o.store.ForceSessionState(ctx, cs.ID, start.State()); err != nil {
			return fmt.Errorf("pipeline: force session %s to %s: %w", cs.ID, start.State(), err)
		}
	case kind == types.KindDiarizationOnly:
		// Already parked in DIARIZATION; admission checked it above.
	default:
		err := o.store.TransitionSession(ctx, cs.ID, types.StateUploaded, start.State())
		if errors.Is(err, store.ErrConflict) {
			return types.WithKind(types.KindInvalidState,
				fmt.Errorf("pipeline: class session %s was claimed concurrently: %w", cs.ID, err))
		}
		if err != nil {
			return fmt.Errorf("pipeline: transition session %s to %s: %w", cs.ID, start.State(), err)
		}
	}
	return nil
}

// Cancel moves a job to CANCELLED. In-flight stage workers observe the state
// on their next progress probe, abort, and discard their output. Cancelling a
// job that already reached a terminal state is a no-op and returns false.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (bool, error) {
	cancelled, err := o.store.CancelJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, types.WithKind(types.KindNotFound, fmt.Errorf("pipeline: cancel job %s: %w", jobID, err))
		}
		return false, fmt.Errorf("pipeline: cancel job %s: %w", jobID, err)
	}
	if cancelled {
		slog.Info("job cancelled", "job_id", jobID)
	}
	return cancelled, nil
}

// Retry re-arms a job that ended in ERROR and resumes it from the stage that
// failed (or the kind's start stage when no stage ever ran). The retry budget
// is restored and the class session forced back into the resumed stage's
// state.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*types.ProcessingJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.WithKind(types.KindNotFound, fmt.Errorf("pipeline: retry job %s: %w", jobID, err))
		}
		return nil, fmt.Errorf("pipeline: retry job %s: %w", jobID, err)
	}
	if err := o.store.ResetJobForRetry(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, types.WithKind(types.KindInvalidState,
				fmt.Errorf("pipeline: retry job %s in state %s: %w", jobID, job.State, err))
		}
		return nil, fmt.Errorf("pipeline: reset job %s: %w", jobID, err)
	}

	stage := job.CurrentStage
	if !stage.IsValid() {
		stage = job.Kind.StartStage()
	}
	if err := o.store.ForceSessionState(ctx, job.ClassSessionID, stage.State()); err != nil {
		return nil, fmt.Errorf("pipeline: force session %s to %s: %w", job.ClassSessionID, stage.State(), err)
	}
	if _, err := o.enqueueStage(ctx, job, stage); err != nil {
		o.fail(ctx, job, stage, fmt.Errorf("enqueue retried stage: %w", err))
		return nil, err
	}
	slog.Info("job retried", "job_id", jobID, "stage", stage)
	return o.store.GetJob(ctx, jobID)
}

// Status projects a job row into its external status shape. The ETA is a
// straight-line extrapolation of overall progress over elapsed runtime; it is
// zero until the job is running with measurable progress.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*types.JobStatus, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.WithKind(types.KindNotFound, fmt.Errorf("pipeline: status of job %s: %w", jobID, err))
		}
		return nil, fmt.Errorf("pipeline: status of job %s: %w", jobID, err)
	}
	st := &types.JobStatus{
		JobID:        job.ID,
		State:        job.State,
		CurrentStage: job.CurrentStage,
		ProgressPct:  job.ProgressPct,
		LastError:    job.LastError,
		Warnings:     append([]string(nil), job.Warnings...),
	}
	if job.State == types.JobRunning && job.StartedAt != nil && job.ProgressPct > 0 && job.ProgressPct < 100 {
		elapsed := o.now().Sub(*job.StartedAt).Seconds()
		if elapsed > 0 {
			st.ETASeconds = elapsed * (100 - job.ProgressPct) / job.ProgressPct
		}
	}
	return st, nil
}

// enqueueStage publishes the task for one stage run and records the broker
// message id on the job. The task id is bookkeeping; losing it is logged, not
// fatal.
func (o *Orchestrator) enqueueStage(ctx context.Context, job *types.ProcessingJob, stage types.Stage) (string, error) {
	task := queue.NewStageTask(job.ID, stage, queue.StagePayload{
		ClassSessionID: job.ClassSessionID,
		Config:         map[string]any{"preset": job.Preset},
	})
	id, err := o.queue.Enqueue(ctx, queueFor(stage), task)
	if err != nil {
		return "", types.WithKind(types.KindTransient, fmt.Errorf("pipeline: enqueue %s for job %s: %w", stage, job.ID, err))
	}
	if err := o.store.SetJobTaskID(ctx, job.ID, id); err != nil {
		slog.Warn("task id not recorded", "job_id", job.ID, "task_id", id, "error", err)
	}
	slog.Debug("stage enqueued", "job_id", job.ID, "stage", stage, "queue", queueFor(stage), "task_id", id)
	return id, nil
}

// queueFor routes a stage to its named queue. Artifact generation has its own
// consumer pool; every other stage shares the processing queue.
func queueFor(stage types.Stage) string {
	if stage == types.StageExport {
		return queue.Export
	}
	return queue.Processing
}
