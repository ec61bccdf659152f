package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// OnStageCompleted applies a worker-reported stage completion: the typed
// result row, the progress ceiling, the session state transition and, unless
// this was the job's final stage, the next stage's enqueue. The store applies
// everything up to the enqueue atomically.
//
// Completions are idempotent: a duplicate report for an already-completed
// (job, stage) pair is acknowledged without effect. A completion arriving
// after cancellation is discarded.
func (o *Orchestrator) OnStageCompleted(ctx context.Context, jobID string, stage types.Stage, result any) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: completion of %s for job %s: %w", stage, jobID, err)
	}
	if job.State == types.JobCancelled {
		slog.Info("stage output discarded after cancellation", "job_id", jobID, "stage", stage)
		return nil
	}

	finish := stage == job.Kind.FinalStage()
	adv := store.StageAdvance{
		JobID:          jobID,
		ClassSessionID: job.ClassSessionID,
		Stage:          stage,
		Result:         result,
		JobProgress:    stage.ProgressCeiling(),
		SessionState:   nextSessionState(stage),
		FinishJob:      finish,
		Overwrite:      job.Kind.Reprocess() && stage == job.Kind.StartStage(),
	}
	switch err := o.store.AdvanceStage(ctx, adv); {
	case errors.Is(err, store.ErrStageCompleted):
		slog.Info("duplicate stage completion acknowledged", "job_id", jobID, "stage", stage)
		return nil
	case errors.Is(err, store.ErrConflict):
		// Reprocess kinds advance with Overwrite set, so their replays
		// surface as a session-state conflict instead of ErrStageCompleted.
		if done, derr := o.store.HasStageCompletion(ctx, jobID, stage); derr == nil && done {
			slog.Info("duplicate stage completion acknowledged", "job_id", jobID, "stage", stage)
			return nil
		}
		return types.WithKind(types.KindInvalidState,
			fmt.Errorf("pipeline: advance %s for job %s: %w", stage, jobID, err))
	case err != nil:
		return fmt.Errorf("pipeline: advance %s for job %s: %w", stage, jobID, err)
	}
	slog.Info("stage completed",
		"job_id", jobID, "stage", stage, "progress_pct", adv.JobProgress, "session_state", adv.SessionState)

	if finish {
		o.notifyDone(ctx, jobID)
		return nil
	}
	next, _ := stage.Next()
	if _, err := o.enqueueStage(ctx, job, next); err != nil {
		o.fail(ctx, job, next, fmt.Errorf("enqueue next stage: %w", err))
		return err
	}
	return nil
}

// OnStageFailed applies a worker-reported stage failure. Transient causes
// within the job's retry budget schedule a re-enqueue of the same stage after
// capped exponential backoff; everything else fails the job and its session.
// Failures reported after the job reached a terminal state are ignored.
func (o *Orchestrator) OnStageFailed(ctx context.Context, jobID string, stage types.Stage, cause error) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: failure of %s for job %s: %w", stage, jobID, err)
	}
	if job.State.Terminal() {
		slog.Info("stage failure ignored on terminal job",
			"job_id", jobID, "stage", stage, "state", job.State)
		return nil
	}
	if !types.IsRetriable(cause) {
		return o.fail(ctx, job, stage, cause)
	}

	attempt, err := o.store.IncrementJobRetry(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: count retry for job %s: %w", jobID, err)
	}
	if attempt > job.MaxRetries {
		return o.fail(ctx, job, stage,
			fmt.Errorf("retry budget exhausted after %d retries: %w", job.MaxRetries, cause))
	}

	delay := o.backoff(attempt)
	slog.Warn("stage failed, retry scheduled",
		"job_id", jobID, "stage", stage, "attempt", attempt,
		"max_retries", job.MaxRetries, "delay", delay, "error", cause)
	o.schedule(delay, func() {
		// Cancellation may have landed during the backoff window.
		ctx := context.Background()
		fresh, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			slog.Error("scheduled retry aborted, job lookup failed", "job_id", jobID, "error", err)
			return
		}
		if fresh.State.Terminal() {
			slog.Info("scheduled retry dropped for terminal job", "job_id", jobID, "state", fresh.State)
			return
		}
		if _, err := o.enqueueStage(ctx, job, stage); err != nil {
			slog.Error("scheduled retry enqueue failed", "job_id", jobID, "stage", stage, "error", err)
		}
	})
	return nil
}

// fail moves the job and its class session to ERROR and notifies. The
// returned error is nil when the failure was recorded; handling it is then
// finished from the caller's point of view.
func (o *Orchestrator) fail(ctx context.Context, job *types.ProcessingJob, stage types.Stage, cause error) error {
	details := map[string]any{
		"stage": string(stage),
		"kind":  types.Classify(cause).String(),
	}
	if err := o.store.FailJob(ctx, job.ID, cause.Error(), details); err != nil {
		return fmt.Errorf("pipeline: record failure of job %s: %w", job.ID, err)
	}
	slog.Error("job failed", "job_id", job.ID, "stage", stage, "error", cause)

	if o.notifier != nil {
		fresh, err := o.store.GetJob(ctx, job.ID)
		if err != nil {
			return nil
		}
		cs, err := o.store.GetClassSession(ctx, job.ClassSessionID)
		if err != nil {
			return nil
		}
		o.notifier.JobFailed(ctx, fresh, cs, cause)
	}
	return nil
}

// notifyDone reports a finished job. Best effort: lookup failures only log.
func (o *Orchestrator) notifyDone(ctx context.Context, jobID string) {
	if o.notifier == nil {
		return
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Warn("done notification skipped, job lookup failed", "job_id", jobID, "error", err)
		return
	}
	cs, err := o.store.GetClassSession(ctx, job.ClassSessionID)
	if err != nil {
		slog.Warn("done notification skipped, session lookup failed", "job_id", jobID, "error", err)
		return
	}
	o.notifier.JobDone(ctx, job, cs)
}

// backoff returns the delay before retry attempt n (1-based): the base delay
// doubled per attempt, capped at the configured maximum.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.retryMax {
			return o.retryMax
		}
	}
	if d > o.retryMax {
		return o.retryMax
	}
	return d
}

// nextSessionState returns the pipeline state a class session enters once
// stage completes: the next stage's state, or DONE after the last stage. The
// session state therefore always names the first stage that has not finished,
// which is exactly what a later partial job (e.g. DIARIZATION_ONLY) checks at
// admission.
func nextSessionState(stage types.Stage) types.PipelineState {
	if next, ok := stage.Next(); ok {
		return next.State()
	}
	return types.StateDone
}
