package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// JobStore
// ─────────────────────────────────────────────────────────────────────────────

// CreateJob implements [store.JobStore].
func (s *Store) CreateJob(ctx context.Context, job *types.ProcessingJob) error {
	detailsJSON, err := json.Marshal(orEmptyMap(job.ErrorDetails))
	if err != nil {
		return fmt.Errorf("jobs: marshal error details: %w", err)
	}
	warningsJSON, err := json.Marshal(orEmptySlice(job.Warnings))
	if err != nil {
		return fmt.Errorf("jobs: marshal warnings: %w", err)
	}

	const q = `
		INSERT INTO processing_jobs
		    (id, class_session_id, kind, priority, state, current_stage, progress_pct,
		     started_at, finished_at, retry_count, max_retries, device_used,
		     queue_task_id, last_error, error_details, warnings, preset,
		     created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())`

	_, err = s.pool.Exec(ctx, q,
		job.ID,
		job.ClassSessionID,
		string(job.Kind),
		job.Priority,
		string(job.State),
		string(job.CurrentStage),
		job.ProgressPct,
		job.StartedAt,
		job.FinishedAt,
		job.RetryCount,
		job.MaxRetries,
		job.DeviceUsed,
		job.QueueTaskID,
		job.LastError,
		detailsJSON,
		warningsJSON,
		job.Preset,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("jobs: create %s: %w", job.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetJob implements [store.JobStore].
func (s *Store) GetJob(ctx context.Context, id string) (*types.ProcessingJob, error) {
	const q = `
		SELECT id, class_session_id, kind, priority, state, current_stage, progress_pct,
		       started_at, finished_at, retry_count, max_retries, device_used,
		       queue_task_id, last_error, error_details, warnings, preset,
		       created_at, updated_at
		FROM   processing_jobs
		WHERE  id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("jobs: get %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("jobs: get: %w", err)
	}
	return job, nil
}

// MarkJobRunning implements [store.JobStore]. started_at is preserved across
// stage changes within the same run.
func (s *Store) MarkJobRunning(ctx context.Context, id string, stage types.Stage, device string) error {
	const q = `
		UPDATE processing_jobs
		SET    state         = 'RUNNING',
		       current_stage = $2,
		       device_used   = $3,
		       started_at    = COALESCE(started_at, now()),
		       updated_at    = now()
		WHERE  id = $1`
	return s.execOne(ctx, "jobs: mark running", q, id, string(stage), device)
}

// SetJobProgress implements [store.JobStore]. GREATEST keeps the stored value
// monotonic under out-of-order worker reports.
func (s *Store) SetJobProgress(ctx context.Context, id string, pct float64) error {
	const q = `
		UPDATE processing_jobs
		SET    progress_pct = GREATEST(progress_pct, $2),
		       updated_at   = now()
		WHERE  id = $1`
	return s.execOne(ctx, "jobs: set progress", q, id, pct)
}

// SetJobTaskID implements [store.JobStore].
func (s *Store) SetJobTaskID(ctx context.Context, id, taskID string) error {
	const q = `
		UPDATE processing_jobs
		SET    queue_task_id = $2,
		       updated_at    = now()
		WHERE  id = $1`
	return s.execOne(ctx, "jobs: set task id", q, id, taskID)
}

// IncrementJobRetry implements [store.JobStore].
func (s *Store) IncrementJobRetry(ctx context.Context, id string) (int, error) {
	const q = `
		UPDATE processing_jobs
		SET    retry_count = retry_count + 1,
		       updated_at  = now()
		WHERE  id = $1
		RETURNING retry_count`

	var count int
	if err := s.pool.QueryRow(ctx, q, id).Scan(&count); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("jobs: increment retry %s: %w", id, store.ErrNotFound)
		}
		return 0, fmt.Errorf("jobs: increment retry: %w", err)
	}
	return count, nil
}

// FailJob implements [store.JobStore]. The job and its class session move to
// ERROR in one transaction so a crash between the two writes cannot leave a
// failed job under a healthy session.
func (s *Store) FailJob(ctx context.Context, id, lastError string, details map[string]any) error {
	detailsJSON, err := json.Marshal(orEmptyMap(details))
	if err != nil {
		return fmt.Errorf("jobs: marshal error details: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobs: fail: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const qJob = `
		UPDATE processing_jobs
		SET    state         = 'ERROR',
		       last_error    = $2,
		       error_details = $3,
		       finished_at   = now(),
		       updated_at    = now()
		WHERE  id = $1
		RETURNING class_session_id`

	var classSessionID string
	if err := tx.QueryRow(ctx, qJob, id, lastError, detailsJSON).Scan(&classSessionID); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("jobs: fail %s: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("jobs: fail: %w", err)
	}

	const qSession = `
		UPDATE class_sessions
		SET    pipeline_state = 'ERROR',
		       updated_at     = now()
		WHERE  id = $1`
	if _, err := tx.Exec(ctx, qSession, classSessionID); err != nil {
		return fmt.Errorf("jobs: fail: session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobs: fail: commit: %w", err)
	}
	return nil
}

// CancelJob implements [store.JobStore]. Terminal jobs are left untouched and
// reported as not cancelled.
func (s *Store) CancelJob(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE processing_jobs
		SET    state       = 'CANCELLED',
		       finished_at = now(),
		       updated_at  = now()
		WHERE  id = $1
		  AND  state NOT IN ('DONE', 'CANCELLED')`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("jobs: cancel: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish a missing job from an already terminal one.
	if _, err := s.GetJob(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ResetJobForRetry implements [store.JobStore]. Only jobs in ERROR can be
// re-armed.
func (s *Store) ResetJobForRetry(ctx context.Context, id string) error {
	const q = `
		UPDATE processing_jobs
		SET    state         = 'PENDING',
		       retry_count   = 0,
		       last_error    = '',
		       error_details = '{}',
		       finished_at   = NULL,
		       updated_at    = now()
		WHERE  id = $1
		  AND  state = 'ERROR'`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("jobs: reset for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("jobs: reset for retry %s: not in ERROR: %w", id, store.ErrConflict)
	}
	return nil
}

// AddJobWarning implements [store.JobStore].
func (s *Store) AddJobWarning(ctx context.Context, id, warning string) error {
	warnJSON, err := json.Marshal([]string{warning})
	if err != nil {
		return fmt.Errorf("jobs: marshal warning: %w", err)
	}
	const q = `
		UPDATE processing_jobs
		SET    warnings   = warnings || $2::jsonb,
		       updated_at = now()
		WHERE  id = $1`
	return s.execOne(ctx, "jobs: add warning", q, id, warnJSON)
}

// scanJob scans one processing_jobs row.
func scanJob(row pgx.Row) (*types.ProcessingJob, error) {
	var (
		job          types.ProcessingJob
		detailsJSON  []byte
		warningsJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.ClassSessionID,
		&job.Kind,
		&job.Priority,
		&job.State,
		&job.CurrentStage,
		&job.ProgressPct,
		&job.StartedAt,
		&job.FinishedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&job.DeviceUsed,
		&job.QueueTaskID,
		&job.LastError,
		&detailsJSON,
		&warningsJSON,
		&job.Preset,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(detailsJSON, &job.ErrorDetails); err != nil {
		return nil, fmt.Errorf("decode error details: %w", err)
	}
	if err := json.Unmarshal(warningsJSON, &job.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return &job, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
