package postgres

import (
	"context"
	"fmt"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// ClassSessionStore
// ─────────────────────────────────────────────────────────────────────────────

// CreateClassSession implements [store.ClassSessionStore].
func (s *Store) CreateClassSession(ctx context.Context, cs *types.ClassSession) error {
	const q = `
		INSERT INTO class_sessions
		    (id, date, subject, topic, lecturer_name, lecturer_id, language,
		     audio_url, audio_duration_sec, pipeline_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`

	_, err := s.pool.Exec(ctx, q,
		cs.ID,
		cs.Date,
		cs.Subject,
		cs.Topic,
		cs.LecturerName,
		cs.LecturerID,
		cs.Language,
		cs.AudioURL,
		cs.AudioDurationSec,
		string(cs.PipelineState),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("class sessions: create %s: %w", cs.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("class sessions: create: %w", err)
	}
	return nil
}

// GetClassSession implements [store.ClassSessionStore].
func (s *Store) GetClassSession(ctx context.Context, id string) (*types.ClassSession, error) {
	const q = `
		SELECT id, date, subject, topic, lecturer_name, lecturer_id, language,
		       audio_url, audio_duration_sec, pipeline_state, created_at, updated_at
		FROM   class_sessions
		WHERE  id = $1`

	var cs types.ClassSession
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&cs.ID,
		&cs.Date,
		&cs.Subject,
		&cs.Topic,
		&cs.LecturerName,
		&cs.LecturerID,
		&cs.Language,
		&cs.AudioURL,
		&cs.AudioDurationSec,
		&cs.PipelineState,
		&cs.CreatedAt,
		&cs.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("class sessions: get %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("class sessions: get: %w", err)
	}
	return &cs, nil
}

// TransitionSession implements [store.ClassSessionStore]. The update only
// applies when the stored state equals from, making the transition a
// compare-and-swap.
func (s *Store) TransitionSession(ctx context.Context, id string, from, to types.PipelineState) error {
	const q = `
		UPDATE class_sessions
		SET    pipeline_state = $3,
		       updated_at     = now()
		WHERE  id = $1 AND pipeline_state = $2`

	tag, err := s.pool.Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("class sessions: transition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing session from a state mismatch.
		if _, err := s.GetClassSession(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("class sessions: transition %s from %s to %s: %w", id, from, to, store.ErrConflict)
	}
	return nil
}

// ForceSessionState implements [store.ClassSessionStore].
func (s *Store) ForceSessionState(ctx context.Context, id string, to types.PipelineState) error {
	const q = `
		UPDATE class_sessions
		SET    pipeline_state = $2,
		       updated_at     = now()
		WHERE  id = $1`
	return s.execOne(ctx, "class sessions: force state", q, id, string(to))
}

// SetSessionAudio implements [store.ClassSessionStore].
func (s *Store) SetSessionAudio(ctx context.Context, id, audioURL string) error {
	const q = `
		UPDATE class_sessions
		SET    audio_url  = $2,
		       updated_at = now()
		WHERE  id = $1`
	return s.execOne(ctx, "class sessions: set audio", q, id, audioURL)
}

// SetSessionDuration implements [store.ClassSessionStore].
func (s *Store) SetSessionDuration(ctx context.Context, id string, seconds float64) error {
	const q = `
		UPDATE class_sessions
		SET    audio_duration_sec = $2,
		       updated_at         = now()
		WHERE  id = $1`
	return s.execOne(ctx, "class sessions: set duration", q, id, seconds)
}

// SetSessionLecturer implements [store.ClassSessionStore].
func (s *Store) SetSessionLecturer(ctx context.Context, id, lecturerID string) error {
	const q = `
		UPDATE class_sessions
		SET    lecturer_id = $2,
		       updated_at  = now()
		WHERE  id = $1`
	return s.execOne(ctx, "class sessions: set lecturer", q, id, lecturerID)
}

// DeleteClassSession implements [store.ClassSessionStore]. Uploads, jobs and
// stage results go with the session via ON DELETE CASCADE; the chunk audit
// trail remains.
func (s *Store) DeleteClassSession(ctx context.Context, id string) error {
	const q = `DELETE FROM class_sessions WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("class sessions: delete: %w", err)
	}
	return nil
}

// execOne runs an UPDATE expected to touch exactly one row and maps zero
// affected rows to store.ErrNotFound.
func (s *Store) execOne(ctx context.Context, op, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}
