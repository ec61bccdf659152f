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
// ResultStore — research jobs, per-term results, memos, exports
// ─────────────────────────────────────────────────────────────────────────────

// CreateResearchJob implements [store.ResultStore].
func (s *Store) CreateResearchJob(ctx context.Context, rj *types.ResearchJob) error {
	warnings, err := json.Marshal(orEmptySlice(rj.Warnings))
	if err != nil {
		return fmt.Errorf("research jobs: marshal warnings: %w", err)
	}

	const q = `
		INSERT INTO research_jobs
		    (id, job_id, class_session_id, preset, status, progress_pct, current_term,
		     terms_total, terms_researched, terms_failed, cache_hits, cache_misses,
		     warnings, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())`

	_, err = s.pool.Exec(ctx, q,
		rj.ID, rj.JobID, rj.ClassSessionID, rj.Preset, string(rj.Status),
		rj.ProgressPct, rj.CurrentTerm,
		rj.TermsTotal, rj.TermsResearched, rj.TermsFailed, rj.CacheHits, rj.CacheMisses,
		warnings, rj.StartedAt, rj.FinishedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("research jobs: create %s: %w", rj.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("research jobs: create: %w", err)
	}
	return nil
}

// UpdateResearchJob implements [store.ResultStore]. The whole mutable surface
// of the row is replaced; the researcher owns the job while it runs so there
// are no concurrent writers to merge with.
func (s *Store) UpdateResearchJob(ctx context.Context, rj *types.ResearchJob) error {
	warnings, err := json.Marshal(orEmptySlice(rj.Warnings))
	if err != nil {
		return fmt.Errorf("research jobs: marshal warnings: %w", err)
	}

	const q = `
		UPDATE research_jobs
		SET    status           = $2,
		       progress_pct     = $3,
		       current_term     = $4,
		       terms_total      = $5,
		       terms_researched = $6,
		       terms_failed     = $7,
		       cache_hits       = $8,
		       cache_misses     = $9,
		       warnings         = $10,
		       started_at       = $11,
		       finished_at      = $12
		WHERE  id = $1`

	return s.execOne(ctx, "research jobs: update", q,
		rj.ID, string(rj.Status), rj.ProgressPct, rj.CurrentTerm,
		rj.TermsTotal, rj.TermsResearched, rj.TermsFailed, rj.CacheHits, rj.CacheMisses,
		warnings, rj.StartedAt, rj.FinishedAt,
	)
}

// GetResearchJobByJobID implements [store.ResultStore]. When a pipeline job
// was retried and owns several research runs, the most recent one wins.
func (s *Store) GetResearchJobByJobID(ctx context.Context, jobID string) (*types.ResearchJob, error) {
	const q = `
		SELECT id, job_id, class_session_id, preset, status, progress_pct, current_term,
		       terms_total, terms_researched, terms_failed, cache_hits, cache_misses,
		       warnings, started_at, finished_at, created_at
		FROM   research_jobs
		WHERE  job_id = $1
		ORDER  BY created_at DESC
		LIMIT  1`

	rj, err := scanResearchJob(s.pool.QueryRow(ctx, q, jobID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("research jobs: for job %s: %w", jobID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("research jobs: for job %s: %w", jobID, err)
	}
	return rj, nil
}

// AddResearchResult implements [store.ResultStore]. The full result is stored
// as a JSONB payload with a few columns promoted for filtering.
func (s *Store) AddResearchResult(ctx context.Context, r *types.ResearchResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("research results: marshal payload: %w", err)
	}

	const q = `
		INSERT INTO research_results
		    (id, research_job_id, term, grade, cache_hit, payload, researched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		r.ID, r.ResearchJobID, r.Term, string(r.Grade), r.CacheHit, payload, r.ResearchedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("research results: add %s: %w", r.ID, store.ErrDuplicate)
		}
		return fmt.Errorf("research results: add: %w", err)
	}
	return nil
}

// ListResearchResults implements [store.ResultStore]. Results come back in
// completion order.
func (s *Store) ListResearchResults(ctx context.Context, researchJobID string) ([]types.ResearchResult, error) {
	const q = `
		SELECT payload
		FROM   research_results
		WHERE  research_job_id = $1
		ORDER  BY researched_at`

	rows, err := s.pool.Query(ctx, q, researchJobID)
	if err != nil {
		return nil, fmt.Errorf("research results: list: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ResearchResult, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return types.ResearchResult{}, err
		}
		var r types.ResearchResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return types.ResearchResult{}, fmt.Errorf("decode payload: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("research results: list: %w", err)
	}
	return results, nil
}

// SaveMicroMemos implements [store.ResultStore]. Memos are written in one
// transaction; re-saving the same IDs replaces the cards.
func (s *Store) SaveMicroMemos(ctx context.Context, memos []types.MicroMemo) error {
	if len(memos) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("micro memos: save: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO micro_memos
		    (id, class_session_id, memo_type, question, answer, difficulty, confidence, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    memo_type  = EXCLUDED.memo_type,
		    question   = EXCLUDED.question,
		    answer     = EXCLUDED.answer,
		    difficulty = EXCLUDED.difficulty,
		    confidence = EXCLUDED.confidence,
		    tags       = EXCLUDED.tags`

	for _, m := range memos {
		tags, err := json.Marshal(orEmptySlice(m.Tags))
		if err != nil {
			return fmt.Errorf("micro memos: marshal tags: %w", err)
		}
		if _, err := tx.Exec(ctx, q,
			m.ID, m.ClassSessionID, string(m.Type), m.Question, m.Answer,
			string(m.Difficulty), m.Confidence, tags, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("micro memos: save %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("micro memos: save: commit: %w", err)
	}
	return nil
}

// ListMicroMemos implements [store.ResultStore].
func (s *Store) ListMicroMemos(ctx context.Context, classSessionID string, minConfidence float64) ([]types.MicroMemo, error) {
	const q = `
		SELECT id, class_session_id, memo_type, question, answer, difficulty, confidence, tags, created_at
		FROM   micro_memos
		WHERE  class_session_id = $1
		  AND  confidence >= $2
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, classSessionID, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("micro memos: list: %w", err)
	}
	memos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.MicroMemo, error) {
		var (
			m    types.MicroMemo
			tags []byte
		)
		if err := row.Scan(&m.ID, &m.ClassSessionID, &m.Type, &m.Question, &m.Answer,
			&m.Difficulty, &m.Confidence, &tags, &m.CreatedAt); err != nil {
			return types.MicroMemo{}, err
		}
		if err := json.Unmarshal(tags, &m.Tags); err != nil {
			return types.MicroMemo{}, fmt.Errorf("decode tags: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("micro memos: list: %w", err)
	}
	return memos, nil
}

// SaveExportSession implements [store.ResultStore].
func (s *Store) SaveExportSession(ctx context.Context, es *types.ExportSession) error {
	files, err := json.Marshal(es.Files)
	if err != nil {
		return fmt.Errorf("export sessions: marshal files: %w", err)
	}

	const q = `
		INSERT INTO export_sessions
		    (id, class_session_id, format, files, artifact_count, quality_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    format         = EXCLUDED.format,
		    files          = EXCLUDED.files,
		    artifact_count = EXCLUDED.artifact_count,
		    quality_score  = EXCLUDED.quality_score`

	_, err = s.pool.Exec(ctx, q,
		es.ID, es.ClassSessionID, string(es.Format), files, es.ArtifactCount, es.QualityScore, es.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("export sessions: save: %w", err)
	}
	return nil
}

// GetExportSession implements [store.ResultStore].
func (s *Store) GetExportSession(ctx context.Context, id string) (*types.ExportSession, error) {
	const q = `
		SELECT id, class_session_id, format, files, artifact_count, quality_score, created_at
		FROM   export_sessions
		WHERE  id = $1`

	var (
		es    types.ExportSession
		files []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&es.ID, &es.ClassSessionID, &es.Format, &files, &es.ArtifactCount, &es.QualityScore, &es.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("export sessions: get %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("export sessions: get: %w", err)
	}
	if err := json.Unmarshal(files, &es.Files); err != nil {
		return nil, fmt.Errorf("export sessions: decode files: %w", err)
	}
	return &es, nil
}

// scanResearchJob scans one research_jobs row.
func scanResearchJob(row pgx.Row) (*types.ResearchJob, error) {
	var (
		rj       types.ResearchJob
		warnings []byte
	)
	err := row.Scan(
		&rj.ID, &rj.JobID, &rj.ClassSessionID, &rj.Preset, &rj.Status,
		&rj.ProgressPct, &rj.CurrentTerm,
		&rj.TermsTotal, &rj.TermsResearched, &rj.TermsFailed, &rj.CacheHits, &rj.CacheMisses,
		&warnings, &rj.StartedAt, &rj.FinishedAt, &rj.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(warnings, &rj.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return &rj, nil
}
