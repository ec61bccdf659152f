// Package postgres provides the PostgreSQL-backed implementation of
// [store.Store], covering class sessions, chunked upload sessions, processing
// jobs, per-stage result rows, research artifacts, study artifacts and
// lecturer voiceprints.
//
// All areas share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS for the voiceprint table.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 256)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.CreateClassSession(ctx, cs)
//	_ = st.AdvanceStage(ctx, adv)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — class sessions and uploads
// ─────────────────────────────────────────────────────────────────────────────

const ddlClassSessions = `
CREATE TABLE IF NOT EXISTS class_sessions (
    id                 TEXT             PRIMARY KEY,
    date               TIMESTAMPTZ      NOT NULL,
    subject            TEXT             NOT NULL,
    topic              TEXT             NOT NULL DEFAULT '',
    lecturer_name      TEXT             NOT NULL DEFAULT '',
    lecturer_id        TEXT             NOT NULL DEFAULT '',
    language           TEXT             NOT NULL DEFAULT 'it',
    audio_url          TEXT             NOT NULL DEFAULT '',
    audio_duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    pipeline_state     TEXT             NOT NULL DEFAULT 'UPLOADED',
    created_at         TIMESTAMPTZ      NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_class_sessions_state
    ON class_sessions (pipeline_state);

CREATE INDEX IF NOT EXISTS idx_class_sessions_date
    ON class_sessions (date);
`

const ddlUploadSessions = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    id                 TEXT         PRIMARY KEY,
    class_session_id   TEXT         NOT NULL REFERENCES class_sessions (id) ON DELETE CASCADE,
    original_filename  TEXT         NOT NULL,
    sanitized_filename TEXT         NOT NULL,
    content_type       TEXT         NOT NULL DEFAULT '',
    total_size         BIGINT       NOT NULL DEFAULT 0,
    chunk_size         BIGINT       NOT NULL DEFAULT 0,
    expected_chunks    INT          NOT NULL DEFAULT 0,
    expected_checksum  TEXT         NOT NULL DEFAULT '',
    state              TEXT         NOT NULL DEFAULT 'INITIATED',
    chunks             JSONB        NOT NULL DEFAULT '{}',
    final_url          TEXT         NOT NULL DEFAULT '',
    last_error         TEXT         NOT NULL DEFAULT '',
    expires_at         TIMESTAMPTZ  NOT NULL,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_session
    ON upload_sessions (class_session_id);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_expires
    ON upload_sessions (expires_at);

CREATE UNIQUE INDEX IF NOT EXISTS idx_upload_sessions_one_active
    ON upload_sessions (class_session_id)
    WHERE state IN ('INITIATED', 'UPLOADING', 'VALIDATING', 'ASSEMBLING');
`

// chunk_uploads is append-only and deliberately carries no foreign key: the
// audit trail outlives upload session cleanup.
const ddlChunkUploads = `
CREATE TABLE IF NOT EXISTS chunk_uploads (
    id                TEXT         PRIMARY KEY,
    upload_session_id TEXT         NOT NULL,
    chunk_number      INT          NOT NULL,
    size_bytes        BIGINT       NOT NULL DEFAULT 0,
    checksum          TEXT         NOT NULL DEFAULT '',
    storage_key       TEXT         NOT NULL DEFAULT '',
    received_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunk_uploads_session
    ON chunk_uploads (upload_session_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — jobs and stage results
// ─────────────────────────────────────────────────────────────────────────────

const ddlProcessingJobs = `
CREATE TABLE IF NOT EXISTS processing_jobs (
    id               TEXT             PRIMARY KEY,
    class_session_id TEXT             NOT NULL REFERENCES class_sessions (id) ON DELETE CASCADE,
    kind             TEXT             NOT NULL,
    priority         INT              NOT NULL DEFAULT 0,
    state            TEXT             NOT NULL DEFAULT 'PENDING',
    current_stage    TEXT             NOT NULL DEFAULT '',
    progress_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ,
    finished_at      TIMESTAMPTZ,
    retry_count      INT              NOT NULL DEFAULT 0,
    max_retries      INT              NOT NULL DEFAULT 3,
    device_used      TEXT             NOT NULL DEFAULT '',
    queue_task_id    TEXT             NOT NULL DEFAULT '',
    last_error       TEXT             NOT NULL DEFAULT '',
    error_details    JSONB            NOT NULL DEFAULT '{}',
    warnings         JSONB            NOT NULL DEFAULT '[]',
    preset           TEXT             NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_processing_jobs_session
    ON processing_jobs (class_session_id);

CREATE INDEX IF NOT EXISTS idx_processing_jobs_state
    ON processing_jobs (state);

CREATE TABLE IF NOT EXISTS stage_completions (
    job_id       TEXT         NOT NULL REFERENCES processing_jobs (id) ON DELETE CASCADE,
    stage        TEXT         NOT NULL,
    completed_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (job_id, stage)
);
`

const ddlStageResults = `
CREATE TABLE IF NOT EXISTS transcriptions (
    job_id              TEXT             PRIMARY KEY REFERENCES processing_jobs (id) ON DELETE CASCADE,
    class_session_id    TEXT             NOT NULL,
    text                TEXT             NOT NULL DEFAULT '',
    segments            JSONB            NOT NULL DEFAULT '[]',
    words               JSONB            NOT NULL DEFAULT '[]',
    language            TEXT             NOT NULL DEFAULT '',
    confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
    audio_duration_sec  DOUBLE PRECISION NOT NULL DEFAULT 0,
    model               TEXT             NOT NULL DEFAULT '',
    processing_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_session
    ON transcriptions (class_session_id);

CREATE TABLE IF NOT EXISTS diarizations (
    job_id              TEXT             PRIMARY KEY REFERENCES processing_jobs (id) ON DELETE CASCADE,
    class_session_id    TEXT             NOT NULL,
    speaker_count       INT              NOT NULL DEFAULT 0,
    segments            JSONB            NOT NULL DEFAULT '[]',
    embeddings          JSONB            NOT NULL DEFAULT '{}',
    roles               JSONB            NOT NULL DEFAULT '{}',
    separation_quality  DOUBLE PRECISION NOT NULL DEFAULT 0,
    matched_lecturer_id TEXT             NOT NULL DEFAULT '',
    model               TEXT             NOT NULL DEFAULT '',
    processing_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_diarizations_session
    ON diarizations (class_session_id);

CREATE TABLE IF NOT EXISTS postprocessings (
    job_id              TEXT             PRIMARY KEY REFERENCES processing_jobs (id) ON DELETE CASCADE,
    class_session_id    TEXT             NOT NULL,
    corrected_text      TEXT             NOT NULL DEFAULT '',
    corrections         JSONB            NOT NULL DEFAULT '[]',
    entities            JSONB            NOT NULL DEFAULT '[]',
    glossary            JSONB            NOT NULL DEFAULT '[]',
    activities          JSONB            NOT NULL DEFAULT '[]',
    processing_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_postprocessings_session
    ON postprocessings (class_session_id);

CREATE TABLE IF NOT EXISTS llm_analyses (
    job_id              TEXT             PRIMARY KEY REFERENCES processing_jobs (id) ON DELETE CASCADE,
    class_session_id    TEXT             NOT NULL,
    summary             TEXT             NOT NULL DEFAULT '',
    key_concepts        JSONB            NOT NULL DEFAULT '[]',
    structure           JSONB            NOT NULL DEFAULT '[]',
    terminology         JSONB            NOT NULL DEFAULT '[]',
    key_moments         JSONB            NOT NULL DEFAULT '[]',
    quality             JSONB            NOT NULL DEFAULT '{}',
    needs_review        BOOLEAN          NOT NULL DEFAULT FALSE,
    model               TEXT             NOT NULL DEFAULT '',
    processing_time_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_llm_analyses_session
    ON llm_analyses (class_session_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — research, memos, exports
// ─────────────────────────────────────────────────────────────────────────────

const ddlResearch = `
CREATE TABLE IF NOT EXISTS research_jobs (
    id               TEXT             PRIMARY KEY,
    job_id           TEXT             NOT NULL REFERENCES processing_jobs (id) ON DELETE CASCADE,
    class_session_id TEXT             NOT NULL,
    preset           TEXT             NOT NULL DEFAULT '',
    status           TEXT             NOT NULL DEFAULT 'PENDING',
    progress_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_term     TEXT             NOT NULL DEFAULT '',
    terms_total      INT              NOT NULL DEFAULT 0,
    terms_researched INT              NOT NULL DEFAULT 0,
    terms_failed     INT              NOT NULL DEFAULT 0,
    cache_hits       INT              NOT NULL DEFAULT 0,
    cache_misses     INT              NOT NULL DEFAULT 0,
    warnings         JSONB            NOT NULL DEFAULT '[]',
    started_at       TIMESTAMPTZ,
    finished_at      TIMESTAMPTZ,
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_jobs_job
    ON research_jobs (job_id);

CREATE TABLE IF NOT EXISTS research_results (
    id              TEXT         PRIMARY KEY,
    research_job_id TEXT         NOT NULL REFERENCES research_jobs (id) ON DELETE CASCADE,
    term            TEXT         NOT NULL,
    grade           TEXT         NOT NULL DEFAULT '',
    cache_hit       BOOLEAN      NOT NULL DEFAULT FALSE,
    payload         JSONB        NOT NULL,
    researched_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_results_job
    ON research_results (research_job_id);
`

const ddlArtifacts = `
CREATE TABLE IF NOT EXISTS micro_memos (
    id               TEXT             PRIMARY KEY,
    class_session_id TEXT             NOT NULL REFERENCES class_sessions (id) ON DELETE CASCADE,
    memo_type        TEXT             NOT NULL,
    question         TEXT             NOT NULL,
    answer           TEXT             NOT NULL,
    difficulty       TEXT             NOT NULL DEFAULT 'medium',
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    tags             JSONB            NOT NULL DEFAULT '[]',
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_micro_memos_session
    ON micro_memos (class_session_id);

CREATE TABLE IF NOT EXISTS export_sessions (
    id               TEXT             PRIMARY KEY,
    class_session_id TEXT             NOT NULL REFERENCES class_sessions (id) ON DELETE CASCADE,
    format           TEXT             NOT NULL,
    files            JSONB            NOT NULL DEFAULT '[]',
    artifact_count   INT              NOT NULL DEFAULT 0,
    quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_export_sessions_session
    ON export_sessions (class_session_id);
`

// ddlVoiceprints returns the voiceprint DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlVoiceprints(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS lecturer_voiceprints (
    lecturer_id   TEXT         PRIMARY KEY,
    lecturer_name TEXT         NOT NULL,
    embedding     vector(%d)   NOT NULL,
    enrolled_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voiceprints_embedding
    ON lecturer_voiceprints USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the dimension of the voice embeddings the
// diarization backend produces (256 for the default pyannote deployment).
// Changing this value after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlClassSessions,
		ddlUploadSessions,
		ddlChunkUploads,
		ddlProcessingJobs,
		ddlStageResults,
		ddlResearch,
		ddlArtifacts,
		ddlVoiceprints(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
