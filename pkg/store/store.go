// Package store defines the persistence contracts for pipeline entities:
// class sessions, chunked upload sessions, processing jobs, per-stage result
// rows, research artifacts, study artifacts and lecturer voiceprints.
//
// Implementations live in subpackages: postgres (pgx-backed, the production
// store) and memstore (in-memory, for tests and single-process development).
// All methods are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a compare-and-swap transition observes a
	// different current state than expected.
	ErrConflict = errors.New("store: state conflict")

	// ErrDuplicate is returned when a uniqueness rule would be violated,
	// e.g. a second active upload session for the same class session.
	ErrDuplicate = errors.New("store: duplicate")

	// ErrStageCompleted is returned by AdvanceStage when the (job, stage)
	// completion row already exists and overwrite was not requested. Callers
	// treat it as an idempotent duplicate, not a failure.
	ErrStageCompleted = errors.New("store: stage already completed")
)

// StageAdvance describes the atomic effect of one stage completing: the typed
// result row is upserted, a completion marker keyed by (job, stage) is
// written, the job's progress and stage advance, and the class session moves
// to its next pipeline state. Implementations apply all of it in a single
// transaction; the queue enqueue for the next stage happens outside, after
// commit.
type StageAdvance struct {
	JobID          string
	ClassSessionID string
	Stage          types.Stage

	// Result is the typed result row: *types.TranscriptionResult,
	// *types.DiarizationResult, *types.PostProcessingResult or
	// *types.LLMAnalysisResult. Research and export stages persist their
	// rows incrementally and pass nil here; only the completion marker and
	// state transition apply.
	Result any

	// JobProgress is the job's nominal progress ceiling for the stage.
	JobProgress float64

	// SessionState is the pipeline state the class session transitions to.
	// The transition is a compare-and-swap from Stage.State().
	SessionState types.PipelineState

	// FinishJob marks the job DONE (this was the final stage for its kind).
	FinishJob bool

	// Overwrite replaces an existing completion row instead of returning
	// ErrStageCompleted. Reprocessing kinds set it.
	Overwrite bool
}

// ClassSessionStore persists lecture sessions.
type ClassSessionStore interface {
	CreateClassSession(ctx context.Context, cs *types.ClassSession) error
	GetClassSession(ctx context.Context, id string) (*types.ClassSession, error)

	// TransitionSession moves the session from exactly `from` to `to`,
	// returning ErrConflict when the stored state differs from `from` and
	// ErrNotFound when the session does not exist.
	TransitionSession(ctx context.Context, id string, from, to types.PipelineState) error

	// ForceSessionState sets the state unconditionally. Used by reprocessing
	// and by explicit retry from ERROR.
	ForceSessionState(ctx context.Context, id string, to types.PipelineState) error

	SetSessionAudio(ctx context.Context, id, audioURL string) error
	SetSessionDuration(ctx context.Context, id string, seconds float64) error
	SetSessionLecturer(ctx context.Context, id, lecturerID string) error

	// DeleteClassSession removes the session and cascades to its upload
	// sessions, jobs and all stage results.
	DeleteClassSession(ctx context.Context, id string) error
}

// UploadStore persists chunked upload sessions and their audit trail.
type UploadStore interface {
	// CreateUploadSession stores a new session. It returns ErrDuplicate when
	// another non-terminal session exists for the same class session.
	CreateUploadSession(ctx context.Context, us *types.UploadSession) error
	GetUploadSession(ctx context.Context, id string) (*types.UploadSession, error)

	// ActiveUploadSessionFor returns the single non-terminal session of a
	// class session, or ErrNotFound.
	ActiveUploadSessionFor(ctx context.Context, classSessionID string) (*types.UploadSession, error)

	// RecordChunk conditionally adds a chunk receipt. added is false when the
	// chunk number was already present; nothing is overwritten in that case.
	// The append-only audit row is written only for fresh chunks.
	RecordChunk(ctx context.Context, sessionID string, chunkNumber int, info types.ChunkInfo, audit types.ChunkUpload) (added bool, err error)

	SetUploadExpectedChunks(ctx context.Context, sessionID string, n int) error
	SetUploadState(ctx context.Context, sessionID string, state types.UploadState, lastError string) error

	// CompleteUpload records the final object URL and moves the session to
	// COMPLETED.
	CompleteUpload(ctx context.Context, sessionID, finalURL string) error

	// ListExpiredUploadSessions returns non-terminal sessions whose deadline
	// passed before now, up to limit.
	ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]*types.UploadSession, error)
}

// JobStore persists processing jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.ProcessingJob) error
	GetJob(ctx context.Context, id string) (*types.ProcessingJob, error)

	// MarkJobRunning sets state RUNNING and the current stage; started_at is
	// set on first call only.
	MarkJobRunning(ctx context.Context, id string, stage types.Stage, device string) error

	// SetJobProgress raises the job progress; values below the stored one
	// are ignored so progress stays monotonic per (job, stage).
	SetJobProgress(ctx context.Context, id string, pct float64) error

	SetJobTaskID(ctx context.Context, id, taskID string) error

	// IncrementJobRetry bumps retry_count and returns the new value.
	IncrementJobRetry(ctx context.Context, id string) (int, error)

	// FailJob moves the job to ERROR with a one-line error and structured
	// details, and the owning class session to ERROR.
	FailJob(ctx context.Context, id, lastError string, details map[string]any) error

	// CancelJob moves a non-terminal job to CANCELLED. cancelled is false
	// when the job was already terminal (cancellation is then a no-op).
	CancelJob(ctx context.Context, id string) (cancelled bool, err error)

	// ResetJobForRetry re-arms an ERROR job: state PENDING, retry budget
	// restored, last error cleared. Returns ErrConflict for any other state.
	ResetJobForRetry(ctx context.Context, id string) error

	AddJobWarning(ctx context.Context, id, warning string) error
}

// ResultStore persists per-stage result rows and the completion ledger.
type ResultStore interface {
	// AdvanceStage applies a StageAdvance atomically. See the struct docs.
	AdvanceStage(ctx context.Context, adv StageAdvance) error

	// HasStageCompletion reports whether (job, stage) has a completion row.
	HasStageCompletion(ctx context.Context, jobID string, stage types.Stage) (bool, error)

	GetTranscription(ctx context.Context, jobID string) (*types.TranscriptionResult, error)
	GetDiarization(ctx context.Context, jobID string) (*types.DiarizationResult, error)
	GetPostProcessing(ctx context.Context, jobID string) (*types.PostProcessingResult, error)
	GetLLMAnalysis(ctx context.Context, jobID string) (*types.LLMAnalysisResult, error)

	CreateResearchJob(ctx context.Context, rj *types.ResearchJob) error
	UpdateResearchJob(ctx context.Context, rj *types.ResearchJob) error
	GetResearchJobByJobID(ctx context.Context, jobID string) (*types.ResearchJob, error)

	// AddResearchResult appends one finished per-term result. Results are
	// persisted incrementally so a cancelled run keeps completed terms.
	AddResearchResult(ctx context.Context, r *types.ResearchResult) error
	ListResearchResults(ctx context.Context, researchJobID string) ([]types.ResearchResult, error)

	SaveMicroMemos(ctx context.Context, memos []types.MicroMemo) error
	// ListMicroMemos returns the session's memos with confidence >=
	// minConfidence, newest first.
	ListMicroMemos(ctx context.Context, classSessionID string, minConfidence float64) ([]types.MicroMemo, error)

	SaveExportSession(ctx context.Context, es *types.ExportSession) error
	GetExportSession(ctx context.Context, id string) (*types.ExportSession, error)
}

// VoiceprintStore persists enrolled lecturer voice embeddings and serves
// nearest-voice lookups.
type VoiceprintStore interface {
	// EnrollLecturerVoice stores (or replaces) the voiceprint of a lecturer.
	EnrollLecturerVoice(ctx context.Context, lecturer types.Lecturer, embedding []float32) error

	// MatchLecturerVoice returns the enrolled lecturer whose voiceprint has
	// the smallest cosine distance to embedding, provided the distance does
	// not exceed maxDistance; ErrNotFound otherwise.
	MatchLecturerVoice(ctx context.Context, embedding []float32, maxDistance float64) (*types.Lecturer, float64, error)
}

// Store is the complete persistence surface used by the pipeline.
type Store interface {
	ClassSessionStore
	UploadStore
	JobStore
	ResultStore
	VoiceprintStore

	Ping(ctx context.Context) error
	Close()
}
