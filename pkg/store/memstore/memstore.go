// Package memstore provides a thread-safe, in-memory implementation of
// [store.Store]. It backs unit tests and single-process development setups;
// production deployments use pkg/store/postgres.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ store.Store = (*MemStore)(nil)

type stageKey struct {
	jobID string
	stage types.Stage
}

type voiceprint struct {
	lecturer  types.Lecturer
	embedding []float32
}

// MemStore keeps every entity in maps guarded by a single mutex. Use
// [NewMemStore] to construct one.
type MemStore struct {
	mu sync.RWMutex

	sessions map[string]*types.ClassSession
	uploads  map[string]*types.UploadSession
	audits   []types.ChunkUpload
	jobs     map[string]*types.ProcessingJob

	completions     map[stageKey]time.Time
	transcriptions  map[string]*types.TranscriptionResult
	diarizations    map[string]*types.DiarizationResult
	postprocessings map[string]*types.PostProcessingResult
	analyses        map[string]*types.LLMAnalysisResult

	researchJobs    map[string]*types.ResearchJob
	researchResults map[string][]types.ResearchResult

	memos   map[string][]types.MicroMemo
	exports map[string]*types.ExportSession

	voiceprints map[string]voiceprint
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:        make(map[string]*types.ClassSession),
		uploads:         make(map[string]*types.UploadSession),
		jobs:            make(map[string]*types.ProcessingJob),
		completions:     make(map[stageKey]time.Time),
		transcriptions:  make(map[string]*types.TranscriptionResult),
		diarizations:    make(map[string]*types.DiarizationResult),
		postprocessings: make(map[string]*types.PostProcessingResult),
		analyses:        make(map[string]*types.LLMAnalysisResult),
		researchJobs:    make(map[string]*types.ResearchJob),
		researchResults: make(map[string][]types.ResearchResult),
		memos:           make(map[string][]types.MicroMemo),
		exports:         make(map[string]*types.ExportSession),
		voiceprints:     make(map[string]voiceprint),
	}
}

// Ping implements [store.Store].
func (s *MemStore) Ping(ctx context.Context) error { return nil }

// Close implements [store.Store].
func (s *MemStore) Close() {}

// ─────────────────────────────────────────────────────────────────────────────
// ClassSessionStore
// ─────────────────────────────────────────────────────────────────────────────

// CreateClassSession implements [store.ClassSessionStore].
func (s *MemStore) CreateClassSession(ctx context.Context, cs *types.ClassSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[cs.ID]; exists {
		return fmt.Errorf("class sessions: create %s: %w", cs.ID, store.ErrDuplicate)
	}
	now := time.Now()
	cp := *cs
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.sessions[cs.ID] = &cp
	return nil
}

// GetClassSession implements [store.ClassSessionStore].
func (s *MemStore) GetClassSession(ctx context.Context, id string) (*types.ClassSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("class sessions: get %s: %w", id, store.ErrNotFound)
	}
	cp := *cs
	return &cp, nil
}

// TransitionSession implements [store.ClassSessionStore].
func (s *MemStore) TransitionSession(ctx context.Context, id string, from, to types.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, from, to)
}

func (s *MemStore) transitionLocked(id string, from, to types.PipelineState) error {
	cs, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("class sessions: transition %s: %w", id, store.ErrNotFound)
	}
	if cs.PipelineState != from {
		return fmt.Errorf("class sessions: transition %s from %s to %s: %w", id, from, to, store.ErrConflict)
	}
	cs.PipelineState = to
	cs.UpdatedAt = time.Now()
	return nil
}

// ForceSessionState implements [store.ClassSessionStore].
func (s *MemStore) ForceSessionState(ctx context.Context, id string, to types.PipelineState) error {
	return s.mutateSession(id, func(cs *types.ClassSession) { cs.PipelineState = to })
}

// SetSessionAudio implements [store.ClassSessionStore].
func (s *MemStore) SetSessionAudio(ctx context.Context, id, audioURL string) error {
	return s.mutateSession(id, func(cs *types.ClassSession) { cs.AudioURL = audioURL })
}

// SetSessionDuration implements [store.ClassSessionStore].
func (s *MemStore) SetSessionDuration(ctx context.Context, id string, seconds float64) error {
	return s.mutateSession(id, func(cs *types.ClassSession) { cs.AudioDurationSec = seconds })
}

// SetSessionLecturer implements [store.ClassSessionStore].
func (s *MemStore) SetSessionLecturer(ctx context.Context, id, lecturerID string) error {
	return s.mutateSession(id, func(cs *types.ClassSession) { cs.LecturerID = lecturerID })
}

// DeleteClassSession implements [store.ClassSessionStore]. Uploads, jobs and
// results cascade; the chunk audit trail remains.
func (s *MemStore) DeleteClassSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	for uid, us := range s.uploads {
		if us.ClassSessionID == id {
			delete(s.uploads, uid)
		}
	}
	for jid, job := range s.jobs {
		if job.ClassSessionID != id {
			continue
		}
		delete(s.jobs, jid)
		delete(s.transcriptions, jid)
		delete(s.diarizations, jid)
		delete(s.postprocessings, jid)
		delete(s.analyses, jid)
		for key := range s.completions {
			if key.jobID == jid {
				delete(s.completions, key)
			}
		}
		for rid, rj := range s.researchJobs {
			if rj.JobID == jid {
				delete(s.researchJobs, rid)
				delete(s.researchResults, rid)
			}
		}
	}
	delete(s.memos, id)
	for eid, es := range s.exports {
		if es.ClassSessionID == id {
			delete(s.exports, eid)
		}
	}
	return nil
}

func (s *MemStore) mutateSession(id string, fn func(*types.ClassSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("class sessions: %s: %w", id, store.ErrNotFound)
	}
	fn(cs)
	cs.UpdatedAt = time.Now()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// UploadStore
// ─────────────────────────────────────────────────────────────────────────────

// CreateUploadSession implements [store.UploadStore].
func (s *MemStore) CreateUploadSession(ctx context.Context, us *types.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.uploads[us.ID]; exists {
		return fmt.Errorf("upload sessions: create %s: %w", us.ID, store.ErrDuplicate)
	}
	for _, other := range s.uploads {
		if other.ClassSessionID == us.ClassSessionID && !other.State.Terminal() {
			return fmt.Errorf("upload sessions: create for class session %s: %w", us.ClassSessionID, store.ErrDuplicate)
		}
	}
	cp := cloneUpload(us)
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.uploads[us.ID] = cp
	return nil
}

// GetUploadSession implements [store.UploadStore].
func (s *MemStore) GetUploadSession(ctx context.Context, id string) (*types.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	us, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload sessions: get %s: %w", id, store.ErrNotFound)
	}
	return cloneUpload(us), nil
}

// ActiveUploadSessionFor implements [store.UploadStore].
func (s *MemStore) ActiveUploadSessionFor(ctx context.Context, classSessionID string) (*types.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, us := range s.uploads {
		if us.ClassSessionID == classSessionID && !us.State.Terminal() {
			return cloneUpload(us), nil
		}
	}
	return nil, fmt.Errorf("upload sessions: active for %s: %w", classSessionID, store.ErrNotFound)
}

// RecordChunk implements [store.UploadStore].
func (s *MemStore) RecordChunk(ctx context.Context, sessionID string, chunkNumber int, info types.ChunkInfo, audit types.ChunkUpload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	us, ok := s.uploads[sessionID]
	if !ok {
		return false, fmt.Errorf("upload sessions: record chunk %s: %w", sessionID, store.ErrNotFound)
	}
	if _, dup := us.Chunks[chunkNumber]; dup {
		return false, nil
	}
	if us.Chunks == nil {
		us.Chunks = make(map[int]types.ChunkInfo)
	}
	us.Chunks[chunkNumber] = info
	us.UpdatedAt = time.Now()
	s.audits = append(s.audits, audit)
	return true, nil
}

// SetUploadExpectedChunks implements [store.UploadStore].
func (s *MemStore) SetUploadExpectedChunks(ctx context.Context, sessionID string, n int) error {
	return s.mutateUpload(sessionID, func(us *types.UploadSession) { us.ExpectedChunks = n })
}

// SetUploadState implements [store.UploadStore].
func (s *MemStore) SetUploadState(ctx context.Context, sessionID string, state types.UploadState, lastError string) error {
	return s.mutateUpload(sessionID, func(us *types.UploadSession) {
		us.State = state
		us.LastError = lastError
	})
}

// CompleteUpload implements [store.UploadStore].
func (s *MemStore) CompleteUpload(ctx context.Context, sessionID, finalURL string) error {
	return s.mutateUpload(sessionID, func(us *types.UploadSession) {
		us.State = types.UploadCompleted
		us.FinalURL = finalURL
		us.LastError = ""
	})
}

// ListExpiredUploadSessions implements [store.UploadStore].
func (s *MemStore) ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]*types.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*types.UploadSession
	for _, us := range s.uploads {
		if us.Expired(now) {
			expired = append(expired, cloneUpload(us))
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *MemStore) mutateUpload(id string, fn func(*types.UploadSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	us, ok := s.uploads[id]
	if !ok {
		return fmt.Errorf("upload sessions: %s: %w", id, store.ErrNotFound)
	}
	fn(us)
	us.UpdatedAt = time.Now()
	return nil
}

// AuditTrail returns the chunk audit records in arrival order. Test helper.
func (s *MemStore) AuditTrail() []types.ChunkUpload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ChunkUpload, len(s.audits))
	copy(out, s.audits)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// JobStore
// ─────────────────────────────────────────────────────────────────────────────

// CreateJob implements [store.JobStore].
func (s *MemStore) CreateJob(ctx context.Context, job *types.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("jobs: create %s: %w", job.ID, store.ErrDuplicate)
	}
	cp := cloneJob(job)
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.jobs[job.ID] = cp
	return nil
}

// GetJob implements [store.JobStore].
func (s *MemStore) GetJob(ctx context.Context, id string) (*types.ProcessingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: get %s: %w", id, store.ErrNotFound)
	}
	return cloneJob(job), nil
}

// MarkJobRunning implements [store.JobStore].
func (s *MemStore) MarkJobRunning(ctx context.Context, id string, stage types.Stage, device string) error {
	return s.mutateJob(id, func(job *types.ProcessingJob) {
		job.State = types.JobRunning
		job.CurrentStage = stage
		job.DeviceUsed = device
		if job.StartedAt == nil {
			now := time.Now()
			job.StartedAt = &now
		}
	})
}

// SetJobProgress implements [store.JobStore]. Lower values are dropped so the
// stored progress stays monotonic.
func (s *MemStore) SetJobProgress(ctx context.Context, id string, pct float64) error {
	return s.mutateJob(id, func(job *types.ProcessingJob) {
		if pct > job.ProgressPct {
			job.ProgressPct = pct
		}
	})
}

// SetJobTaskID implements [store.JobStore].
func (s *MemStore) SetJobTaskID(ctx context.Context, id, taskID string) error {
	return s.mutateJob(id, func(job *types.ProcessingJob) { job.QueueTaskID = taskID })
}

// IncrementJobRetry implements [store.JobStore].
func (s *MemStore) IncrementJobRetry(ctx context.Context, id string) (int, error) {
	var count int
	err := s.mutateJob(id, func(job *types.ProcessingJob) {
		job.RetryCount++
		count = job.RetryCount
	})
	return count, err
}

// FailJob implements [store.JobStore].
func (s *MemStore) FailJob(ctx context.Context, id, lastError string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobs: fail %s: %w", id, store.ErrNotFound)
	}
	now := time.Now()
	job.State = types.JobError
	job.LastError = lastError
	job.ErrorDetails = details
	job.FinishedAt = &now
	job.UpdatedAt = now
	if cs, ok := s.sessions[job.ClassSessionID]; ok {
		cs.PipelineState = types.StateError
		cs.UpdatedAt = now
	}
	return nil
}

// CancelJob implements [store.JobStore].
func (s *MemStore) CancelJob(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("jobs: cancel %s: %w", id, store.ErrNotFound)
	}
	if job.State.Terminal() {
		return false, nil
	}
	now := time.Now()
	job.State = types.JobCancelled
	job.FinishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

// ResetJobForRetry implements [store.JobStore].
func (s *MemStore) ResetJobForRetry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobs: reset for retry %s: %w", id, store.ErrNotFound)
	}
	if job.State != types.JobError {
		return fmt.Errorf("jobs: reset for retry %s: not in ERROR: %w", id, store.ErrConflict)
	}
	job.State = types.JobPending
	job.RetryCount = 0
	job.LastError = ""
	job.ErrorDetails = nil
	job.FinishedAt = nil
	job.UpdatedAt = time.Now()
	return nil
}

// AddJobWarning implements [store.JobStore].
func (s *MemStore) AddJobWarning(ctx context.Context, id, warning string) error {
	return s.mutateJob(id, func(job *types.ProcessingJob) {
		job.Warnings = append(job.Warnings, warning)
	})
}

func (s *MemStore) mutateJob(id string, fn func(*types.ProcessingJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("jobs: %s: %w", id, store.ErrNotFound)
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ResultStore
// ─────────────────────────────────────────────────────────────────────────────

// AdvanceStage implements [store.ResultStore]. All effects apply under one
// lock acquisition, so observers never see a partial advance.
func (s *MemStore) AdvanceStage(ctx context.Context, adv store.StageAdvance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stageKey{jobID: adv.JobID, stage: adv.Stage}
	if _, done := s.completions[key]; done && !adv.Overwrite {
		return fmt.Errorf("results: advance stage %s/%s: %w", adv.JobID, adv.Stage, store.ErrStageCompleted)
	}

	job, ok := s.jobs[adv.JobID]
	if !ok {
		return fmt.Errorf("results: advance stage: job %s: %w", adv.JobID, store.ErrNotFound)
	}
	cs, ok := s.sessions[adv.ClassSessionID]
	if !ok {
		return fmt.Errorf("results: advance stage: session %s: %w", adv.ClassSessionID, store.ErrNotFound)
	}
	from := adv.Stage.State()
	if cs.PipelineState != from {
		return fmt.Errorf("results: advance stage: session %s from %s to %s: %w",
			adv.ClassSessionID, from, adv.SessionState, store.ErrConflict)
	}

	switch r := adv.Result.(type) {
	case nil:
	case *types.TranscriptionResult:
		cp := *r
		s.transcriptions[adv.JobID] = &cp
		cs.AudioDurationSec = r.AudioDurationSec
	case *types.DiarizationResult:
		cp := *r
		s.diarizations[adv.JobID] = &cp
		if r.MatchedLecturerID != "" && cs.LecturerID == "" {
			cs.LecturerID = r.MatchedLecturerID
		}
	case *types.PostProcessingResult:
		cp := *r
		s.postprocessings[adv.JobID] = &cp
	case *types.LLMAnalysisResult:
		cp := *r
		s.analyses[adv.JobID] = &cp
	default:
		return fmt.Errorf("results: advance stage: unsupported result type %T", adv.Result)
	}

	now := time.Now()
	s.completions[key] = now
	job.CurrentStage = adv.Stage
	if adv.JobProgress > job.ProgressPct {
		job.ProgressPct = adv.JobProgress
	}
	if adv.FinishJob {
		job.State = types.JobDone
		job.FinishedAt = &now
	}
	job.UpdatedAt = now
	cs.PipelineState = adv.SessionState
	cs.UpdatedAt = now
	return nil
}

// HasStageCompletion implements [store.ResultStore].
func (s *MemStore) HasStageCompletion(ctx context.Context, jobID string, stage types.Stage) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, done := s.completions[stageKey{jobID: jobID, stage: stage}]
	return done, nil
}

// GetTranscription implements [store.ResultStore].
func (s *MemStore) GetTranscription(ctx context.Context, jobID string) (*types.TranscriptionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.transcriptions[jobID]
	if !ok {
		return nil, fmt.Errorf("results: get transcription for job %s: %w", jobID, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// GetDiarization implements [store.ResultStore].
func (s *MemStore) GetDiarization(ctx context.Context, jobID string) (*types.DiarizationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.diarizations[jobID]
	if !ok {
		return nil, fmt.Errorf("results: get diarization for job %s: %w", jobID, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// GetPostProcessing implements [store.ResultStore].
func (s *MemStore) GetPostProcessing(ctx context.Context, jobID string) (*types.PostProcessingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.postprocessings[jobID]
	if !ok {
		return nil, fmt.Errorf("results: get postprocessing for job %s: %w", jobID, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// GetLLMAnalysis implements [store.ResultStore].
func (s *MemStore) GetLLMAnalysis(ctx context.Context, jobID string) (*types.LLMAnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.analyses[jobID]
	if !ok {
		return nil, fmt.Errorf("results: get llm analysis for job %s: %w", jobID, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// CreateResearchJob implements [store.ResultStore].
func (s *MemStore) CreateResearchJob(ctx context.Context, rj *types.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.researchJobs[rj.ID]; exists {
		return fmt.Errorf("research jobs: create %s: %w", rj.ID, store.ErrDuplicate)
	}
	cp := *rj
	cp.CreatedAt = time.Now()
	s.researchJobs[rj.ID] = &cp
	return nil
}

// UpdateResearchJob implements [store.ResultStore].
func (s *MemStore) UpdateResearchJob(ctx context.Context, rj *types.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.researchJobs[rj.ID]
	if !ok {
		return fmt.Errorf("research jobs: update %s: %w", rj.ID, store.ErrNotFound)
	}
	cp := *rj
	cp.CreatedAt = existing.CreatedAt
	s.researchJobs[rj.ID] = &cp
	return nil
}

// GetResearchJobByJobID implements [store.ResultStore].
func (s *MemStore) GetResearchJobByJobID(ctx context.Context, jobID string) (*types.ResearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *types.ResearchJob
	for _, rj := range s.researchJobs {
		if rj.JobID != jobID {
			continue
		}
		if latest == nil || rj.CreatedAt.After(latest.CreatedAt) {
			latest = rj
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("research jobs: for job %s: %w", jobID, store.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

// AddResearchResult implements [store.ResultStore].
func (s *MemStore) AddResearchResult(ctx context.Context, r *types.ResearchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.researchResults[r.ResearchJobID] = append(s.researchResults[r.ResearchJobID], *r)
	return nil
}

// ListResearchResults implements [store.ResultStore].
func (s *MemStore) ListResearchResults(ctx context.Context, researchJobID string) ([]types.ResearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.researchResults[researchJobID]
	out := make([]types.ResearchResult, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return out[i].ResearchedAt.Before(out[j].ResearchedAt) })
	return out, nil
}

// SaveMicroMemos implements [store.ResultStore].
func (s *MemStore) SaveMicroMemos(ctx context.Context, memos []types.MicroMemo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range memos {
		existing := s.memos[m.ClassSessionID]
		replaced := false
		for i := range existing {
			if existing[i].ID == m.ID {
				existing[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, m)
		}
		s.memos[m.ClassSessionID] = existing
	}
	return nil
}

// ListMicroMemos implements [store.ResultStore].
func (s *MemStore) ListMicroMemos(ctx context.Context, classSessionID string, minConfidence float64) ([]types.MicroMemo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.MicroMemo
	for _, m := range s.memos[classSessionID] {
		if m.Confidence >= minConfidence {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SaveExportSession implements [store.ResultStore].
func (s *MemStore) SaveExportSession(ctx context.Context, es *types.ExportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *es
	cp.Files = append([]types.ExportFile(nil), es.Files...)
	s.exports[es.ID] = &cp
	return nil
}

// GetExportSession implements [store.ResultStore].
func (s *MemStore) GetExportSession(ctx context.Context, id string) (*types.ExportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, ok := s.exports[id]
	if !ok {
		return nil, fmt.Errorf("export sessions: get %s: %w", id, store.ErrNotFound)
	}
	cp := *es
	cp.Files = append([]types.ExportFile(nil), es.Files...)
	return &cp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// VoiceprintStore
// ─────────────────────────────────────────────────────────────────────────────

// EnrollLecturerVoice implements [store.VoiceprintStore].
func (s *MemStore) EnrollLecturerVoice(ctx context.Context, lecturer types.Lecturer, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("voiceprints: enroll %s: empty embedding", lecturer.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiceprints[lecturer.ID] = voiceprint{
		lecturer:  lecturer,
		embedding: append([]float32(nil), embedding...),
	}
	return nil
}

// MatchLecturerVoice implements [store.VoiceprintStore].
func (s *MemStore) MatchLecturerVoice(ctx context.Context, embedding []float32, maxDistance float64) (*types.Lecturer, float64, error) {
	if len(embedding) == 0 {
		return nil, 0, fmt.Errorf("voiceprints: match: empty embedding")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := math.Inf(1)
	var found *types.Lecturer
	for _, vp := range s.voiceprints {
		d := cosineDistance(embedding, vp.embedding)
		if d < best {
			best = d
			l := vp.lecturer
			found = &l
		}
	}
	if found == nil {
		return nil, 0, fmt.Errorf("voiceprints: match: %w", store.ErrNotFound)
	}
	if best > maxDistance {
		return nil, best, fmt.Errorf("voiceprints: match: nearest lecturer at distance %.3f: %w", best, store.ErrNotFound)
	}
	return found, best, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func cloneUpload(us *types.UploadSession) *types.UploadSession {
	cp := *us
	cp.Chunks = make(map[int]types.ChunkInfo, len(us.Chunks))
	for n, c := range us.Chunks {
		cp.Chunks[n] = c
	}
	return &cp
}

func cloneJob(job *types.ProcessingJob) *types.ProcessingJob {
	cp := *job
	cp.Warnings = append([]string(nil), job.Warnings...)
	if job.ErrorDetails != nil {
		cp.ErrorDetails = make(map[string]any, len(job.ErrorDetails))
		for k, v := range job.ErrorDetails {
			cp.ErrorDetails[k] = v
		}
	}
	return &cp
}

// cosineDistance is 1 minus the cosine similarity of a and b; 1 when either
// vector has zero magnitude or the lengths differ.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
