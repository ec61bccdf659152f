package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

func seed(t *testing.T, s *MemStore) {
	t.Helper()
	ctx := context.Background()
	err := s.CreateClassSession(ctx, &types.ClassSession{
		ID:            "cs-1",
		Date:          time.Now(),
		Subject:       "Anatomia",
		PipelineState: types.StateUploaded,
	})
	if err != nil {
		t.Fatalf("CreateClassSession: %v", err)
	}
	err = s.CreateJob(ctx, &types.ProcessingJob{
		ID:             "job-1",
		ClassSessionID: "cs-1",
		Kind:           types.KindFull,
		State:          types.JobPending,
		MaxRetries:     3,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
}

func TestTransitionSession_CAS(t *testing.T) {
	s := NewMemStore()
	seed(t, s)
	ctx := context.Background()

	if err := s.TransitionSession(ctx, "cs-1", types.StateUploaded, types.StateASR); err != nil {
		t.Fatalf("transition: %v", err)
	}
	err := s.TransitionSession(ctx, "cs-1", types.StateUploaded, types.StateASR)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("replay error = %v, want ErrConflict", err)
	}
	err = s.TransitionSession(ctx, "nope", types.StateUploaded, types.StateASR)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing error = %v, want ErrNotFound", err)
	}
}

func TestRecordChunk_DuplicateKeepsOriginal(t *testing.T) {
	s := NewMemStore()
	seed(t, s)
	ctx := context.Background()

	err := s.CreateUploadSession(ctx, &types.UploadSession{
		ID:             "up-1",
		ClassSessionID: "cs-1",
		State:          types.UploadUploading,
		ExpectedChunks: 2,
		ExpiresAt:      time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateUploadSession: %v", err)
	}

	added, err := s.RecordChunk(ctx, "up-1", 1, types.ChunkInfo{Size: 10, Checksum: "aa"}, types.ChunkUpload{ID: "a-1"})
	if err != nil || !added {
		t.Fatalf("first RecordChunk = (%v, %v)", added, err)
	}
	added, err = s.RecordChunk(ctx, "up-1", 1, types.ChunkInfo{Size: 99, Checksum: "bb"}, types.ChunkUpload{ID: "a-2"})
	if err != nil || added {
		t.Fatalf("duplicate RecordChunk = (%v, %v), want (false, nil)", added, err)
	}

	us, _ := s.GetUploadSession(ctx, "up-1")
	if us.Chunks[1].Size != 10 {
		t.Errorf("chunk 1 size = %d, duplicate overwrote original", us.Chunks[1].Size)
	}
	if got := len(s.AuditTrail()); got != 1 {
		t.Errorf("audit rows = %d, want 1 (no audit for duplicates)", got)
	}
}

func TestOneActiveUploadPerSession(t *testing.T) {
	s := NewMemStore()
	seed(t, s)
	ctx := context.Background()

	mk := func(id string) *types.UploadSession {
		return &types.UploadSession{ID: id, ClassSessionID: "cs-1", State: types.UploadInitiated, ExpiresAt: time.Now().Add(time.Hour)}
	}
	if err := s.CreateUploadSession(ctx, mk("up-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateUploadSession(ctx, mk("up-2")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("second active error = %v, want ErrDuplicate", err)
	}
	if err := s.SetUploadState(ctx, "up-1", types.UploadExpired, "deadline passed"); err != nil {
		t.Fatalf("SetUploadState: %v", err)
	}
	if err := s.CreateUploadSession(ctx, mk("up-2")); err != nil {
		t.Errorf("create after terminal: %v", err)
	}
}

func TestAdvanceStage_ReplayRejected(t *testing.T) {
	s := NewMemStore()
	seed(t, s)
	ctx := context.Background()

	if err := s.TransitionSession(ctx, "cs-1", types.StateUploaded, types.StateASR); err != nil {
		t.Fatalf("transition: %v", err)
	}

	adv := store.StageAdvance{
		JobID:          "job-1",
		ClassSessionID: "cs-1",
		Stage:          types.StageASR,
		Result:         &types.TranscriptionResult{JobID: "job-1", ClassSessionID: "cs-1", Text: "testo", AudioDurationSec: 12},
		JobProgress:    20,
		SessionState:   types.StateDiarization,
	}
	if err := s.AdvanceStage(ctx, adv); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}

	err := s.AdvanceStage(ctx, adv)
	if !errors.Is(err, store.ErrStageCompleted) {
		t.Fatalf("replay error = %v, want ErrStageCompleted", err)
	}

	cs, _ := s.GetClassSession(ctx, "cs-1")
	if cs.PipelineState != types.StateDiarization {
		t.Errorf("state = %s, want DIARIZATION", cs.PipelineState)
	}
	if cs.AudioDurationSec != 12 {
		t.Errorf("duration = %v, want 12", cs.AudioDurationSec)
	}
	job, _ := s.GetJob(ctx, "job-1")
	if job.ProgressPct != 20 || job.CurrentStage != types.StageASR {
		t.Errorf("job = %v%% at %s", job.ProgressPct, job.CurrentStage)
	}
}

func TestAdvanceStage_WrongSessionState(t *testing.T) {
	s := NewMemStore()
	seed(t, s)
	ctx := context.Background()

	// Session still UPLOADED; an ASR advance needs it in ASR.
	err := s.AdvanceStage(ctx, store.StageAdvance{
		JobID:          "job-1",
		ClassSessionID: "cs-1",
		Stage:          types.StageASR,
		Result:         &types.TranscriptionResult{JobID: "job-1", ClassSessionID: "cs-1"},
		SessionState:   types.StateDiarization,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
	if done, _ := s.HasStageCompletion(ctx, "job-1", types.StageASR); done {
		t.Error("completion recorded despite conflict")
	}
}

func TestFailJob_CascadesToSession(t *testing.T) {
	s := NewMemStore()
	seed(t, s)
	ctx := context.Background()

	if err := s.FailJob(ctx, "job-1", "boom", map[string]any{"stage": "asr"}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	cs, _ := s.GetClassSession(ctx, "cs-1")
	if cs.PipelineState != types.StateError {
		t.Errorf("session state = %s, want ERROR", cs.PipelineState)
	}

	// ERROR is not terminal, so an explicit cancel still applies once.
	cancelled, err := s.CancelJob(ctx, "job-1")
	if err != nil || !cancelled {
		t.Fatalf("CancelJob = (%v, %v), want (true, nil)", cancelled, err)
	}
	cancelled, err = s.CancelJob(ctx, "job-1")
	if err != nil || cancelled {
		t.Errorf("second CancelJob = (%v, %v), want (false, nil)", cancelled, err)
	}
}

func TestMatchLecturerVoice(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.EnrollLecturerVoice(ctx, types.Lecturer{ID: "l-1", Name: "Bianchi"}, []float32{1, 0})
	_ = s.EnrollLecturerVoice(ctx, types.Lecturer{ID: "l-2", Name: "Rossi"}, []float32{0, 1})

	got, dist, err := s.MatchLecturerVoice(ctx, []float32{0.9, 0.1}, 0.2)
	if err != nil {
		t.Fatalf("MatchLecturerVoice: %v", err)
	}
	if got.ID != "l-1" || dist <= 0 {
		t.Errorf("match = %s at %v, want l-1", got.ID, dist)
	}

	_, _, err = s.MatchLecturerVoice(ctx, []float32{0, 1}, -1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("out-of-range match error = %v, want ErrNotFound", err)
	}
}
