package pipeline_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aulavox/aulavox/internal/pipeline"
	"github.com/aulavox/aulavox/internal/queue"
	"github.com/aulavox/aulavox/internal/queue/memq"
	"github.com/aulavox/aulavox/pkg/store/memstore"
	"github.com/aulavox/aulavox/pkg/types"
)

// callLog records the order stages executed in across runners.
type callLog struct {
	mu     sync.Mutex
	stages []types.Stage
}

func (l *callLog) add(s types.Stage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, s)
}

func (l *callLog) snapshot() []types.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Stage(nil), l.stages...)
}

// stubRunner is a canned StageRunner. Each call consumes one queued error;
// once drained it succeeds with result. A run override takes full control.
type stubRunner struct {
	stage  types.Stage
	result any
	log    *callLog
	run    func(ctx context.Context, env pipeline.StageEnv) (any, error)

	mu    sync.Mutex
	errs  []error
	calls int
}

var _ pipeline.StageRunner = (*stubRunner)(nil)

func (s *stubRunner) Stage() types.Stage { return s.stage }

func (s *stubRunner) Run(ctx context.Context, env pipeline.StageEnv) (any, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	}
	s.mu.Unlock()

	if s.log != nil {
		s.log.add(s.stage)
	}
	if s.run != nil {
		return s.run(ctx, env)
	}
	if err != nil {
		return nil, err
	}
	return s.result, nil
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newWorker(t *testing.T, e *env, runners []pipeline.StageRunner, opts ...pipeline.WorkerOption) *pipeline.Worker {
	t.Helper()
	w, err := pipeline.NewWorker(e.store, e.q, e.orch, runners, opts...)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

// startWorker runs w until the test ends.
func startWorker(t *testing.T, w *pipeline.Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within 5s: %s", msg)
}

func TestWorkerHandlesStageToCompletion(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)
	stub := &stubRunner{stage: types.StageASR, result: &types.TranscriptionResult{Text: "trascrizione", AudioDurationSec: 60}}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}))

	job := mustStart(t, e, pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindASROnly})
	waitFor(t, "job done", func() bool {
		return getJob(t, e.store, job.ID).State == types.JobDone
	})

	fresh := getJob(t, e.store, job.ID)
	if fresh.DeviceUsed != "cpu" {
		t.Errorf("device = %q, want cpu", fresh.DeviceUsed)
	}
	if fresh.ProgressPct != 20 {
		t.Errorf("progress = %v, want 20", fresh.ProgressPct)
	}
	if got := getSession(t, e.store, "cs-1").PipelineState; got != types.StateDiarization {
		t.Errorf("session state = %s, want parked %s", got, types.StateDiarization)
	}
	if stub.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1", stub.callCount())
	}
}

func TestWorkerFullPipeline(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)

	log := &callLog{}
	runners := []pipeline.StageRunner{
		&stubRunner{stage: types.StageASR, log: log, result: &types.TranscriptionResult{Text: "lezione", Language: "it", AudioDurationSec: 54.3}},
		&stubRunner{stage: types.StageDiarization, log: log, result: &types.DiarizationResult{SpeakerCount: 2}},
		&stubRunner{stage: types.StagePostprocess, log: log, result: &types.PostProcessingResult{CorrectedText: "lezione"}},
		&stubRunner{stage: types.StageNLP, log: log, result: &types.LLMAnalysisResult{Summary: "sintesi"}},
		&stubRunner{stage: types.StageResearch, log: log},
		&stubRunner{stage: types.StageExport, log: log},
	}
	startWorker(t, newWorker(t, e, runners))

	job := mustStart(t, e, pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindFull})
	waitFor(t, "pipeline done", func() bool {
		return getSession(t, e.store, "cs-1").PipelineState == types.StateDone
	})

	got := log.snapshot()
	if len(got) != len(types.StageOrder) {
		t.Fatalf("stages run = %v, want %v", got, types.StageOrder)
	}
	for i, stage := range types.StageOrder {
		if got[i] != stage {
			t.Errorf("stage[%d] = %s, want %s", i, got[i], stage)
		}
	}
	fresh := getJob(t, e.store, job.ID)
	if fresh.State != types.JobDone || fresh.ProgressPct != 100 {
		t.Errorf("job = %s at %v%%, want DONE at 100%%", fresh.State, fresh.ProgressPct)
	}
	if got := getSession(t, e.store, "cs-1").AudioDurationSec; got != 54.3 {
		t.Errorf("session duration = %v, want 54.3", got)
	}
	if done, _ := e.notif.counts(); done != 1 {
		t.Errorf("done notifications = %d, want 1", done)
	}
}

func TestWorkerTransientFailureEscalates(t *testing.T) {
	t.Parallel()
	// Scheduled retries fire immediately so the test does not sleep through
	// backoff.
	e := newEnv(t, pipeline.WithScheduler(func(_ time.Duration, fn func()) { fn() }))
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)

	stub := &stubRunner{
		stage:  types.StageASR,
		result: &types.TranscriptionResult{Text: "al terzo tentativo"},
		errs: []error{
			types.Errorf(types.KindTransient, "whisper backend timeout"),
			types.Errorf(types.KindTransient, "whisper backend timeout"),
		},
	}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}))

	job := mustStart(t, e, pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindASROnly})
	waitFor(t, "job done after retries", func() bool {
		return getJob(t, e.store, job.ID).State == types.JobDone
	})

	fresh := getJob(t, e.store, job.ID)
	if fresh.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", fresh.RetryCount)
	}
	if stub.callCount() != 3 {
		t.Errorf("runner calls = %d, want 3", stub.callCount())
	}
}

func TestWorkerFatalFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)

	stub := &stubRunner{
		stage: types.StageASR,
		errs:  []error{types.Errorf(types.KindValidation, "recording is not a WAV file")},
	}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}))

	job := mustStart(t, e, pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindFull})
	waitFor(t, "job errored", func() bool {
		return getJob(t, e.store, job.ID).State == types.JobError
	})

	if stub.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1", stub.callCount())
	}
	if got := getSession(t, e.store, "cs-1").PipelineState; got != types.StateError {
		t.Errorf("session state = %s, want %s", got, types.StateError)
	}
	waitFor(t, "task acked", func() bool {
		return queueLen(t, e.q, queue.Processing) == 0
	})
	if len(e.sched.recorded()) != 0 {
		t.Errorf("scheduled retries = %d, want 0 for a non-retriable failure", len(e.sched.recorded()))
	}
}

func TestWorkerCancellationDiscardsOutput(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)

	started := make(chan struct{})
	stub := &stubRunner{stage: types.StageASR}
	stub.run = func(ctx context.Context, env pipeline.StageEnv) (any, error) {
		close(started)
		// Grind until a progress probe observes the cancelled job and the
		// run context collapses.
		p := 0.0
		for {
			select {
			case <-ctx.Done():
				return nil, types.ErrCancelled
			case <-time.After(2 * time.Millisecond):
			}
			p += 0.05
			env.Progress(p)
		}
	}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}))

	job := mustStart(t, e, pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindFull})
	<-started
	if cancelled, err := e.orch.Cancel(context.Background(), job.ID); err != nil || !cancelled {
		t.Fatalf("Cancel = %v, %v; want true, nil", cancelled, err)
	}

	waitFor(t, "task discarded", func() bool {
		return queueLen(t, e.q, queue.Processing) == 0
	})
	if got := getJob(t, e.store, job.ID).State; got != types.JobCancelled {
		t.Errorf("job state = %s, want %s", got, types.JobCancelled)
	}
	if _, err := e.store.GetTranscription(context.Background(), job.ID); err == nil {
		t.Error("transcription persisted despite cancellation")
	}
	if done, _ := e.store.HasStageCompletion(context.Background(), job.ID, types.StageASR); done {
		t.Error("stage completion recorded despite cancellation")
	}
}

func TestWorkerDeadLettersUnrunnableTasks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	stub := &stubRunner{stage: types.StageASR}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}))
	ctx := context.Background()

	bogus := queue.NewStageTask("j-1", types.Stage("bogus"), queue.StagePayload{ClassSessionID: "cs-1"})
	if _, err := e.q.Enqueue(ctx, queue.Processing, bogus); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	orphan := queue.NewStageTask("ghost", types.StageASR, queue.StagePayload{ClassSessionID: "cs-1"})
	if _, err := e.q.Enqueue(ctx, queue.Processing, orphan); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var letters []queue.DeadLetter
	waitFor(t, "both tasks dead-lettered", func() bool {
		var err error
		letters, err = e.q.ListDeadLetters(ctx, queue.Processing, 10)
		return err == nil && len(letters) == 2
	})
	reasons := []string{letters[0].Reason, letters[1].Reason}
	joined := strings.Join(reasons, " | ")
	if !strings.Contains(joined, "no runner") {
		t.Errorf("reasons %q lack an unknown-stage entry", joined)
	}
	if !strings.Contains(joined, "job not found") {
		t.Errorf("reasons %q lack a vanished-job entry", joined)
	}
	if stub.callCount() != 0 {
		t.Errorf("runner calls = %d, want 0", stub.callCount())
	}
}

func TestWorkerSkipsInactiveJob(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)
	ctx := context.Background()

	job := &types.ProcessingJob{
		ID:             "j-stale",
		ClassSessionID: "cs-1",
		Kind:           types.KindFull,
		State:          types.JobError,
		LastError:      "failed on an earlier run",
		MaxRetries:     3,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	task := queue.NewStageTask(job.ID, types.StageASR, queue.StagePayload{ClassSessionID: "cs-1"})
	if _, err := e.q.Enqueue(ctx, queue.Processing, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stub := &stubRunner{stage: types.StageASR}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}))

	waitFor(t, "stale task acked", func() bool {
		return queueLen(t, e.q, queue.Processing) == 0
	})
	if stub.callCount() != 0 {
		t.Errorf("runner calls = %d, want 0", stub.callCount())
	}
	letters, err := e.q.ListDeadLetters(ctx, queue.Processing, 10)
	if err != nil || len(letters) != 0 {
		t.Errorf("dead letters = %v, %v; want none", letters, err)
	}
	if got := getJob(t, e.store, job.ID).State; got != types.JobError {
		t.Errorf("job state = %s, want untouched %s", got, types.JobError)
	}
}

func TestWorkerInProcessRetries(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	seedSession(t, e.store, "cs-1", types.StateUploaded, recordingURL)

	stub := &stubRunner{
		stage:  types.StageASR,
		result: &types.TranscriptionResult{Text: "riuscito"},
		errs: []error{
			types.Errorf(types.KindTransient, "model loading"),
			types.Errorf(types.KindTransient, "model loading"),
		},
	}
	startWorker(t, newWorker(t, e, []pipeline.StageRunner{stub}, pipeline.WithStageAttempts(3)))

	job := mustStart(t, e, pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindASROnly})
	waitFor(t, "job done", func() bool {
		return getJob(t, e.store, job.ID).State == types.JobDone
	})

	if stub.callCount() != 3 {
		t.Errorf("runner calls = %d, want 3", stub.callCount())
	}
	if got := getJob(t, e.store, job.ID).RetryCount; got != 0 {
		t.Errorf("retry count = %d, want 0 (in-process attempts are not job retries)", got)
	}
	if len(e.sched.recorded()) != 0 {
		t.Errorf("scheduled retries = %d, want 0", len(e.sched.recorded()))
	}
}

// progressStore records every persisted progress value.
type progressStore struct {
	*memstore.MemStore
	mu       sync.Mutex
	progress []float64
}

func (s *progressStore) SetJobProgress(ctx context.Context, jobID string, pct float64) error {
	s.mu.Lock()
	s.progress = append(s.progress, pct)
	s.mu.Unlock()
	return s.MemStore.SetJobProgress(ctx, jobID, pct)
}

func (s *progressStore) recorded() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.progress...)
}

func TestWorkerMapsStageProgressIntoJobWindow(t *testing.T) {
	t.Parallel()
	st := &progressStore{MemStore: memstore.NewMemStore()}
	q := memq.NewMemQueue()
	orch, err := pipeline.NewOrchestrator(st, q)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	seedSession(t, st.MemStore, "cs-1", types.StateDiarization, recordingURL)

	stub := &stubRunner{stage: types.StageDiarization}
	stub.run = func(_ context.Context, env pipeline.StageEnv) (any, error) {
		for _, p := range []float64{0.25, 0.26, 0.5, 1.0} {
			env.Progress(p)
		}
		return &types.DiarizationResult{SpeakerCount: 2}, nil
	}
	w, err := pipeline.NewWorker(st, q, orch, []pipeline.StageRunner{stub})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	startWorker(t, w)

	job, err := orch.StartJob(context.Background(), pipeline.StartRequest{ClassSessionID: "cs-1", Kind: types.KindDiarizationOnly})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitFor(t, "job done", func() bool {
		j, gerr := st.GetJob(context.Background(), job.ID)
		return gerr == nil && j.State == types.JobDone
	})

	// Diarization occupies the 20..35 window. 0.26 falls under the 5-point
	// reporting step and is dropped.
	want := []float64{23.75, 27.5, 35}
	got := st.recorded()
	if len(got) != len(want) {
		t.Fatalf("persisted progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := getSession(t, st.MemStore, "cs-1").PipelineState; got != types.StatePostprocess {
		t.Errorf("session state = %s, want parked %s", got, types.StatePostprocess)
	}
}
