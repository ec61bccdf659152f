package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aulavox/aulavox/internal/memo"
	"github.com/aulavox/aulavox/pkg/blob/memblob"
	"github.com/aulavox/aulavox/pkg/llm/mock"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/store/memstore"
	"github.com/aulavox/aulavox/pkg/types"
)

var exportNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

// seedPipeline walks a session through the post-processing and NLP stages so
// the export stage finds its inputs where the orchestrator would have put
// them.
func seedPipeline(t *testing.T, st *memstore.MemStore) (*types.ProcessingJob, *types.ClassSession) {
	t.Helper()
	ctx := context.Background()

	session := &types.ClassSession{
		ID:       "cs-1",
		Subject:  "Cardiologia",
		Topic:    "Ipertensione arteriosa",
		Language: "it",
	}
	if err := st.CreateClassSession(ctx, session); err != nil {
		t.Fatalf("CreateClassSession() error = %v", err)
	}
	job := &types.ProcessingJob{
		ID:             "job-1",
		ClassSessionID: "cs-1",
		Kind:           types.KindFull,
		State:          types.JobRunning,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := st.ForceSessionState(ctx, session.ID, types.StatePostprocess); err != nil {
		t.Fatalf("ForceSessionState() error = %v", err)
	}

	if err := st.AdvanceStage(ctx, store.StageAdvance{
		JobID:          job.ID,
		ClassSessionID: session.ID,
		Stage:          types.StagePostprocess,
		Result: &types.PostProcessingResult{
			JobID:          job.ID,
			ClassSessionID: session.ID,
			Glossary: []types.GlossaryEntry{
				{Term: "ACE-inibitori", Category: types.CategoryPharmacology},
				{Term: "pressione sistolica", Category: types.CategoryDiagnosis},
			},
		},
		JobProgress:  50,
		SessionState: types.StateNLP,
	}); err != nil {
		t.Fatalf("AdvanceStage(postprocess) error = %v", err)
	}

	if err := st.AdvanceStage(ctx, store.StageAdvance{
		JobID:          job.ID,
		ClassSessionID: session.ID,
		Stage:          types.StageNLP,
		Result: &types.LLMAnalysisResult{
			JobID:          job.ID,
			ClassSessionID: session.ID,
			Summary:        "La lezione tratta l'ipertensione arteriosa: soglie diagnostiche e terapia di prima linea.",
			KeyConcepts:    []string{"diagnosi", "terapia"},
			Terminology: []types.TerminologyEntry{
				{Term: "ipertensione arteriosa", Definition: "pressione arteriosa persistentemente elevata"},
				{Term: "pressione sistolica"},
			},
			KeyMoments: []types.KeyMoment{
				{TimeSec: 120, Title: "Soglie diagnostiche"},
			},
		},
		JobProgress:  65,
		SessionState: types.StateResearch,
	}); err != nil {
		t.Fatalf("AdvanceStage(nlp) error = %v", err)
	}

	return job, session
}

func seedResearch(t *testing.T, st *memstore.MemStore) {
	t.Helper()
	ctx := context.Background()

	if err := st.CreateResearchJob(ctx, &types.ResearchJob{
		ID:             "rj-1",
		JobID:          "job-1",
		ClassSessionID: "cs-1",
		Status:         types.ResearchCompleted,
	}); err != nil {
		t.Fatalf("CreateResearchJob() error = %v", err)
	}
	rows := []types.ResearchResult{
		{
			ID:            "rr-1",
			ResearchJobID: "rj-1",
			Term:          "ipertensione arteriosa",
			Definition:    types.Definition{Text: "Pressione sistolica persistentemente sopra 140 mmHg."},
			Quality:       types.ResearchQuality{Confidence: 0.9},
			Grade:         types.GradeA,
		},
		{
			ID:            "rr-2",
			ResearchJobID: "rj-1",
			Term:          "sfigmomanometro",
			Definition:    types.Definition{Text: "Strumento per la misurazione della pressione arteriosa."},
			Quality:       types.ResearchQuality{Confidence: 0.2},
			Grade:         types.GradeE,
		},
	}
	for i := range rows {
		if err := st.AddResearchResult(ctx, &rows[i]); err != nil {
			t.Fatalf("AddResearchResult() error = %v", err)
		}
	}
}

func seedMemos(t *testing.T, st *memstore.MemStore) {
	t.Helper()

	err := st.SaveMicroMemos(context.Background(), []types.MicroMemo{
		{
			ID:             "mm-1",
			ClassSessionID: "cs-1",
			Type:           types.MemoDefinition,
			Question:       "Che cosa si intende per ipertensione arteriosa?",
			Answer:         "Una pressione sistolica persistentemente sopra 140 mmHg.",
			Difficulty:     types.DifficultyEasy,
			Confidence:     0.9,
			CreatedAt:      exportNow.Add(-time.Hour),
		},
		{
			ID:             "mm-2",
			ClassSessionID: "cs-1",
			Type:           types.MemoTreatment,
			Question:       "Qual è la terapia di prima linea?",
			Answer:         "Gli ACE-inibitori.",
			Difficulty:     types.DifficultyMedium,
			Confidence:     0.3,
			CreatedAt:      exportNow.Add(-30 * time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("SaveMicroMemos() error = %v", err)
	}
}

func TestExportWritesConfiguredFormats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memstore.NewMemStore()
	blobs := memblob.New("aulavox-test")
	job, session := seedPipeline(t, st)
	seedResearch(t, st)
	seedMemos(t, st)

	svc, err := New(st, blobs,
		WithFormats(types.ExportJSON, types.ExportCSV),
		WithClock(func() time.Time { return exportNow }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var reports []float64
	progress := func(pct float64) { reports = append(reports, pct) }
	if err := svc.Export(ctx, job, session, progress); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if len(reports) == 0 || reports[len(reports)-1] != 1 {
		t.Errorf("progress reports = %v, want final 1", reports)
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Errorf("progress regressed: %v", reports)
			break
		}
	}

	keys, err := blobs.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("stored objects = %v, want one per format", keys)
	}

	seen := make(map[types.ExportFormat]bool)
	for _, key := range keys {
		id, _, ok := strings.Cut(key, "/")
		if !ok {
			t.Fatalf("key = %q, want <export-session-id>/export.<ext>", key)
		}
		es, err := st.GetExportSession(ctx, id)
		if err != nil {
			t.Fatalf("GetExportSession(%q) error = %v", id, err)
		}
		seen[es.Format] = true

		data, err := blobs.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", key, err)
		}
		if len(es.Files) != 1 || es.Files[0].Key != key || es.Files[0].SizeBytes != int64(len(data)) {
			t.Errorf("Files = %+v, want one entry for %q with %d bytes", es.Files, key, len(data))
		}
		// 2 memos + 2 research rows + 2 glossary entries.
		if es.ArtifactCount != 6 {
			t.Errorf("ArtifactCount = %d, want 6", es.ArtifactCount)
		}
		if es.QualityScore <= 0 || es.QualityScore > 1 {
			t.Errorf("QualityScore = %v, want in (0,1]", es.QualityScore)
		}
		if !es.CreatedAt.Equal(exportNow) {
			t.Errorf("CreatedAt = %v, want %v", es.CreatedAt, exportNow)
		}

		switch es.Format {
		case types.ExportJSON:
			if !strings.Contains(string(data), `"schema_version"`) || !strings.Contains(string(data), "ipertensione arteriosa") {
				t.Errorf("json bundle missing schema version or summary content")
			}
		case types.ExportCSV:
			if !strings.HasPrefix(string(data), "section,kind,front,back,difficulty,confidence,tags") {
				t.Errorf("csv bundle header = %q", strings.SplitN(string(data), "\n", 2)[0])
			}
		}
	}
	if !seen[types.ExportJSON] || !seen[types.ExportCSV] {
		t.Errorf("formats written = %v, want json and csv", seen)
	}
}

func TestExportAppliesConfidenceFloor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memstore.NewMemStore()
	blobs := memblob.New("aulavox-test")
	job, session := seedPipeline(t, st)
	seedResearch(t, st)
	seedMemos(t, st)

	svc, err := New(st, blobs,
		WithMinConfidence(0.5),
		WithClock(func() time.Time { return exportNow }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Export(ctx, job, session, nil); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	keys, _ := blobs.List(ctx, "")
	if len(keys) != 1 {
		t.Fatalf("stored objects = %v, want 1", keys)
	}
	id, _, _ := strings.Cut(keys[0], "/")
	es, err := st.GetExportSession(ctx, id)
	if err != nil {
		t.Fatalf("GetExportSession() error = %v", err)
	}
	// The 0.3 memo and the 0.2 research row fall below the floor, leaving
	// 1 memo + 1 research row + 2 glossary entries.
	if es.ArtifactCount != 4 {
		t.Errorf("ArtifactCount = %d, want 4", es.ArtifactCount)
	}

	data, err := blobs.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if strings.Contains(string(data), "sfigmomanometro") {
		t.Errorf("low-confidence research row survived the floor")
	}
}

func TestExportWithoutResearchJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memstore.NewMemStore()
	blobs := memblob.New("aulavox-test")
	job, session := seedPipeline(t, st)
	seedMemos(t, st)

	svc, err := New(st, blobs, WithClock(func() time.Time { return exportNow }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Export(ctx, job, session, nil); err != nil {
		t.Fatalf("Export() error = %v, want research-less run to succeed", err)
	}

	keys, _ := blobs.List(ctx, "")
	id, _, _ := strings.Cut(keys[0], "/")
	es, err := st.GetExportSession(ctx, id)
	if err != nil {
		t.Fatalf("GetExportSession() error = %v", err)
	}
	// 2 memos + 2 glossary entries, no research.
	if es.ArtifactCount != 4 {
		t.Errorf("ArtifactCount = %d, want 4", es.ArtifactCount)
	}
}

func TestExportMissingAnalysisFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memstore.NewMemStore()
	session := &types.ClassSession{ID: "cs-1", Subject: "Cardiologia"}
	if err := st.CreateClassSession(ctx, session); err != nil {
		t.Fatalf("CreateClassSession() error = %v", err)
	}
	job := &types.ProcessingJob{ID: "job-1", ClassSessionID: "cs-1", Kind: types.KindFull}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	svc, err := New(st, memblob.New("b"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = svc.Export(ctx, job, session, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Export() error = %v, want ErrNotFound for missing stage results", err)
	}
}

const exportTestDeck = `{
  "cards": [
    {"type": "definition", "question": "Che cosa si intende per ipertensione arteriosa?", "answer": "Una condizione con pressione sistolica persistentemente sopra 140 mmHg, che aumenta il rischio cardiovascolare.", "difficulty": "easy", "confidence": 0.9, "tags": ["cardiologia"]},
    {"type": "treatment", "question": "Qual è la terapia di prima linea per l'ipertensione arteriosa?", "answer": "Gli ACE-inibitori sono la prima linea; il controllo della pressione sistolica riduce il rischio di eventi.", "difficulty": "hard", "confidence": 0.8, "tags": ["terapia"]}
  ]
}`

func TestExportGeneratesAndPersistsDeck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memstore.NewMemStore()
	blobs := memblob.New("aulavox-test")
	job, session := seedPipeline(t, st)
	seedResearch(t, st)

	gen := memo.New(&mock.Provider{Responses: []string{exportTestDeck}})
	svc, err := New(st, blobs,
		WithMemoGenerator(gen),
		WithClock(func() time.Time { return exportNow }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Export(ctx, job, session, nil); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	deck, err := st.ListMicroMemos(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("ListMicroMemos() error = %v", err)
	}
	if len(deck) != 2 {
		t.Fatalf("persisted deck size = %d, want 2", len(deck))
	}

	keys, _ := blobs.List(ctx, "")
	id, _, _ := strings.Cut(keys[0], "/")
	es, err := st.GetExportSession(ctx, id)
	if err != nil {
		t.Fatalf("GetExportSession() error = %v", err)
	}
	// 2 generated memos + 2 research rows + 2 glossary entries.
	if es.ArtifactCount != 6 {
		t.Errorf("ArtifactCount = %d, want 6", es.ArtifactCount)
	}
}

// recordingSynth is a DeckSynthesizer double.
type recordingSynth struct {
	memos  int
	err    error
	onCall func()
}

func (r *recordingSynth) SynthesizeDeck(ctx context.Context, session *types.ClassSession, memos []types.MicroMemo) (*types.TTSResult, error) {
	r.memos = len(memos)
	if r.onCall != nil {
		r.onCall()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &types.TTSResult{Key: "generated/deck_test.wav", DurationSec: 12}, nil
}

func TestExportDeckAudioIsBestEffort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := memstore.NewMemStore()
	blobs := memblob.New("aulavox-test")
	job, session := seedPipeline(t, st)
	seedMemos(t, st)

	synth := &recordingSynth{err: types.Errorf(types.KindExternal, "tts server down")}
	svc, err := New(st, blobs,
		WithDeckAudio(synth),
		WithClock(func() time.Time { return exportNow }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Export(ctx, job, session, nil); err != nil {
		t.Fatalf("Export() error = %v, want narration failure degraded to warning", err)
	}
	if synth.memos != 2 {
		t.Errorf("synthesizer received %d memos, want 2", synth.memos)
	}
}

func TestExportCancelledDuringNarration(t *testing.T) {
	t.Parallel()

	st := memstore.NewMemStore()
	blobs := memblob.New("aulavox-test")
	job, session := seedPipeline(t, st)
	seedMemos(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	synth := &recordingSynth{err: context.Canceled, onCall: cancel}
	svc, err := New(st, blobs, WithDeckAudio(synth))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = svc.Export(ctx, job, session, nil)
	if types.Classify(err) != types.KindFatal {
		t.Fatalf("Classify(err) = %v (err %v), want fatal (cancelled)", types.Classify(err), err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	st := memstore.NewMemStore()
	blobs := memblob.New("b")

	cases := []struct {
		name string
		opts []Option
	}{
		{"no formats", []Option{WithFormats()}},
		{"unknown format", []Option{WithFormats("txt")}},
		{"duplicate format", []Option{WithFormats(types.ExportJSON, types.ExportJSON)}},
		{"floor above one", []Option{WithMinConfidence(1.5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(st, blobs, tc.opts...)
			if types.Classify(err) != types.KindConfiguration {
				t.Fatalf("Classify(err) = %v (err %v), want configuration", types.Classify(err), err)
			}
		})
	}
	if _, err := New(nil, blobs); types.Classify(err) != types.KindConfiguration {
		t.Errorf("New(nil store) kind = %v, want configuration", types.Classify(err))
	}
}
