package ttsjob

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/blob/memblob"
	"github.com/aulavox/aulavox/pkg/tts/mock"
	"github.com/aulavox/aulavox/pkg/types"
)

var ttsNow = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (*Service, *mock.Engine, *memblob.Store) {
	t.Helper()
	engine := &mock.Engine{}
	blobs := memblob.New("aulavox-test")
	opts = append([]Option{
		WithFormat(types.AudioWAV),
		WithClock(func() time.Time { return ttsNow }),
	}, opts...)
	s, err := New(engine, blobs, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, engine, blobs
}

func TestSynthesizeTextWritesObject(t *testing.T) {
	t.Parallel()

	s, engine, blobs := newTestService(t, WithVoice("narratore"))

	res, err := s.SynthesizeText(context.Background(), "summary",
		"L'ipertensione arteriosa è una condizione cronica. La terapia riduce il rischio.", Config{})
	if err != nil {
		t.Fatalf("SynthesizeText() error = %v", err)
	}

	if !strings.HasPrefix(res.Key, "generated/summary_") || !strings.HasSuffix(res.Key, ".wav") {
		t.Errorf("Key = %q, want generated/summary_*.wav", res.Key)
	}
	if res.Format != types.AudioWAV {
		t.Errorf("Format = %q, want wav", res.Format)
	}
	if res.Voice != "narratore" {
		t.Errorf("Voice = %q, want narratore", res.Voice)
	}
	if res.DurationSec <= 0 || res.SizeBytes <= 0 {
		t.Errorf("DurationSec = %v, SizeBytes = %d, want both positive", res.DurationSec, res.SizeBytes)
	}
	if !res.CreatedAt.Equal(ttsNow) {
		t.Errorf("CreatedAt = %v, want %v", res.CreatedAt, ttsNow)
	}

	// One engine call per sentence.
	if got := len(engine.Texts()); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}

	data, err := blobs.Get(context.Background(), res.Key)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", res.Key, err)
	}
	if int64(len(data)) != res.SizeBytes {
		t.Errorf("stored size = %d, want %d", len(data), res.SizeBytes)
	}
	if _, err := audio.ParseWAV(data); err != nil {
		t.Errorf("stored object is not valid WAV: %v", err)
	}
}

func TestSynthesizeTextEmptyInput(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t)

	_, err := s.SynthesizeText(context.Background(), "custom", "   ", Config{})
	if types.Classify(err) != types.KindValidation {
		t.Fatalf("Classify(err) = %v (err %v), want validation", types.Classify(err), err)
	}
}

func TestSynthesizeDeckStudyPauses(t *testing.T) {
	t.Parallel()

	s, engine, _ := newTestService(t)

	session := &types.ClassSession{ID: "cs-1", Subject: "Cardiologia", Topic: "Valvulopatie"}
	memos := []types.MicroMemo{
		{Question: "Che cos'è la stenosi aortica?", Answer: "Un restringimento della valvola aortica che ostacola l'eiezione ventricolare sinistra."},
		{Question: "Quale soffio la caratterizza?", Answer: "Un soffio sistolico eiettivo irradiato ai vasi del collo."},
	}

	res, err := s.SynthesizeDeck(context.Background(), session, memos)
	if err != nil {
		t.Fatalf("SynthesizeDeck() error = %v", err)
	}

	if !strings.HasPrefix(res.Key, "generated/deck_") {
		t.Errorf("Key = %q, want generated/deck_* prefix", res.Key)
	}
	// Intro + question/answer per card.
	texts := engine.Texts()
	if len(texts) != 5 {
		t.Fatalf("engine calls = %d, want 5", len(texts))
	}
	if !strings.Contains(texts[0], "Valvulopatie") || !strings.Contains(texts[0], "2 domande") {
		t.Errorf("intro = %q, want topic and card count", texts[0])
	}
	if !strings.HasPrefix(texts[1], "Domanda 1.") || !strings.HasPrefix(texts[3], "Domanda 2.") {
		t.Errorf("questions = %q, %q, want numbered", texts[1], texts[3])
	}

	// Study mode inserts a 3 s pause after each of the two questions plus
	// shorter answer pauses; the clip must be at least that long.
	minPause := 2*DefaultQuestionPause + 2*DefaultAnswerPause
	if res.DurationSec < minPause.Seconds() {
		t.Errorf("DurationSec = %v, want >= %v", res.DurationSec, minPause.Seconds())
	}
}

func TestSynthesizeDeckEmpty(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t)
	_, err := s.SynthesizeDeck(context.Background(), nil, nil)
	if types.Classify(err) != types.KindValidation {
		t.Fatalf("Classify(err) = %v, want validation", types.Classify(err))
	}
}

func TestSynthesizeTextEngineFailure(t *testing.T) {
	t.Parallel()

	engine := &mock.Engine{Err: types.Errorf(types.KindTransient, "server busy")}
	s, err := New(engine, memblob.New("b"), WithFormat(types.AudioWAV))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = s.SynthesizeText(context.Background(), "summary", "Una frase.", Config{})
	if types.Classify(err) != types.KindTransient {
		t.Fatalf("Classify(err) = %v (err %v), want transient", types.Classify(err), err)
	}
}

func TestSynthesizeTextCancelled(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SynthesizeText(ctx, "summary", "Una frase.", Config{})
	if types.Classify(err) != types.KindFatal {
		t.Fatalf("Classify(err) = %v, want fatal (cancelled)", types.Classify(err))
	}
}

func TestTermsHandledCountsVocabulary(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t, WithVocabulary([]string{"stenosi aortica", "soffio"}))

	res, err := s.SynthesizeText(context.Background(), "summary",
		"La stenosi aortica produce un soffio. Il soffio è sistolico.", Config{})
	if err != nil {
		t.Fatalf("SynthesizeText() error = %v", err)
	}
	if res.TermsHandled != 3 {
		t.Errorf("TermsHandled = %d, want 3", res.TermsHandled)
	}
}

func TestConfigOverridesServiceDefaults(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(t, WithVoice("default"))

	res, err := s.SynthesizeText(context.Background(), "custom", "Una frase.", Config{Voice: "override"})
	if err != nil {
		t.Fatalf("SynthesizeText() error = %v", err)
	}
	if res.Voice != "override" {
		t.Errorf("Voice = %q, want override", res.Voice)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts []Option
	}{
		{"bad format", []Option{WithFormat("flac")}},
		{"bad speed", []Option{WithSpeed(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&mock.Engine{}, memblob.New("b"), tc.opts...)
			if types.Classify(err) != types.KindConfiguration {
				t.Fatalf("Classify(err) = %v, want configuration", types.Classify(err))
			}
		})
	}
	if _, err := New(nil, memblob.New("b")); types.Classify(err) != types.KindConfiguration {
		t.Errorf("New(nil engine) kind = %v, want configuration", types.Classify(err))
	}
}
