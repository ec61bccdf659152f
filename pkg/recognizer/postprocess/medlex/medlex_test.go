package medlex_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/aulavox/aulavox/pkg/recognizer/postprocess/medlex"
	"github.com/aulavox/aulavox/pkg/types"
)

func testLexicon() *medlex.LexiconFile {
	return &medlex.LexiconFile{
		Lexicon: medlex.LexiconMeta{Name: "test-cardio", Language: "it"},
		Terms: []medlex.Entry{
			{
				Term:         "miocardite",
				Category:     types.CategoryPathology,
				Specialty:    "cardiologia",
				Confidence:   0.95,
				Definition:   "Infiammazione del miocardio.",
				Variants:     []string{"miocarditi"},
				Confusions:   []string{"mio cardite"},
				Translations: types.Translations{ES: "miocarditis", EN: "myocarditis"},
			},
			{
				Term:       "insulina",
				Category:   types.CategoryPharmacology,
				Specialty:  "endocrinologia",
				Confidence: 0.9,
				Definition: "Ormone ipoglicemizzante.",
			},
			{
				Term:       "aorta",
				Category:   types.CategoryAnatomy,
				Specialty:  "cardiologia",
				Confidence: 0.9,
			},
			{
				Term:       "warfarin",
				Category:   types.CategoryPharmacology,
				Specialty:  "cardiologia",
				Confidence: 0.5,
				Confusions: []string{"guar farin"},
			},
		},
	}
}

func newProcessor(t *testing.T, opts ...medlex.Option) *medlex.Processor {
	t.Helper()
	p, err := medlex.New(testLexicon(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func transcriptionOf(text string) *types.TranscriptionResult {
	return &types.TranscriptionResult{
		JobID:          "job-1",
		ClassSessionID: "sess-1",
		Text:           text,
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 30, Text: text, Confidence: 0.9},
		},
		Language:   "it",
		Confidence: 0.9,
	}
}

func TestProcessCorrectsConfusion(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	result, err := p.Process(context.Background(), transcriptionOf("Parliamo di mio cardite acuta."), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if want := "Parliamo di miocardite acuta."; result.CorrectedText != want {
		t.Errorf("CorrectedText = %q, want %q", result.CorrectedText, want)
	}
	if len(result.Corrections) != 1 {
		t.Fatalf("Corrections = %+v, want 1", result.Corrections)
	}
	c := result.Corrections[0]
	if c.Original != "mio cardite" || c.Replacement != "miocardite" {
		t.Errorf("correction = %+v", c)
	}
	if want := len("Parliamo di "); c.Offset != want {
		t.Errorf("Offset = %d, want %d", c.Offset, want)
	}
	if c.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", c.Confidence)
	}
}

func TestProcessCorrectsPhoneticMiss(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	result, err := p.Process(context.Background(), transcriptionOf("La insolina regola la glicemia."), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !strings.Contains(result.CorrectedText, "insulina") {
		t.Errorf("CorrectedText = %q, want insulina spliced in", result.CorrectedText)
	}
	if len(result.Corrections) != 1 {
		t.Fatalf("Corrections = %+v, want 1", result.Corrections)
	}
	if result.Corrections[0].Original != "insolina" {
		t.Errorf("Original = %q, want insolina", result.Corrections[0].Original)
	}
}

func TestProcessNoOpCorrectionUnrecorded(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	// "Miocardite" already is the canonical form; differing case must not
	// rewrite the text nor record a correction.
	text := "La Miocardite virale."
	result, err := p.Process(context.Background(), transcriptionOf(text), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.CorrectedText != text {
		t.Errorf("CorrectedText = %q, want unchanged %q", result.CorrectedText, text)
	}
	if len(result.Corrections) != 0 {
		t.Errorf("Corrections = %+v, want none", result.Corrections)
	}
	// Detection still happens.
	if len(result.Entities) != 1 || result.Entities[0].Term != "miocardite" {
		t.Fatalf("Entities = %+v, want miocardite", result.Entities)
	}
	if result.Entities[0].Detected != "Miocardite" {
		t.Errorf("Detected = %q, want Miocardite", result.Entities[0].Detected)
	}
}

func TestProcessBelowThresholdDetectedNotCorrected(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	text := "Somministriamo guar farin al paziente."
	result, err := p.Process(context.Background(), transcriptionOf(text), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// warfarin's entry confidence (0.5) is below the correction threshold:
	// the text stays, the entity is still reported.
	if result.CorrectedText != text {
		t.Errorf("CorrectedText = %q, want unchanged", result.CorrectedText)
	}
	if len(result.Corrections) != 0 {
		t.Errorf("Corrections = %+v, want none", result.Corrections)
	}
	if len(result.Entities) != 1 || result.Entities[0].Term != "warfarin" {
		t.Fatalf("Entities = %+v, want warfarin", result.Entities)
	}
	if result.Entities[0].Confidence != 0.5 {
		t.Errorf("entity confidence = %v, want 0.5", result.Entities[0].Confidence)
	}
}

func TestProcessEntityOffsets(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	result, err := p.Process(context.Background(), transcriptionOf("Parliamo di mio cardite acuta."), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(result.Entities) != 1 {
		t.Fatalf("Entities = %+v, want 1", result.Entities)
	}
	e := result.Entities[0]
	if e.Term != "miocardite" || e.Detected != "miocardite" {
		t.Errorf("entity = %+v", e)
	}
	// Offsets address the corrected text.
	got := result.CorrectedText[e.Offset : e.Offset+e.Length]
	if got != e.Detected {
		t.Errorf("span %q at offset %d, want %q", got, e.Offset, e.Detected)
	}
	if e.Category != types.CategoryPathology || e.Specialty != "cardiologia" {
		t.Errorf("classification = %+v", e)
	}
}

func TestProcessElisionDetected(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	result, err := p.Process(context.Background(), transcriptionOf("Osserviamo l'aorta ascendente."), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Entities) != 1 || result.Entities[0].Term != "aorta" {
		t.Fatalf("Entities = %+v, want aorta", result.Entities)
	}
	if result.Entities[0].Detected != "aorta" {
		t.Errorf("Detected = %q, want aorta without the article", result.Entities[0].Detected)
	}
}

func TestProcessIdempotent(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	first, err := p.Process(context.Background(), transcriptionOf("Parliamo di mio cardite e insolina."), nil, nil)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}

	second, err := p.Process(context.Background(), transcriptionOf(first.CorrectedText), nil, nil)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if second.CorrectedText != first.CorrectedText {
		t.Errorf("second run changed the text:\n first: %q\nsecond: %q", first.CorrectedText, second.CorrectedText)
	}
	if len(second.Corrections) != 0 {
		t.Errorf("second run recorded corrections: %+v", second.Corrections)
	}

	firstTerms := entityTerms(first.Entities)
	secondTerms := entityTerms(second.Entities)
	if !reflect.DeepEqual(firstTerms, secondTerms) {
		t.Errorf("entity sets differ: %v vs %v", firstTerms, secondTerms)
	}
}

func entityTerms(entities []types.MedicalEntity) []string {
	terms := make([]string, 0, len(entities))
	for _, e := range entities {
		terms = append(terms, e.Term)
	}
	return terms
}

func TestProcessGlossary(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	text := "La miocardite virale. La miocardite batterica. L'insulina."
	result, err := p.Process(context.Background(), transcriptionOf(text), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(result.Glossary) != 2 {
		t.Fatalf("Glossary = %+v, want 2 entries", result.Glossary)
	}
	g := result.Glossary[0]
	if g.Term != "miocardite" || g.Occurrences != 2 {
		t.Errorf("glossary[0] = %+v, want miocardite x2", g)
	}
	if g.Definition != "Infiammazione del miocardio." {
		t.Errorf("Definition = %q", g.Definition)
	}
	if g.Translations.EN != "myocarditis" {
		t.Errorf("Translations = %+v", g.Translations)
	}
	if result.Glossary[1].Term != "insulina" || result.Glossary[1].Occurrences != 1 {
		t.Errorf("glossary[1] = %+v", result.Glossary[1])
	}
}

func TestProcessSegmentation(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	tr := &types.TranscriptionResult{
		Text: "testo",
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 60, Text: "Buongiorno a tutti, iniziamo la lezione di oggi.", Confidence: 0.9},
			{Start: 60, End: 1800, Text: "La miocardite si definisce come infiammazione del miocardio.", Confidence: 0.9},
			{Start: 1800, End: 1860, Text: "Chi sa dirmi quale virus la causa?", Confidence: 0.9},
			{Start: 1860, End: 1920, Text: "Esatto, la risposta corretta.", Confidence: 0.9},
			{Start: 1920, End: 2000, Text: "Ricapitolando, i punti chiave di oggi.", Confidence: 0.9},
			{Start: 2000, End: 2060, Text: "Grazie a tutti, alla prossima lezione.", Confidence: 0.9},
		},
	}

	result, err := p.Process(context.Background(), tr, nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []types.Activity{
		types.ActivityIntro,
		types.ActivityExplanation,
		types.ActivityQuestion,
		types.ActivityAnswer,
		types.ActivitySummary,
		types.ActivityClosing,
	}
	if len(result.Activities) != len(want) {
		t.Fatalf("Activities = %+v, want %d spans", result.Activities, len(want))
	}
	for i, w := range want {
		if result.Activities[i].Activity != w {
			t.Errorf("activity[%d] = %q, want %q", i, result.Activities[i].Activity, w)
		}
	}
	// Spans cover the segment timeline.
	if result.Activities[0].Start != 0 || result.Activities[len(want)-1].End != 2060 {
		t.Errorf("span bounds = %+v", result.Activities)
	}
}

func TestProcessSegmentationMergesAdjacent(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	tr := &types.TranscriptionResult{
		Text: "testo",
		Segments: []types.TranscriptSegment{
			{Start: 0, End: 10, Text: "Si definisce così.", Confidence: 0.9},
			{Start: 10, End: 20, Text: "In altre parole, il meccanismo è questo.", Confidence: 0.9},
		},
	}
	result, err := p.Process(context.Background(), tr, nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Activities) != 1 {
		t.Fatalf("Activities = %+v, want 1 merged span", result.Activities)
	}
	a := result.Activities[0]
	if a.Activity != types.ActivityExplanation || a.Start != 0 || a.End != 20 {
		t.Errorf("merged span = %+v", a)
	}
}

func TestProcessSpeakerSignals(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	tr := &types.TranscriptionResult{
		Text: "testo",
		Segments: []types.TranscriptSegment{
			// No keyword hits: the student voice alone must tip this span
			// to question.
			{Start: 0, End: 20, Text: "Nel caso della terapia anticoagulante.", Confidence: 0.9},
		},
	}
	diar := &types.DiarizationResult{
		Segments: []types.SpeakerSegment{
			{Start: 0, End: 20, SpeakerID: "SPEAKER_01", Confidence: 0.9},
		},
		Roles: types.RoleAssignment{Professor: "SPEAKER_00", Students: []string{"SPEAKER_01"}},
	}

	result, err := p.Process(context.Background(), tr, diar, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(result.Activities) != 1 || result.Activities[0].Activity != types.ActivityQuestion {
		t.Errorf("Activities = %+v, want question span", result.Activities)
	}
}

func TestProcessEmptyTranscription(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	_, err := p.Process(context.Background(), transcriptionOf("   "), nil, nil)
	if kind := types.Classify(err); kind != types.KindValidation {
		t.Errorf("error kind = %v, want validation: %v", kind, err)
	}
	_, err = p.Process(context.Background(), nil, nil, nil)
	if kind := types.Classify(err); kind != types.KindValidation {
		t.Errorf("error kind for nil input = %v, want validation: %v", kind, err)
	}
}

func TestProcessCancelledContext(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Process(ctx, transcriptionOf("La miocardite."), nil, nil)
	if !errors.Is(err, types.ErrCancelled) {
		t.Errorf("err = %v, want %v", err, types.ErrCancelled)
	}
}

func TestProcessProgressReported(t *testing.T) {
	t.Parallel()
	p := newProcessor(t)

	var pcts []float64
	_, err := p.Process(context.Background(), transcriptionOf("La miocardite."), nil, func(pct float64) {
		pcts = append(pcts, pct)
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pcts) == 0 || pcts[len(pcts)-1] != 1.0 {
		t.Errorf("progress = %v, want monotone ending at 1.0", pcts)
	}
	for i := 1; i < len(pcts); i++ {
		if pcts[i] < pcts[i-1] {
			t.Errorf("progress not monotone: %v", pcts)
		}
	}
}

func TestNewRejectsInvalidLexicon(t *testing.T) {
	t.Parallel()

	_, err := medlex.New(&medlex.LexiconFile{})
	if kind := types.Classify(err); kind != types.KindConfiguration {
		t.Errorf("error kind = %v, want configuration: %v", kind, err)
	}
	_, err = medlex.New(nil)
	if kind := types.Classify(err); kind != types.KindConfiguration {
		t.Errorf("error kind for nil lexicon = %v, want configuration: %v", kind, err)
	}
}

func TestProcessThresholdOption(t *testing.T) {
	t.Parallel()
	// Lowering the threshold lets the low-confidence warfarin entry correct.
	p := newProcessor(t, medlex.WithConfidenceThreshold(0.4))

	result, err := p.Process(context.Background(), transcriptionOf("Somministriamo guar farin."), nil, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if want := "Somministriamo warfarin."; result.CorrectedText != want {
		t.Errorf("CorrectedText = %q, want %q", result.CorrectedText, want)
	}
}
