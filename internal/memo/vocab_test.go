package memo

import (
	"strings"
	"testing"

	"github.com/aulavox/aulavox/pkg/types"
)

func TestBuildVocabulary(t *testing.T) {
	t.Parallel()

	in := Inputs{
		Analysis: &types.LLMAnalysisResult{
			Terminology: []types.TerminologyEntry{
				{Term: "Ipertensione Arteriosa", Translations: types.Translations{EN: "arterial hypertension"}},
			},
		},
		Post: &types.PostProcessingResult{
			Entities: []types.MedicalEntity{
				{Term: "ecocardiogramma", Detected: "eco"},
				{Term: "TC", Detected: "tc"}, // too short for the vocabulary
			},
			Glossary: []types.GlossaryEntry{{Term: "miocardite"}},
		},
		Research: []types.ResearchResult{
			{Term: "scompenso cardiaco", Synonyms: []string{"insufficienza cardiaca"}},
		},
	}

	v := BuildVocabulary(in)
	for _, want := range []string{
		"ipertensione arteriosa",
		"arterial hypertension",
		"ecocardiogramma",
		"eco",
		"miocardite",
		"scompenso cardiaco",
		"insufficienza cardiaca",
	} {
		if _, ok := v[want]; !ok {
			t.Errorf("vocabulary missing %q", want)
		}
	}
	if _, ok := v["tc"]; ok {
		t.Error("two-letter term admitted to the vocabulary")
	}
	if len(v) != 7 {
		t.Errorf("vocabulary size = %d, want 7", len(v))
	}
}

func TestVocabularyCount(t *testing.T) {
	t.Parallel()

	v := Vocabulary{
		"ipertensione":           {},
		"ipertensione arteriosa": {},
		"miocardite":             {},
	}

	// The long form contains the short one; both count.
	if got := v.Count("Definizione di Ipertensione Arteriosa nella pratica."); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := v.Count("Nessun termine medico qui."); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestValidateCard(t *testing.T) {
	t.Parallel()

	vocab := Vocabulary{
		"ipertensione arteriosa": {},
		"pressione sistolica":    {},
	}
	valid := types.MicroMemo{
		Type:       types.MemoDefinition,
		Difficulty: types.DifficultyMedium,
		Confidence: 0.8,
		Question:   "Che cosa si intende per ipertensione arteriosa?",
		Answer:     "Una pressione sistolica persistentemente sopra 140 mmHg misurata in ambulatorio.",
	}

	tests := []struct {
		name    string
		mutate  func(*types.MicroMemo)
		wantErr string
	}{
		{"valid", func(*types.MicroMemo) {}, ""},
		{"unknown type", func(m *types.MicroMemo) { m.Type = "riddle" }, "unknown card type"},
		{"unknown difficulty", func(m *types.MicroMemo) { m.Difficulty = "medio" }, "unknown difficulty"},
		{"confidence out of range", func(m *types.MicroMemo) { m.Confidence = 1.2 }, "outside [0,1]"},
		{"question too short", func(m *types.MicroMemo) { m.Question = "Breve?" }, "question is"},
		{"answer too long", func(m *types.MicroMemo) { m.Answer = strings.Repeat("a", 501) }, "answer is"},
		{
			"too few keywords",
			func(m *types.MicroMemo) {
				m.Question = "Come si definisce questa condizione clinica frequente?"
				m.Answer = "Una pressione sistolica elevata misurata più volte in giorni separati in ambulatorio."
			},
			"want at least 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := valid
			tt.mutate(&m)
			err := ValidateCard(m, vocab)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateCard() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateCard() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
