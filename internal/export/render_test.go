package export

import (
	"strings"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

func fixtureBundle() *Bundle {
	return &Bundle{
		Session: &types.ClassSession{
			ID:      "cs-1",
			Subject: "Cardiologia",
			Topic:   "Ipertensione arteriosa",
		},
		Summary:     "La lezione tratta l'ipertensione arteriosa.",
		KeyConcepts: []string{"diagnosi"},
		KeyMoments:  []types.KeyMoment{{TimeSec: 4210, Title: "Soglie diagnostiche"}},
		Glossary: []types.GlossaryEntry{
			{Term: "ACE-inibitori", Definition: "farmaci antipertensivi", Category: types.CategoryPharmacology},
		},
		Research: []types.ResearchResult{{
			Term:       "ipertensione arteriosa",
			Definition: types.Definition{Text: "Pressione sopra 140 mmHg."},
			Quality:    types.ResearchQuality{Confidence: 0.9},
			Grade:      types.GradeA,
		}},
		Memos: []types.MicroMemo{{
			Type:       types.MemoDefinition,
			Question:   "Che cos'è l'ipertensione?",
			Answer:     "Pressione persistentemente elevata.",
			Difficulty: types.DifficultyEasy,
			Confidence: 0.9,
		}},
		GeneratedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
}

func TestRenderContainers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format      types.ExportFormat
		contentType string
		magic       string
	}{
		{types.ExportJSON, "application/json", "{"},
		{types.ExportCSV, "text/csv", "section,kind,front,back"},
		{types.ExportHTML, "text/html; charset=utf-8", "<!DOCTYPE html>"},
		{types.ExportPDF, "application/pdf", "%PDF"},
		{types.ExportDOCX, docxContentType, "PK"},
		{types.ExportAnki, "application/octet-stream", "PK"},
	}
	for _, tc := range cases {
		t.Run(string(tc.format), func(t *testing.T) {
			t.Parallel()
			data, contentType, err := render(tc.format, fixtureBundle())
			if err != nil {
				t.Fatalf("render(%s) error = %v", tc.format, err)
			}
			if contentType != tc.contentType {
				t.Errorf("contentType = %q, want %q", contentType, tc.contentType)
			}
			if !strings.HasPrefix(string(data), tc.magic) {
				t.Errorf("output does not start with %q", tc.magic)
			}
		})
	}

	if _, _, err := render("txt", fixtureBundle()); types.Classify(err) != types.KindValidation {
		t.Errorf("render(txt) kind = %v, want validation", types.Classify(err))
	}
}

func TestBundleTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		subject, topic, want string
	}{
		{"Cardiologia", "Ipertensione", "Cardiologia: Ipertensione"},
		{"Cardiologia", "", "Cardiologia"},
		{"", "Ipertensione", "Ipertensione"},
		{"", "", "Class session"},
	}
	for _, tc := range cases {
		b := &Bundle{Session: &types.ClassSession{Subject: tc.subject, Topic: tc.topic}}
		if got := b.Title(); got != tc.want {
			t.Errorf("Title(%q, %q) = %q, want %q", tc.subject, tc.topic, got, tc.want)
		}
	}
}

func TestBundleQualityScore(t *testing.T) {
	t.Parallel()

	full := &Bundle{
		Session:    &types.ClassSession{ID: "cs-1"},
		Summary:    "riassunto",
		Memos:      make([]types.MicroMemo, 10),
		Glossary:   make([]types.GlossaryEntry, 10),
		Research:   make([]types.ResearchResult, 5),
		KeyMoments: make([]types.KeyMoment, 3),
	}
	if got := full.QualityScore(); got != 1.0 {
		t.Errorf("QualityScore(full) = %v, want 1.0", got)
	}

	empty := &Bundle{Session: &types.ClassSession{ID: "cs-1"}}
	if got := empty.QualityScore(); got != 0 {
		t.Errorf("QualityScore(empty) = %v, want 0", got)
	}

	half := &Bundle{
		Session: &types.ClassSession{ID: "cs-1"},
		Summary: "riassunto",
		Memos:   make([]types.MicroMemo, 5),
	}
	// 0.30 summary + 0.25 * 5/10 memos.
	if got := half.QualityScore(); got != 0.43 {
		t.Errorf("QualityScore(half) = %v, want 0.43", got)
	}
}

func TestTimecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sec  float64
		want string
	}{
		{0, "0:00"},
		{65, "1:05"},
		{4210, "1:10:10"},
		{-3, "0:00"},
	}
	for _, tc := range cases {
		if got := timecode(tc.sec); got != tc.want {
			t.Errorf("timecode(%v) = %q, want %q", tc.sec, got, tc.want)
		}
	}
}
