package types

import "time"

// MemoType classifies a generated question/answer card.
type MemoType string

const (
	MemoDefinition MemoType = "definition"
	MemoConcept    MemoType = "concept"
	MemoProcess    MemoType = "process"
	MemoCase       MemoType = "case"
	MemoFact       MemoType = "fact"
	MemoComparison MemoType = "comparison"
	MemoSymptom    MemoType = "symptom"
	MemoTreatment  MemoType = "treatment"
)

// IsValid reports whether t is a declared memo type.
func (t MemoType) IsValid() bool {
	switch t {
	case MemoDefinition, MemoConcept, MemoProcess, MemoCase,
		MemoFact, MemoComparison, MemoSymptom, MemoTreatment:
		return true
	}
	return false
}

// Difficulty grades a memo card for spaced-repetition scheduling.
type Difficulty string

const (
	DifficultyVeryEasy Difficulty = "very_easy"
	DifficultyEasy     Difficulty = "easy"
	DifficultyMedium   Difficulty = "medium"
	DifficultyHard     Difficulty = "hard"
	DifficultyExpert   Difficulty = "expert"
)

// IsValid reports whether d is a declared difficulty grade.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyVeryEasy, DifficultyEasy, DifficultyMedium,
		DifficultyHard, DifficultyExpert:
		return true
	}
	return false
}

// MicroMemo is one study card generated from post-processing, LLM analysis or
// research outputs. Valid cards keep the question within 20..200 characters,
// the answer within 50..500, and contain at least two medical keywords.
type MicroMemo struct {
	ID             string     `json:"id"`
	ClassSessionID string     `json:"class_session_id"`
	Type           MemoType   `json:"type"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Difficulty     Difficulty `json:"difficulty"`
	Confidence     float64    `json:"confidence"`
	Tags           []string   `json:"tags,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ExportFormat selects the rendering target of an export run.
type ExportFormat string

const (
	ExportPDF  ExportFormat = "pdf"
	ExportDOCX ExportFormat = "docx"
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
	ExportHTML ExportFormat = "html"
	ExportAnki ExportFormat = "anki"
)

// IsValid reports whether f names a supported export format.
func (f ExportFormat) IsValid() bool {
	switch f {
	case ExportPDF, ExportDOCX, ExportJSON, ExportCSV, ExportHTML, ExportAnki:
		return true
	}
	return false
}

// Ext returns the file extension used in object-store keys for the format.
func (f ExportFormat) Ext() string {
	if f == ExportAnki {
		return "apkg"
	}
	return string(f)
}

// ExportFile describes one object written by an export run.
type ExportFile struct {
	Key         string `json:"key"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// ExportSession records the outcome of one export run: the rendered file set
// in the object store plus a quality score reflecting artifact coverage.
type ExportSession struct {
	ID             string       `json:"id"`
	ClassSessionID string       `json:"class_session_id"`
	Format         ExportFormat `json:"format"`
	Files          []ExportFile `json:"files"`
	ArtifactCount  int          `json:"artifact_count"`
	QualityScore   float64      `json:"quality_score"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AudioFormat is a TTS output container.
type AudioFormat string

const (
	AudioWAV AudioFormat = "wav"
	AudioMP3 AudioFormat = "mp3"
	AudioOGG AudioFormat = "ogg"
)

// IsValid reports whether f is a supported synthesis output format.
func (f AudioFormat) IsValid() bool {
	switch f {
	case AudioWAV, AudioMP3, AudioOGG:
		return true
	}
	return false
}

// TTSResult records one synthesized audio artifact.
type TTSResult struct {
	Key          string      `json:"key"`
	Format       AudioFormat `json:"format"`
	DurationSec  float64     `json:"duration_sec"`
	SizeBytes    int64       `json:"size_bytes"`
	Voice        string      `json:"voice"`
	TermsHandled int         `json:"terms_handled"`
	QualityScore float64     `json:"quality_score"`
	CreatedAt    time.Time   `json:"created_at"`
}
