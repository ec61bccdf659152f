package types

import "time"

// TranscriptSegment is one time-aligned span of recognized speech. Segments
// cover [0, duration] without overlap; gaps are permitted for silence.
type TranscriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// WordTiming is an optional per-word timestamp produced by ASR presets that
// enable word-level alignment.
type WordTiming struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscriptionResult is the typed result row of the ASR stage.
type TranscriptionResult struct {
	JobID          string
	ClassSessionID string

	Text     string
	Segments []TranscriptSegment
	Words    []WordTiming

	Language   string
	Confidence float64 // global confidence in [0,1]

	AudioDurationSec  float64
	Model             string
	ProcessingTimeSec float64

	CreatedAt time.Time
}

// SpeakerSegment is one diarized speaker turn. start < end always holds and
// SpeakerID is stable across segments of the same voice.
type SpeakerSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	SpeakerID  string  `json:"speaker_id"`
	Confidence float64 `json:"confidence"`
}

// RoleAssignment captures the professor/student attribution heuristic: the
// dominant speaker by cumulative speaking time is the professor, with
// confidence proportional to their dominance.
type RoleAssignment struct {
	Professor  string   `json:"professor"`
	Students   []string `json:"students"`
	Confidence float64  `json:"confidence"`
}

// DiarizationResult is the typed result row of the diarization stage.
type DiarizationResult struct {
	JobID          string
	ClassSessionID string

	SpeakerCount int
	Segments     []SpeakerSegment
	// Embeddings maps speaker id to the voice embedding the backend produced.
	Embeddings map[string][]float32
	Roles      RoleAssignment
	// SeparationQuality in [0,1]: 1.0 for a single speaker, otherwise mean
	// pairwise cosine distance of speaker embeddings scaled by 2 and clamped.
	SeparationQuality float64

	// MatchedLecturerID is set when voiceprint matching recognized the
	// professor-role speaker as an enrolled lecturer.
	MatchedLecturerID string

	Model             string
	ProcessingTimeSec float64
	CreatedAt         time.Time
}

// EntityCategory classifies a recognized medical term.
type EntityCategory string

const (
	CategoryAnatomy      EntityCategory = "anatomy"
	CategoryPathology    EntityCategory = "pathology"
	CategoryPharmacology EntityCategory = "pharmacology"
	CategoryProcedure    EntityCategory = "procedure"
	CategorySymptom      EntityCategory = "symptom"
	CategoryDiagnosis    EntityCategory = "diagnosis"
	CategoryTherapy      EntityCategory = "therapy"
	CategoryOther        EntityCategory = "other"
)

// EntityCategories lists all valid categories in a stable order.
var EntityCategories = []EntityCategory{
	CategoryAnatomy,
	CategoryPathology,
	CategoryPharmacology,
	CategoryProcedure,
	CategorySymptom,
	CategoryDiagnosis,
	CategoryTherapy,
	CategoryOther,
}

// IsValid reports whether c is a declared category.
func (c EntityCategory) IsValid() bool {
	for _, v := range EntityCategories {
		if v == c {
			return true
		}
	}
	return false
}

// Correction records one lexicon-driven replacement applied to the raw
// transcript. Offset is a byte offset into the raw text.
type Correction struct {
	Offset      int     `json:"offset"`
	Original    string  `json:"original"`
	Replacement string  `json:"replacement"`
	Confidence  float64 `json:"confidence"`
}

// MedicalEntity is one term found by the medical NER pass. Offset/Length
// address the detected form inside the corrected text.
type MedicalEntity struct {
	Term       string         `json:"term"` // canonical lexicon form
	Detected   string         `json:"detected"`
	Offset     int            `json:"offset"`
	Length     int            `json:"length"`
	Category   EntityCategory `json:"category"`
	Specialty  string         `json:"specialty"`
	Confidence float64        `json:"confidence"`
}

// Translations carries the it/es/en renderings of a term.
type Translations struct {
	IT string `json:"it,omitempty"`
	ES string `json:"es,omitempty"`
	EN string `json:"en,omitempty"`
}

// GlossaryEntry is one class-glossary row assembled from the entities found
// in a lecture.
type GlossaryEntry struct {
	Term         string         `json:"term"`
	Definition   string         `json:"definition,omitempty"`
	Category     EntityCategory `json:"category"`
	Specialty    string         `json:"specialty,omitempty"`
	Translations Translations   `json:"translations,omitzero"`
	Occurrences  int            `json:"occurrences"`
}

// Activity is a pedagogical classification of a lecture time-span.
type Activity string

const (
	ActivityIntro       Activity = "intro"
	ActivityExplanation Activity = "explanation"
	ActivityQuestion    Activity = "question"
	ActivityAnswer      Activity = "answer"
	ActivityInteraction Activity = "interaction"
	ActivitySummary     Activity = "summary"
	ActivityClosing     Activity = "closing"
)

// ActivitySegment assigns one activity to a lecture time-span.
type ActivitySegment struct {
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Activity Activity `json:"activity"`
	Score    float64  `json:"score"`
}

// PostProcessingResult is the typed result row of the post-processing stage.
// Entity offsets refer to CorrectedText.
type PostProcessingResult struct {
	JobID          string
	ClassSessionID string

	CorrectedText string
	Corrections   []Correction
	Entities      []MedicalEntity
	Glossary      []GlossaryEntry
	Activities    []ActivitySegment

	ProcessingTimeSec float64
	CreatedAt         time.Time
}

// EntitiesByCategory groups the result's entities by category, preserving
// their textual order inside each group.
func (r *PostProcessingResult) EntitiesByCategory() map[EntityCategory][]MedicalEntity {
	grouped := make(map[EntityCategory][]MedicalEntity)
	for _, e := range r.Entities {
		grouped[e.Category] = append(grouped[e.Category], e)
	}
	return grouped
}

// StructureSection is one chapter of the LLM-derived class structure.
type StructureSection struct {
	Title    string  `json:"title"`
	StartSec float64 `json:"start_sec,omitempty"`
	Summary  string  `json:"summary,omitempty"`
}

// TerminologyEntry is one medical term the LLM analysis extracted, with
// translations.
type TerminologyEntry struct {
	Term         string       `json:"term"`
	Definition   string       `json:"definition,omitempty"`
	Translations Translations `json:"translations,omitzero"`
}

// KeyMoment is a timestamped highlight of the lecture.
type KeyMoment struct {
	TimeSec     float64 `json:"time_sec"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
}

// QualityScores are the per-dimension scores an analyzer reports for its own
// output. Scale and computation are model-dependent; values are in [0,1].
type QualityScores struct {
	Confidence       float64 `json:"confidence"`
	Coherence        float64 `json:"coherence"`
	Completeness     float64 `json:"completeness"`
	MedicalRelevance float64 `json:"medical_relevance"`
}

// LLMAnalysisResult is the typed result row of the NLP stage.
type LLMAnalysisResult struct {
	JobID          string
	ClassSessionID string

	Summary     string
	KeyConcepts []string
	Structure   []StructureSection
	Terminology []TerminologyEntry
	KeyMoments  []KeyMoment

	Quality QualityScores
	// NeedsReview is set when Quality.Confidence < 0.8 or
	// Quality.Coherence < 0.7.
	NeedsReview bool

	Model             string
	ProcessingTimeSec float64
	CreatedAt         time.Time
}

// ReviewRequired applies the needs_review rule to a set of quality scores.
func ReviewRequired(q QualityScores) bool {
	return q.Confidence < 0.8 || q.Coherence < 0.7
}
