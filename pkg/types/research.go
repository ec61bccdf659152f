package types

import "time"

// SourceType identifies the provider a medical source came from. The set
// matches the authority table used for scoring.
type SourceType string

const (
	SourceWHO         SourceType = "who"
	SourcePubMed      SourceType = "pubmed"
	SourceCochrane    SourceType = "cochrane"
	SourceNIH         SourceType = "nih"
	SourceISS         SourceType = "iss"
	SourceUpToDate    SourceType = "uptodate"
	SourceAIFA        SourceType = "aifa"
	SourceMayo        SourceType = "mayo"
	SourceMedlinePlus SourceType = "medlineplus"
	SourceWebMD       SourceType = "webmd"
	SourceOther       SourceType = "other"
)

// AccessType describes how a source's full content can be reached.
type AccessType string

const (
	AccessOpen         AccessType = "open"
	AccessSubscription AccessType = "subscription"
	AccessRestricted   AccessType = "restricted"
)

// MedicalSource is a normalized record returned by a source fetcher:
// bibliography, extracted content, classification and quality metrics.
type MedicalSource struct {
	ID string `json:"id"`

	// Bibliographic fields.
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	Authors         []string   `json:"authors,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	DOI             string     `json:"doi,omitempty"`
	PMID            string     `json:"pmid,omitempty"`
	Journal         string     `json:"journal,omitempty"`

	// Extracted content.
	Abstract        string   `json:"abstract,omitempty"`
	KeyPoints       []string `json:"key_points,omitempty"`
	RelevantExcerpt string   `json:"relevant_excerpt,omitempty"`
	Conclusions     string   `json:"conclusions,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`

	// Classification.
	SourceType      SourceType `json:"source_type"`
	ContentCategory string     `json:"content_category,omitempty"`
	Specialty       string     `json:"specialty,omitempty"`
	ComplexityLevel string     `json:"complexity_level,omitempty"`
	TargetAudience  string     `json:"target_audience,omitempty"`

	PeerReviewed      bool `json:"peer_reviewed"`
	OfficialSource    bool `json:"official_source"`
	HighImpactJournal bool `json:"high_impact_journal"`

	// Quality scores, each in [0,1]. OverallScore is derived; see
	// pkg/recognizer/research scoring.
	Relevance      float64 `json:"relevance"`
	Authority      float64 `json:"authority"`
	Recency        float64 `json:"recency"`
	ContentQuality float64 `json:"content_quality"`
	OverallScore   float64 `json:"overall_score"`

	AccessType AccessType `json:"access_type,omitempty"`
}

// Definition is one sourced definition of a researched term.
type Definition struct {
	Text       string     `json:"text"`
	SourceType SourceType `json:"source_type"`
	SourceURL  string     `json:"source_url,omitempty"`
	SourceName string     `json:"source_name,omitempty"`
}

// ResearchQuality carries the per-dimension quality of one term's research.
type ResearchQuality struct {
	Confidence        float64 `json:"confidence"`
	SourceReliability float64 `json:"source_reliability"`
	Freshness         float64 `json:"freshness"`
	Consensus         float64 `json:"consensus"`
}

// Grade is the letter grade derived from the weighted research quality.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeE Grade = "E"
	GradeF Grade = "F"
)

// GradeFor maps a weighted quality score in [0,1] to a letter grade.
func GradeFor(score float64) Grade {
	switch {
	case score >= 0.9:
		return GradeA
	case score >= 0.8:
		return GradeB
	case score >= 0.7:
		return GradeC
	case score >= 0.6:
		return GradeD
	case score >= 0.5:
		return GradeE
	default:
		return GradeF
	}
}

// ResearchResult is the aggregated research for one medical term.
type ResearchResult struct {
	ID            string `json:"id"`
	ResearchJobID string `json:"research_job_id"`

	Term           string `json:"term"`
	NormalizedTerm string `json:"normalized_term"`

	Definition   Definition   `json:"definition"`
	Alternatives []Definition `json:"alternatives,omitempty"`

	Translations Translations `json:"translations,omitzero"`
	Synonyms     []string     `json:"synonyms,omitempty"`
	RelatedTerms []string     `json:"related_terms,omitempty"`

	Quality      ResearchQuality `json:"quality"`
	Completeness float64         `json:"completeness"`
	Grade        Grade           `json:"grade"`

	Sources []MedicalSource `json:"sources"`

	// CacheHit marks results served from the research cache rather than
	// fresh fetches.
	CacheHit bool `json:"cache_hit"`

	ResearchedAt time.Time `json:"researched_at"`
}

// ResearchStatus is the lifecycle of a batch research run.
type ResearchStatus string

const (
	ResearchPending   ResearchStatus = "PENDING"
	ResearchRunning   ResearchStatus = "RUNNING"
	ResearchCompleted ResearchStatus = "COMPLETED"
	ResearchCancelled ResearchStatus = "CANCELLED"
	ResearchError     ResearchStatus = "ERROR"
)

// ResearchJob orchestrates the batch of per-term researches belonging to one
// LLM analysis.
type ResearchJob struct {
	ID             string
	JobID          string
	ClassSessionID string

	Preset string
	Status ResearchStatus

	ProgressPct float64
	CurrentTerm string

	TermsTotal      int
	TermsResearched int
	TermsFailed     int
	CacheHits       int
	CacheMisses     int

	Warnings []string

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}
