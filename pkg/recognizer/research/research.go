// Package research defines the research stage contracts: the Researcher
// that enriches the terminology of an analyzed lecture, the source Fetcher
// abstraction it fans out to, and the shared scoring rules that make
// aggregation deterministic across backends.
//
// Callers never assemble a Config by hand. They pick a named Preset and
// resolve it with ConfigFor; presets are immutable value records fixing the
// enabled sources, the per-term source budget, and the enrichment switches.
// Config.Fingerprint is the canonical serialization the research cache keys
// on: equal fingerprints mean cache entries are interchangeable.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

// Preset names a pre-tuned research parameter bundle.
type Preset string

const (
	// PresetComprehensive enables every source with translations and
	// related-term expansion. The default for full lecture processing.
	PresetComprehensive Preset = "COMPREHENSIVE"

	// PresetQuick consults only fast general-audience sources. Used for
	// previews and smoke runs.
	PresetQuick Preset = "QUICK"

	// PresetAcademic restricts research to peer-reviewed literature.
	PresetAcademic Preset = "ACADEMIC"

	// PresetClinical favors point-of-care references over literature.
	PresetClinical Preset = "CLINICAL"

	// PresetItalianFocused prefers Italian institutional sources and asks
	// fetchers for Italian content.
	PresetItalianFocused Preset = "ITALIAN_FOCUSED"
)

// Presets lists all valid preset names in a stable order.
var Presets = []Preset{
	PresetComprehensive,
	PresetQuick,
	PresetAcademic,
	PresetClinical,
	PresetItalianFocused,
}

// IsValid reports whether p is a declared preset.
func (p Preset) IsValid() bool {
	for _, v := range Presets {
		if v == p {
			return true
		}
	}
	return false
}

// Config is the resolved, immutable parameter set for one research run.
// Obtain one from ConfigFor; the zero value is not a valid configuration.
type Config struct {
	// Preset records which named preset this config was resolved from.
	Preset Preset

	// Sources are the enabled fetchers in priority order. The order decides
	// which source answers first and breaks aggregation ties.
	Sources []types.SourceType

	// MaxSourcesPerTerm caps how many scored sources one term keeps.
	MaxSourcesPerTerm int

	// IncludeRelatedTerms asks fetchers for related-term expansion.
	IncludeRelatedTerms bool

	// EnableTranslation asks for term translations in the result.
	EnableTranslation bool

	// PeerReviewOnly drops sources that are not peer-reviewed before
	// scoring.
	PeerReviewOnly bool

	// PriorityThreshold is the minimum overall score a source needs to be
	// kept, in [0,1].
	PriorityThreshold float64

	// Language is the preferred content language (ISO 639-1) passed to
	// fetchers. Empty lets each source use its native language.
	Language string
}

// ConfigFor resolves a preset name into its immutable parameter set.
// Unknown presets return an error rather than a guessed default.
func ConfigFor(preset Preset) (Config, error) {
	switch preset {
	case PresetComprehensive:
		return Config{
			Preset: preset,
			Sources: []types.SourceType{
				types.SourcePubMed, types.SourceWHO, types.SourceCochrane,
				types.SourceNIH, types.SourceISS, types.SourceUpToDate,
				types.SourceAIFA, types.SourceMayo, types.SourceMedlinePlus,
			},
			MaxSourcesPerTerm:   5,
			IncludeRelatedTerms: true,
			EnableTranslation:   true,
			PriorityThreshold:   0.4,
		}, nil
	case PresetQuick:
		return Config{
			Preset:            preset,
			Sources:           []types.SourceType{types.SourceWHO, types.SourceMedlinePlus},
			MaxSourcesPerTerm: 2,
			PriorityThreshold: 0.3,
		}, nil
	case PresetAcademic:
		return Config{
			Preset:              preset,
			Sources:             []types.SourceType{types.SourcePubMed, types.SourceCochrane, types.SourceNIH},
			MaxSourcesPerTerm:   5,
			IncludeRelatedTerms: true,
			PeerReviewOnly:      true,
			PriorityThreshold:   0.6,
			Language:            "en",
		}, nil
	case PresetClinical:
		return Config{
			Preset:            preset,
			Sources:           []types.SourceType{types.SourceUpToDate, types.SourceMayo, types.SourceNIH, types.SourceWHO},
			MaxSourcesPerTerm: 3,
			PriorityThreshold: 0.5,
			Language:          "en",
		}, nil
	case PresetItalianFocused:
		return Config{
			Preset:            preset,
			Sources:           []types.SourceType{types.SourceISS, types.SourceAIFA, types.SourceWHO, types.SourceMedlinePlus},
			MaxSourcesPerTerm: 3,
			EnableTranslation: true,
			PriorityThreshold: 0.4,
			Language:          "it",
		}, nil
	default:
		return Config{}, fmt.Errorf("research: unknown preset %q", preset)
	}
}

// Validate reports whether the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("research: config enables no sources")
	}
	seen := make(map[types.SourceType]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s] {
			return fmt.Errorf("research: duplicate source %q", s)
		}
		seen[s] = true
	}
	if c.MaxSourcesPerTerm < 1 {
		return fmt.Errorf("research: max sources per term %d, need at least 1", c.MaxSourcesPerTerm)
	}
	if c.PriorityThreshold < 0 || c.PriorityThreshold > 1 {
		return fmt.Errorf("research: priority threshold %v outside [0,1]", c.PriorityThreshold)
	}
	return nil
}

// Fingerprint returns the canonical serialization of the parameters that
// influence research content. The cache keys on it, so everything that can
// change a result must appear here and nothing else may: the preset label
// is deliberately absent so presets resolving to identical parameters share
// cache entries.
func (c Config) Fingerprint() string {
	var sb strings.Builder
	sb.WriteString("v1|sources=")
	for i, s := range c.Sources {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(s))
	}
	fmt.Fprintf(&sb, "|max=%d|related=%t|translate=%t|peer=%t|threshold=%.2f|lang=%s",
		c.MaxSourcesPerTerm, c.IncludeRelatedTerms, c.EnableTranslation,
		c.PeerReviewOnly, c.PriorityThreshold, c.Language)
	return sb.String()
}

// Progress is a snapshot of a running research batch.
type Progress struct {
	// Pct is overall progress in [0,1].
	Pct float64

	// CurrentTerm is the term being researched, empty between terms.
	CurrentTerm string

	// Done and Total count terms.
	Done  int
	Total int

	// ETA estimates the remaining wall time from the per-term average so
	// far. Zero until at least one term finished.
	ETA time.Duration
}

// ProgressFunc receives batch progress snapshots. Implementations call it
// from the goroutine running Research; callers must not block in it.
type ProgressFunc func(p Progress)

// Researcher enriches the medical terminology of an analyzed lecture.
//
// Implementations must consult the research cache before fetching, must
// aggregate deterministically (see SortSources), and must treat individual
// source failures as warnings on the job rather than run failures.
type Researcher interface {
	// Research runs the per-term batch for the analysis terminology and
	// returns the batch job record plus one result per term attempted.
	// Cancellation between terms returns the completed prefix along with
	// the error.
	Research(ctx context.Context, analysis *types.LLMAnalysisResult, cfg Config, progress ProgressFunc) (*types.ResearchJob, []types.ResearchResult, error)

	// Name identifies the backend in logs and job metadata.
	Name() string
}
