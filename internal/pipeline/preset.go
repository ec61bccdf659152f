package pipeline

import (
	"github.com/aulavox/aulavox/pkg/recognizer/analyze"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/types"
)

// Processing preset names. A preset is chosen once at job creation and
// recorded on the job row; stage runners resolve it again on pickup so queue
// messages stay small and a requeued task always sees the same parameters.
const (
	// PresetHighPrecision maximizes transcript and research quality for
	// exam-relevant lectures. Slowest of the four.
	PresetHighPrecision = "MEDICAL_HIGH_PRECISION"

	// PresetBalanced is the default profile for routine lecture recordings.
	PresetBalanced = "MEDICAL_BALANCED"

	// PresetFast favors turnaround: smaller ASR model, quick research pass,
	// shorter analysis lists.
	PresetFast = "MEDICAL_FAST"

	// PresetMultilingual drops the Italian language hint so mixed-language
	// lectures are detected per segment.
	PresetMultilingual = "MEDICAL_MULTILINGUAL"
)

// DefaultPreset is applied when a job is created without an explicit preset.
const DefaultPreset = PresetBalanced

// PresetNames lists all valid preset names in a stable order.
var PresetNames = []string{
	PresetHighPrecision,
	PresetBalanced,
	PresetFast,
	PresetMultilingual,
}

// Preset bundles the per-stage parameters of one named processing profile.
type Preset struct {
	Name string

	ASR      asr.Preset
	Diarize  diarize.Config
	Analyze  analyze.Config
	Research research.Preset
}

// PresetFor resolves a preset name into its per-stage parameter bundle. An
// empty name resolves to DefaultPreset; unknown names return a validation
// error rather than a guessed default.
func PresetFor(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	p := Preset{
		Name:    name,
		Diarize: diarize.Config{MinSpeakers: 1, MaxSpeakers: 6},
		Analyze: analyze.Config{Language: "it", Temperature: 0.3, MaxConcepts: 10, MaxMoments: 10},
	}
	switch name {
	case PresetHighPrecision:
		p.ASR = asr.PresetHighPrecision
		p.Research = research.PresetComprehensive
	case PresetBalanced:
		p.ASR = asr.PresetBalanced
		p.Research = research.PresetItalianFocused
	case PresetFast:
		p.ASR = asr.PresetFast
		p.Research = research.PresetQuick
		p.Analyze.MaxConcepts = 6
		p.Analyze.MaxMoments = 6
	case PresetMultilingual:
		p.ASR = asr.PresetMultilingualAuto
		p.Research = research.PresetComprehensive
		// Let the analyzer follow whatever language ASR detected.
		p.Analyze.Language = ""
	default:
		return Preset{}, types.Errorf(types.KindValidation, "pipeline: unknown processing preset %q", name)
	}
	return p, nil
}
