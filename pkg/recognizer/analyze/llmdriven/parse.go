package llmdriven

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/types"
)

// analysisResponse is the JSON shape the model is instructed to return.
// Parsing is strict: unknown fields and trailing content are errors, so a
// model drifting from the schema is caught instead of silently dropped.
type analysisResponse struct {
	Summary        string             `json:"summary"`
	KeyConcepts    []string           `json:"key_concepts"`
	ClassStructure []structureSection `json:"class_structure"`
	Terminology    []terminologyItem  `json:"terminology"`
	KeyMoments     []keyMoment        `json:"key_moments"`
	Quality        qualityReport      `json:"quality"`
}

type structureSection struct {
	Title    string  `json:"title"`
	StartSec float64 `json:"start_sec"`
	Summary  string  `json:"summary"`
}

type terminologyItem struct {
	Term         string `json:"term"`
	Definition   string `json:"definition"`
	Translations struct {
		IT string `json:"it"`
		ES string `json:"es"`
		EN string `json:"en"`
	} `json:"translations"`
}

type keyMoment struct {
	TimeSec     float64 `json:"time_sec"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

type qualityReport struct {
	Confidence       float64 `json:"confidence"`
	Coherence        float64 `json:"coherence"`
	Completeness     float64 `json:"completeness"`
	MedicalRelevance float64 `json:"medical_relevance"`
}

// parseAnalysis decodes the model reply into an analysisResponse. Markdown
// code fences are tolerated; everything else must be exactly one JSON object
// matching the schema, with a non-blank summary.
func parseAnalysis(content string) (*analysisResponse, error) {
	cleaned := llm.StripFences(content)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var r analysisResponse
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing content after JSON object")
	}
	if strings.TrimSpace(r.Summary) == "" {
		return nil, fmt.Errorf("reply has empty summary")
	}
	return &r, nil
}

// toResult maps the parsed reply onto the typed stage result, dropping
// entries without the fields that make them usable (blank titles or terms)
// and clamping the capped lists.
func toResult(r *analysisResponse, maxConcepts, maxMoments int) *types.LLMAnalysisResult {
	out := &types.LLMAnalysisResult{
		Summary: strings.TrimSpace(r.Summary),
	}

	for _, c := range r.KeyConcepts {
		if len(out.KeyConcepts) == maxConcepts {
			break
		}
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out.KeyConcepts = append(out.KeyConcepts, c)
	}

	for _, s := range r.ClassStructure {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		out.Structure = append(out.Structure, types.StructureSection{
			Title:    title,
			StartSec: s.StartSec,
			Summary:  strings.TrimSpace(s.Summary),
		})
	}

	for _, t := range r.Terminology {
		term := strings.TrimSpace(t.Term)
		if term == "" {
			continue
		}
		out.Terminology = append(out.Terminology, types.TerminologyEntry{
			Term:       term,
			Definition: strings.TrimSpace(t.Definition),
			Translations: types.Translations{
				IT: strings.TrimSpace(t.Translations.IT),
				ES: strings.TrimSpace(t.Translations.ES),
				EN: strings.TrimSpace(t.Translations.EN),
			},
		})
	}

	for _, m := range r.KeyMoments {
		if len(out.KeyMoments) == maxMoments {
			break
		}
		title := strings.TrimSpace(m.Title)
		if title == "" {
			continue
		}
		out.KeyMoments = append(out.KeyMoments, types.KeyMoment{
			TimeSec:     m.TimeSec,
			Title:       title,
			Description: strings.TrimSpace(m.Description),
		})
	}

	return out
}
