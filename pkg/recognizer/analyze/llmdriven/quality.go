package llmdriven

import (
	"strings"

	"github.com/aulavox/aulavox/pkg/types"
)

// momentSlackSec is the tolerance past the lecture end inside which a key
// moment timestamp still counts as in range.
const momentSlackSec = 60

// scoreQuality combines the model's self-reported scores with structural
// heuristics computed from the output. A self-reported value in (0,1] is
// trusted but capped by the heuristic for the same dimension, so the model
// cannot rate defects away; missing or out-of-range reports fall back to the
// heuristic alone.
func scoreQuality(reported qualityReport, res *types.LLMAnalysisResult, post *types.PostProcessingResult) types.QualityScores {
	h := heuristicScores(res, post)
	return types.QualityScores{
		Confidence:       blend(reported.Confidence, h.Confidence),
		Coherence:        blend(reported.Coherence, h.Coherence),
		Completeness:     blend(reported.Completeness, h.Completeness),
		MedicalRelevance: blend(reported.MedicalRelevance, h.MedicalRelevance),
	}
}

func blend(reported, heuristic float64) float64 {
	if reported > 0 && reported <= 1 && reported < heuristic {
		return reported
	}
	return heuristic
}

// heuristicScores derives quality ceilings from the shape of the output.
func heuristicScores(res *types.LLMAnalysisResult, post *types.PostProcessingResult) types.QualityScores {
	completeness := sectionShare(res)
	coherence := coherenceScore(res, lectureDuration(post))
	relevance := relevanceScore(res, post)
	return types.QualityScores{
		Confidence:       (completeness + coherence + relevance) / 3,
		Coherence:        coherence,
		Completeness:     completeness,
		MedicalRelevance: relevance,
	}
}

// sectionShare is the fraction of the five result sections that are filled.
func sectionShare(res *types.LLMAnalysisResult) float64 {
	filled := 0
	if res.Summary != "" {
		filled++
	}
	if len(res.KeyConcepts) > 0 {
		filled++
	}
	if len(res.Structure) > 0 {
		filled++
	}
	if len(res.Terminology) > 0 {
		filled++
	}
	if len(res.KeyMoments) > 0 {
		filled++
	}
	return float64(filled) / 5
}

// coherenceScore starts at 1.0 and deducts a quarter per structural defect:
// out-of-order section start times, key moments outside the lecture span,
// duplicated key concepts, and a summary too short to be multi-sentence.
func coherenceScore(res *types.LLMAnalysisResult, duration float64) float64 {
	score := 1.0

	for i := 1; i < len(res.Structure); i++ {
		if res.Structure[i].StartSec < res.Structure[i-1].StartSec {
			score -= 0.25
			break
		}
	}

	for _, m := range res.KeyMoments {
		if m.TimeSec < 0 || (duration > 0 && m.TimeSec > duration+momentSlackSec) {
			score -= 0.25
			break
		}
	}

	seen := make(map[string]bool, len(res.KeyConcepts))
	for _, c := range res.KeyConcepts {
		key := strings.ToLower(c)
		if seen[key] {
			score -= 0.25
			break
		}
		seen[key] = true
	}

	if len([]rune(res.Summary)) < 80 {
		score -= 0.25
	}

	if score < 0 {
		return 0
	}
	return score
}

// relevanceScore measures how much of the lexicon-confirmed terminology the
// analysis covers: the share of glossary terms that reappear in the summary,
// key concepts or terminology list. Without a glossary there is no ground
// truth and the score is neutral.
func relevanceScore(res *types.LLMAnalysisResult, post *types.PostProcessingResult) float64 {
	if len(post.Glossary) == 0 {
		return 0.5
	}

	var hay strings.Builder
	hay.WriteString(res.Summary)
	for _, c := range res.KeyConcepts {
		hay.WriteByte('\n')
		hay.WriteString(c)
	}
	for _, t := range res.Terminology {
		hay.WriteByte('\n')
		hay.WriteString(t.Term)
	}
	haystack := strings.ToLower(hay.String())

	matched := 0
	for _, g := range post.Glossary {
		if strings.Contains(haystack, strings.ToLower(g.Term)) {
			matched++
		}
	}
	return float64(matched) / float64(len(post.Glossary))
}
