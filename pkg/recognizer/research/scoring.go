package research

import (
	"slices"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

// authorityBase is the per-source authority table. Bonuses for peer review,
// official status and journal impact are added on top, clamped to 1.0.
var authorityBase = map[types.SourceType]float64{
	types.SourceWHO:         0.95,
	types.SourcePubMed:      0.90,
	types.SourceCochrane:    0.95,
	types.SourceNIH:         0.90,
	types.SourceISS:         0.85,
	types.SourceUpToDate:    0.85,
	types.SourceAIFA:        0.80,
	types.SourceMayo:        0.80,
	types.SourceMedlinePlus: 0.70,
	types.SourceWebMD:       0.60,
	types.SourceOther:       0.50,
}

// sourceOrder fixes the tie-break order used by SortSources. It mirrors the
// authority table from most to least authoritative, with the two 0.95
// entries ordered WHO first.
var sourceOrder = []types.SourceType{
	types.SourceWHO,
	types.SourceCochrane,
	types.SourcePubMed,
	types.SourceNIH,
	types.SourceISS,
	types.SourceUpToDate,
	types.SourceAIFA,
	types.SourceMayo,
	types.SourceMedlinePlus,
	types.SourceWebMD,
	types.SourceOther,
}

func sourceRank(s types.SourceType) int {
	for i, v := range sourceOrder {
		if v == s {
			return i
		}
	}
	return len(sourceOrder)
}

// AuthorityScore derives the authority of a source from its origin plus
// bonuses: +0.10 peer-reviewed, +0.05 official, +0.05 high-impact journal.
// Unknown source types score as SourceOther.
func AuthorityScore(src types.MedicalSource) float64 {
	score, ok := authorityBase[src.SourceType]
	if !ok {
		score = authorityBase[types.SourceOther]
	}
	if src.PeerReviewed {
		score += 0.10
	}
	if src.OfficialSource {
		score += 0.05
	}
	if src.HighImpactJournal {
		score += 0.05
	}
	if score > 1 {
		return 1
	}
	return score
}

// RecencyScore tiers publication age: 1.0 within a year, then 0.8, 0.6 and
// 0.4 at two, five and ten years, 0.2 beyond. Sources without a publication
// date score the lowest tier.
func RecencyScore(published *time.Time, now time.Time) float64 {
	if published == nil {
		return 0.2
	}
	switch {
	case published.After(now.AddDate(-1, 0, 0)):
		return 1.0
	case published.After(now.AddDate(-2, 0, 0)):
		return 0.8
	case published.After(now.AddDate(-5, 0, 0)):
		return 0.6
	case published.After(now.AddDate(-10, 0, 0)):
		return 0.4
	default:
		return 0.2
	}
}

// OverallScore is the weighted blend of a source's quality dimensions:
// 0.35 relevance, 0.25 authority, 0.15 recency, 0.15 content quality, plus
// 0.05 each for peer review and official status. Clamped to [0,1].
func OverallScore(src types.MedicalSource) float64 {
	score := 0.35*src.Relevance + 0.25*src.Authority + 0.15*src.Recency + 0.15*src.ContentQuality
	if src.PeerReviewed {
		score += 0.05
	}
	if src.OfficialSource {
		score += 0.05
	}
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// FinalizeSource fills the derived quality fields of a fetched source:
// Authority from the table, Recency from the publication date, and
// OverallScore from the blend. Fetchers set Relevance and ContentQuality
// before this runs.
func FinalizeSource(src *types.MedicalSource, now time.Time) {
	src.Authority = AuthorityScore(*src)
	src.Recency = RecencyScore(src.PublicationDate, now)
	src.OverallScore = OverallScore(*src)
}

// SortSources orders sources by overall score descending, breaking ties by
// the fixed source-type order so aggregation is deterministic across runs.
func SortSources(sources []types.MedicalSource) {
	slices.SortStableFunc(sources, func(a, b types.MedicalSource) int {
		switch {
		case a.OverallScore > b.OverallScore:
			return -1
		case a.OverallScore < b.OverallScore:
			return 1
		}
		return sourceRank(a.SourceType) - sourceRank(b.SourceType)
	})
}

// WeightedQuality folds the per-dimension research quality and the result
// completeness into the scalar the letter grade derives from:
// 0.3 confidence + 0.3 source reliability + 0.2 completeness + 0.2 consensus.
func WeightedQuality(q types.ResearchQuality, completeness float64) float64 {
	return 0.3*q.Confidence + 0.3*q.SourceReliability + 0.2*completeness + 0.2*q.Consensus
}

// GradeResearch maps a term's research quality to its letter grade.
func GradeResearch(q types.ResearchQuality, completeness float64) types.Grade {
	return types.GradeFor(WeightedQuality(q, completeness))
}
