package export

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

// Bundle is the artifact view every renderer receives. It is assembled once
// per run so all formats of the run carry identical content.
type Bundle struct {
	Session     *types.ClassSession
	Summary     string
	KeyConcepts []string
	Structure   []types.StructureSection
	KeyMoments  []types.KeyMoment
	Glossary    []types.GlossaryEntry
	Research    []types.ResearchResult
	Memos       []types.MicroMemo
	GeneratedAt time.Time
}

// buildBundle filters the scored artifacts by minConfidence and assembles the
// render view. Lecture facts (structure, glossary, key moments) carry no
// model confidence and are always included. Memos arrive already filtered by
// the store query.
func buildBundle(session *types.ClassSession, post *types.PostProcessingResult, analysis *types.LLMAnalysisResult, research []types.ResearchResult, memos []types.MicroMemo, minConfidence float64, at time.Time) *Bundle {
	b := &Bundle{
		Session:     session,
		Memos:       memos,
		GeneratedAt: at,
	}
	if analysis != nil {
		b.Summary = analysis.Summary
		b.KeyConcepts = analysis.KeyConcepts
		b.Structure = analysis.Structure
		b.KeyMoments = analysis.KeyMoments
	}
	if post != nil {
		b.Glossary = post.Glossary
	}
	for _, r := range research {
		if r.Quality.Confidence >= minConfidence {
			b.Research = append(b.Research, r)
		}
	}
	return b
}

// Title is the human heading of the bundle.
func (b *Bundle) Title() string {
	subject := strings.TrimSpace(b.Session.Subject)
	topic := strings.TrimSpace(b.Session.Topic)
	switch {
	case subject != "" && topic != "":
		return fmt.Sprintf("%s: %s", subject, topic)
	case subject != "":
		return subject
	case topic != "":
		return topic
	default:
		return "Class session"
	}
}

// ArtifactCount is the number of study artifacts in the bundle: memo cards,
// researched terms and glossary entries.
func (b *Bundle) ArtifactCount() int {
	return len(b.Memos) + len(b.Research) + len(b.Glossary)
}

// QualityScore reflects artifact coverage in [0,1]. A bundle with a summary,
// ten memo cards, ten glossary entries, five researched terms and three key
// moments scores 1.0; sparser bundles scale down per class.
func (b *Bundle) QualityScore() float64 {
	var score float64
	if strings.TrimSpace(b.Summary) != "" {
		score += 0.30
	}
	score += 0.25 * coverage(len(b.Memos), 10)
	score += 0.20 * coverage(len(b.Glossary), 10)
	score += 0.15 * coverage(len(b.Research), 5)
	score += 0.10 * coverage(len(b.KeyMoments), 3)
	return math.Round(score*100) / 100
}

func coverage(n, full int) float64 {
	if n >= full {
		return 1
	}
	return float64(n) / float64(full)
}

// timecode formats lecture seconds as h:mm:ss, dropping the hour when zero.
func timecode(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(math.Round(sec))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
