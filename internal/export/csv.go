package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

var csvHeader = []string{"section", "kind", "front", "back", "difficulty", "confidence", "tags"}

// renderCSV writes the tabular artifacts: one row per memo card, researched
// term and glossary entry. Narrative sections do not survive a flat table and
// are left to the richer formats.
func renderCSV(b *Bundle) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{csvHeader}
	for _, m := range b.Memos {
		rows = append(rows, []string{
			"memo",
			string(m.Type),
			m.Question,
			m.Answer,
			string(m.Difficulty),
			formatScore(m.Confidence),
			strings.Join(m.Tags, " "),
		})
	}
	for _, r := range b.Research {
		rows = append(rows, []string{
			"research",
			"definition",
			r.Term,
			r.Definition.Text,
			"",
			formatScore(r.Quality.Confidence),
			strings.Join(r.Synonyms, " "),
		})
	}
	for _, g := range b.Glossary {
		rows = append(rows, []string{
			"glossary",
			string(g.Category),
			g.Term,
			g.Definition,
			"",
			"",
			g.Specialty,
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, "", fmt.Errorf("csv: %w", err)
	}
	return buf.Bytes(), "text/csv", nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
