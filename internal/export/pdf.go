package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

// renderPDF writes the full dossier as an A4 document. Text passes through
// the cp1252 translator, which covers the accented characters of the
// supported lecture languages.
func renderPDF(b *Bundle) ([]byte, string, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(tr(b.Title()), false)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(130, 130, 130)
		pdf.CellFormat(0, 8, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	heading := func(text string) {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.SetTextColor(44, 95, 138)
		pdf.CellFormat(0, 8, tr(text), "", 1, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	paragraph := func(text string) {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(text), "", "L", false)
	}
	strongLine := func(text string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(0, 5, tr(text), "", "L", false)
	}
	smallLine := func(text string) {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.MultiCell(0, 4, tr(text), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.SetFont("Helvetica", "B", 17)
	pdf.MultiCell(0, 8, tr(b.Title()), "", "L", false)

	meta := []string{b.Session.Date.Format("2006-01-02")}
	if b.Session.LecturerName != "" {
		meta = append(meta, b.Session.LecturerName)
	}
	if b.Session.AudioDurationSec > 0 {
		meta = append(meta, timecode(b.Session.AudioDurationSec))
	}
	smallLine(strings.Join(meta, "  |  "))

	if strings.TrimSpace(b.Summary) != "" {
		heading("Summary")
		paragraph(b.Summary)
	}

	if len(b.KeyConcepts) > 0 {
		heading("Key concepts")
		for _, c := range b.KeyConcepts {
			paragraph("- " + c)
		}
	}

	if len(b.Structure) > 0 {
		heading("Structure")
		for _, sec := range b.Structure {
			strongLine(fmt.Sprintf("[%s] %s", timecode(sec.StartSec), sec.Title))
			if sec.Summary != "" {
				paragraph(sec.Summary)
			}
			pdf.Ln(1)
		}
	}

	if len(b.Glossary) > 0 {
		heading("Glossary")
		for _, g := range b.Glossary {
			strongLine(fmt.Sprintf("%s (%s)", g.Term, g.Category))
			if g.Definition != "" {
				paragraph(g.Definition)
			}
			pdf.Ln(1)
		}
	}

	if len(b.Research) > 0 {
		heading("Researched terminology")
		for _, r := range b.Research {
			label := r.Term
			if r.Grade != "" {
				label = fmt.Sprintf("%s (grade %s)", r.Term, r.Grade)
			}
			strongLine(label)
			if r.Definition.Text != "" {
				paragraph(r.Definition.Text)
			}
			if r.Definition.SourceName != "" {
				smallLine("Source: " + r.Definition.SourceName)
			}
			pdf.Ln(1)
		}
	}

	if len(b.Memos) > 0 {
		heading("Study cards")
		for i, m := range b.Memos {
			strongLine(fmt.Sprintf("%d. %s", i+1, m.Question))
			paragraph(m.Answer)
			info := fmt.Sprintf("%s | %s | confidence %.0f%%", m.Type, m.Difficulty, m.Confidence*100)
			if len(m.Tags) > 0 {
				info += " | " + strings.Join(m.Tags, ", ")
			}
			smallLine(info)
			pdf.Ln(1)
		}
	}

	if len(b.KeyMoments) > 0 {
		heading("Key moments")
		for _, km := range b.KeyMoments {
			line := fmt.Sprintf("[%s] %s", timecode(km.TimeSec), km.Title)
			if km.Description != "" {
				line += ": " + km.Description
			}
			paragraph(line)
		}
	}

	pdf.Ln(6)
	smallLine("Generated " + b.GeneratedAt.Format("2006-01-02 15:04 MST"))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("pdf: %w", err)
	}
	return buf.Bytes(), "application/pdf", nil
}
