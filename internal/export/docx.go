package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

// renderDOCX writes the full dossier as a minimal OOXML package. Formatting
// is carried inline on the runs so no styles part is needed.
func renderDOCX(b *Bundle) ([]byte, string, error) {
	var doc docxWriter

	doc.title(b.Title())
	meta := []string{b.Session.Date.Format("2006-01-02")}
	if b.Session.LecturerName != "" {
		meta = append(meta, b.Session.LecturerName)
	}
	if b.Session.AudioDurationSec > 0 {
		meta = append(meta, timecode(b.Session.AudioDurationSec))
	}
	doc.small(strings.Join(meta, "  |  "))

	if strings.TrimSpace(b.Summary) != "" {
		doc.heading("Summary")
		doc.paragraph(b.Summary)
	}
	if len(b.KeyConcepts) > 0 {
		doc.heading("Key concepts")
		for _, c := range b.KeyConcepts {
			doc.paragraph("- " + c)
		}
	}
	if len(b.Structure) > 0 {
		doc.heading("Structure")
		for _, sec := range b.Structure {
			doc.strong(fmt.Sprintf("[%s] %s", timecode(sec.StartSec), sec.Title))
			if sec.Summary != "" {
				doc.paragraph(sec.Summary)
			}
		}
	}
	if len(b.Glossary) > 0 {
		doc.heading("Glossary")
		for _, g := range b.Glossary {
			doc.strong(fmt.Sprintf("%s (%s)", g.Term, g.Category))
			if g.Definition != "" {
				doc.paragraph(g.Definition)
			}
		}
	}
	if len(b.Research) > 0 {
		doc.heading("Researched terminology")
		for _, r := range b.Research {
			label := r.Term
			if r.Grade != "" {
				label = fmt.Sprintf("%s (grade %s)", r.Term, r.Grade)
			}
			doc.strong(label)
			if r.Definition.Text != "" {
				doc.paragraph(r.Definition.Text)
			}
			if r.Definition.SourceName != "" {
				doc.small("Source: " + r.Definition.SourceName)
			}
		}
	}
	if len(b.Memos) > 0 {
		doc.heading("Study cards")
		for i, m := range b.Memos {
			doc.strong(fmt.Sprintf("%d. %s", i+1, m.Question))
			doc.paragraph(m.Answer)
			info := fmt.Sprintf("%s | %s | confidence %.0f%%", m.Type, m.Difficulty, m.Confidence*100)
			if len(m.Tags) > 0 {
				info += " | " + strings.Join(m.Tags, ", ")
			}
			doc.small(info)
		}
	}
	if len(b.KeyMoments) > 0 {
		doc.heading("Key moments")
		for _, km := range b.KeyMoments {
			line := fmt.Sprintf("[%s] %s", timecode(km.TimeSec), km.Title)
			if km.Description != "" {
				line += ": " + km.Description
			}
			doc.paragraph(line)
		}
	}
	doc.small("Generated " + b.GeneratedAt.Format("2006-01-02 15:04 MST"))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", doc.document()},
	}
	for _, p := range parts {
		f, err := zw.Create(p.name)
		if err != nil {
			return nil, "", fmt.Errorf("docx: create %s: %w", p.name, err)
		}
		if _, err := io.WriteString(f, p.body); err != nil {
			return nil, "", fmt.Errorf("docx: write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("docx: %w", err)
	}
	return buf.Bytes(), docxContentType, nil
}

// docxWriter accumulates body paragraphs. Run sizes are half-points.
type docxWriter struct {
	body strings.Builder
}

func (d *docxWriter) title(text string) {
	d.para(text, `<w:b/><w:sz w:val="34"/>`)
}

func (d *docxWriter) heading(text string) {
	d.para(text, `<w:b/><w:color w:val="2C5F8A"/><w:sz w:val="26"/>`)
}

func (d *docxWriter) paragraph(text string) {
	d.para(text, `<w:sz w:val="20"/>`)
}

func (d *docxWriter) strong(text string) {
	d.para(text, `<w:b/><w:sz w:val="20"/>`)
}

func (d *docxWriter) small(text string) {
	d.para(text, `<w:i/><w:color w:val="787878"/><w:sz w:val="16"/>`)
}

func (d *docxWriter) para(text, runProps string) {
	d.body.WriteString(`<w:p><w:r><w:rPr>`)
	d.body.WriteString(runProps)
	d.body.WriteString(`</w:rPr><w:t xml:space="preserve">`)
	d.body.WriteString(xmlEscape(text))
	d.body.WriteString(`</w:t></w:r></w:p>`)
}

func (d *docxWriter) document() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString("\n")
	sb.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	sb.WriteString(d.body.String())
	sb.WriteString(`<w:sectPr/></w:body></w:document>`)
	return sb.String()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
