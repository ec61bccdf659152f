package export

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strconv"
)

// renderHTML writes the full dossier as a single self-contained page.
func renderHTML(b *Bundle) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := bundleTemplate.Execute(&buf, b); err != nil {
		return nil, "", fmt.Errorf("html: %w", err)
	}
	return buf.Bytes(), "text/html; charset=utf-8", nil
}

var bundleTemplate = template.Must(template.New("bundle").Funcs(template.FuncMap{
	"timecode": timecode,
	"score": func(v float64) string {
		return strconv.Itoa(int(math.Round(v * 100)))
	},
}).Parse(bundleHTML))

const bundleHTML = `<!DOCTYPE html>
<html lang="{{.Session.Language}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1c1c1c; }
h1 { border-bottom: 2px solid #2c5f8a; padding-bottom: .3rem; }
h2 { color: #2c5f8a; margin-top: 2rem; }
.meta { color: #555; font-size: .9rem; }
.card { border: 1px solid #ccc; border-radius: 6px; padding: .8rem 1rem; margin: .8rem 0; }
.card .q { font-weight: bold; }
.card .info { color: #777; font-size: .8rem; margin-top: .4rem; }
.term { font-weight: bold; }
.tag { background: #eef3f7; border-radius: 3px; padding: 0 .3rem; margin-right: .3rem; font-size: .8rem; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #ddd; padding: .4rem .6rem; text-align: left; vertical-align: top; }
footer { margin-top: 3rem; color: #999; font-size: .8rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="meta">
{{.Session.Date.Format "2006-01-02"}}{{with .Session.LecturerName}} &middot; {{.}}{{end}}{{with .Session.AudioDurationSec}} &middot; {{timecode .}}{{end}}
</p>
{{with .Summary}}
<h2>Summary</h2>
<p>{{.}}</p>
{{end}}
{{with .KeyConcepts}}
<h2>Key concepts</h2>
<ul>
{{range .}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
{{with .Structure}}
<h2>Structure</h2>
<ul>
{{range .}}<li><strong>{{timecode .StartSec}}</strong> {{.Title}}{{with .Summary}}<br>{{.}}{{end}}</li>
{{end}}</ul>
{{end}}
{{with .Glossary}}
<h2>Glossary</h2>
<table>
<tr><th>Term</th><th>Category</th><th>Definition</th></tr>
{{range .}}<tr><td class="term">{{.Term}}</td><td>{{.Category}}</td><td>{{.Definition}}</td></tr>
{{end}}</table>
{{end}}
{{with .Research}}
<h2>Researched terminology</h2>
{{range .}}
<p><span class="term">{{.Term}}</span>{{with .Grade}} (grade {{.}}){{end}}<br>
{{.Definition.Text}}{{with .Definition.SourceName}}<br><em>Source: {{.}}</em>{{end}}</p>
{{end}}
{{end}}
{{with .Memos}}
<h2>Study cards</h2>
{{range .}}
<div class="card">
<div class="q">{{.Question}}</div>
<div>{{.Answer}}</div>
<div class="info">{{.Type}} &middot; {{.Difficulty}} &middot; confidence {{score .Confidence}}%{{range .Tags}} <span class="tag">{{.}}</span>{{end}}</div>
</div>
{{end}}
{{end}}
{{with .KeyMoments}}
<h2>Key moments</h2>
<ul>
{{range .}}<li><strong>{{timecode .TimeSec}}</strong> {{.Title}}{{with .Description}}: {{.}}{{end}}</li>
{{end}}</ul>
{{end}}
<footer>Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}</footer>
</body>
</html>
`
