package ttsjob

import (
	"strings"
	"unicode"
)

// abbreviations maps written shorthand to its spoken Italian expansion.
// Matching is token-wise and case-insensitive; longer keys are not needed
// because tokens are split on whitespace with trailing punctuation peeled.
var abbreviations = map[string]string{
	"dott.":  "dottore",
	"prof.":  "professore",
	"sig.":   "signore",
	"es.":    "ad esempio",
	"ecc.":   "eccetera",
	"ca.":    "circa",
	"n.":     "numero",
	"vs":     "contro",
	"mg":     "milligrammi",
	"ml":     "millilitri",
	"kg":     "chilogrammi",
	"mmhg":   "millimetri di mercurio",
	"bpm":    "battiti al minuto",
	"e.v.":   "per via endovenosa",
	"i.m.":   "per via intramuscolare",
	"p.o.":   "per via orale",
	"t.a.":   "temperatura ambiente",
	"pz":     "paziente",
	"dx":     "destra",
	"sx":     "sinistra",
	"fc":     "frequenza cardiaca",
	"fr":     "frequenza respiratoria",
	"pa":     "pressione arteriosa",
	"ecg":    "elettrocardiogramma",
	"eeg":    "elettroencefalogramma",
	"rmn":    "risonanza magnetica",
	"tac":    "tomografia computerizzata",
	"fans":   "antinfiammatori non steroidei",
	"bid":    "due volte al giorno",
	"tid":    "tre volte al giorno",
}

// vocabulary is the set of medical terms the normalizer emphasizes, keyed
// lowercase. Multi-word terms are stored whole and matched against a
// lowercase view of the text.
type vocabulary struct {
	terms []string
}

func newVocabulary(terms []string) vocabulary {
	v := vocabulary{terms: make([]string, 0, len(terms))}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		v.terms = append(v.terms, t)
	}
	return v
}

// normalized is the outcome of one normalization pass.
type normalized struct {
	text  string
	terms int
}

// normalize expands abbreviations, counts and emphasizes vocabulary terms,
// and tidies whitespace so the synthesizer phrases the text naturally.
func (s *Service) normalize(text string) normalized {
	text = expandAbbreviations(text)
	text = strings.Join(strings.Fields(text), " ")

	terms := 0
	lower := strings.ToLower(text)
	for _, term := range s.vocab.terms {
		n := countOccurrences(lower, term)
		if n == 0 {
			continue
		}
		terms += n
		if s.ssml {
			text = emphasizeSSML(text, term)
		}
	}
	if s.ssml && text != "" {
		text = "<speak>" + text + "</speak>"
	}
	return normalized{text: text, terms: terms}
}

// expandAbbreviations replaces known shorthand tokens with their spoken
// forms. Trailing sentence punctuation on a token survives the expansion.
func expandAbbreviations(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		key := strings.ToLower(f)
		if exp, ok := abbreviations[key]; ok {
			fields[i] = matchCase(exp, f)
			continue
		}
		// Tokens like "mg," or "ecc.)" carry punctuation the map key lacks.
		trimmed := strings.TrimRightFunc(key, func(r rune) bool {
			return unicode.IsPunct(r) && r != '.'
		})
		if trimmed == key {
			continue
		}
		if exp, ok := abbreviations[trimmed]; ok {
			fields[i] = matchCase(exp, f[:len(trimmed)]) + f[len(trimmed):]
		}
	}
	return strings.Join(fields, " ")
}

// matchCase upper-cases the expansion's first letter when the original token
// started a sentence.
func matchCase(expansion, original string) string {
	if original == "" || expansion == "" {
		return expansion
	}
	r := []rune(original)[0]
	if unicode.IsUpper(r) {
		er := []rune(expansion)
		er[0] = unicode.ToUpper(er[0])
		return string(er)
	}
	return expansion
}

// countOccurrences counts whole-word matches of term in the lowercase text.
func countOccurrences(lower, term string) int {
	count := 0
	for start := 0; ; {
		i := strings.Index(lower[start:], term)
		if i < 0 {
			return count
		}
		i += start
		if wordBoundary(lower, i, len(term)) {
			count++
		}
		start = i + len(term)
	}
}

func wordBoundary(s string, start, length int) bool {
	if start > 0 {
		if r := rune(s[start-1]); unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	end := start + length
	if end < len(s) {
		if r := rune(s[end]); unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// emphasizeSSML wraps whole-word occurrences of term in an emphasis element.
// Matching is case-insensitive; the original casing is preserved.
func emphasizeSSML(text, term string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	start := 0
	for {
		i := strings.Index(lower[start:], term)
		if i < 0 {
			b.WriteString(text[start:])
			return b.String()
		}
		i += start
		if !wordBoundary(lower, i, len(term)) {
			b.WriteString(text[start : i+len(term)])
			start = i + len(term)
			continue
		}
		b.WriteString(text[start:i])
		b.WriteString(`<emphasis level="moderate">`)
		b.WriteString(text[i : i+len(term)])
		b.WriteString(`</emphasis>`)
		start = i + len(term)
	}
}
