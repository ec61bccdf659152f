package memo

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aulavox/aulavox/pkg/types"
)

// Card bounds. Lengths are counted in runes so accented Italian text is not
// penalized by its UTF-8 encoding.
const (
	MinQuestionChars = 20
	MaxQuestionChars = 200
	MinAnswerChars   = 50
	MaxAnswerChars   = 500
	MinKeywords      = 2
)

// minKeywordRunes keeps one- and two-letter abbreviations out of the
// vocabulary; substring matches on those are mostly accidental.
const minKeywordRunes = 3

// Vocabulary is the lowercase set of medical terms known for one lecture.
type Vocabulary map[string]struct{}

// BuildVocabulary collects the keyword vocabulary from every artifact:
// lexicon entities and glossary rows, analysis terminology with its
// translations, researched terms and their synonyms.
func BuildVocabulary(in Inputs) Vocabulary {
	v := make(Vocabulary)
	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if utf8.RuneCountInString(term) < minKeywordRunes {
			return
		}
		v[term] = struct{}{}
	}

	if in.Post != nil {
		for _, e := range in.Post.Entities {
			add(e.Term)
			add(e.Detected)
		}
		for _, g := range in.Post.Glossary {
			add(g.Term)
		}
	}
	if in.Analysis != nil {
		for _, t := range in.Analysis.Terminology {
			add(t.Term)
			add(t.Translations.IT)
			add(t.Translations.ES)
			add(t.Translations.EN)
		}
	}
	for _, r := range in.Research {
		add(r.Term)
		add(r.NormalizedTerm)
		for _, s := range r.Synonyms {
			add(s)
		}
	}
	return v
}

// Count reports how many distinct vocabulary terms appear in text,
// case-insensitively.
func (v Vocabulary) Count(text string) int {
	text = strings.ToLower(text)
	n := 0
	for term := range v {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}

// ValidateCard checks one card against the deck rules: declared type and
// difficulty, confidence in [0,1], question and answer length bounds, and
// at least MinKeywords vocabulary terms across question and answer.
func ValidateCard(m types.MicroMemo, vocab Vocabulary) error {
	if !m.Type.IsValid() {
		return fmt.Errorf("unknown card type %q", m.Type)
	}
	if !m.Difficulty.IsValid() {
		return fmt.Errorf("unknown difficulty %q", m.Difficulty)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", m.Confidence)
	}
	if n := utf8.RuneCountInString(m.Question); n < MinQuestionChars || n > MaxQuestionChars {
		return fmt.Errorf("question is %d chars, want %d..%d", n, MinQuestionChars, MaxQuestionChars)
	}
	if n := utf8.RuneCountInString(m.Answer); n < MinAnswerChars || n > MaxAnswerChars {
		return fmt.Errorf("answer is %d chars, want %d..%d", n, MinAnswerChars, MaxAnswerChars)
	}
	if n := vocab.Count(m.Question + " " + m.Answer); n < MinKeywords {
		return fmt.Errorf("%d medical keywords, want at least %d", n, MinKeywords)
	}
	return nil
}
