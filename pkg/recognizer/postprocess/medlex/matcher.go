package medlex

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// Phonetic and fuzzy tiers only consider windows of at least this many
	// letters. Short function words ("di", "il", "che") would otherwise
	// collide with half the lexicon.
	minApproxLen = 4
)

// normFolder folds Italian accents and turns apostrophes into token
// boundaries so elided articles ("l'aorta", "dell'aorta") split off their
// prefix.
var normFolder = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a",
	"è", "e", "é", "e", "ê", "e",
	"ì", "i", "í", "i", "î", "i",
	"ò", "o", "ó", "o", "ô", "o",
	"ù", "u", "ú", "u", "û", "u",
	"'", " ", "’", " ",
)

// normalize lowercases s, folds Italian accents and reduces it to
// single-space-separated letter/digit cores. The normalized form is the
// matching key for every tier.
func normalize(s string) string {
	s = normFolder.Replace(strings.ToLower(s))
	fields := strings.Fields(s)
	cores := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			cores = append(cores, f)
		}
	}
	return strings.Join(cores, " ")
}

// token is one whitespace-delimited word of the source text together with
// the byte span of its core (the token minus leading and trailing
// punctuation). Replacements splice over the core span only, so surrounding
// punctuation survives a correction.
type token struct {
	coreStart int
	coreEnd   int
	norm      string // normalized core; empty for pure-punctuation tokens
}

// tokenize splits text into tokens with byte-accurate core spans.
// Apostrophes act as token boundaries alongside whitespace, mirroring the
// elision handling in normalize.
func tokenize(text string) []token {
	var tokens []token
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := text[start:end]
		lead := strings.IndexFunc(word, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		})
		if lead < 0 {
			tokens = append(tokens, token{coreStart: start, coreEnd: start})
			start = -1
			return
		}
		trail := strings.LastIndexFunc(word, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		})
		_, size := utf8.DecodeRuneInString(word[trail:])
		tokens = append(tokens, token{
			coreStart: start + lead,
			coreEnd:   start + trail + size,
			norm:      normalize(word[lead : trail+size]),
		})
		start = -1
	}
	for i, r := range text {
		if unicode.IsSpace(r) || r == '\'' || r == '’' {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(text))
	return tokens
}

// pattern is one precomputed written form of a lexicon entry.
type pattern struct {
	entry  *Entry
	norm   string
	tokens []string
	codes  map[string]struct{}
}

// matchTier orders the matching strategies by strength.
type matchTier int

const (
	tierExact matchTier = iota
	tierPhonetic
	tierFuzzy
)

// match is a resolved lexicon hit for one text window.
type match struct {
	entry *Entry
	score float64 // 1.0 for exact hits, Jaro-Winkler similarity otherwise
	tier  matchTier
}

// matcher resolves normalized text windows against the lexicon in three
// tiers: exact form lookup, Double Metaphone candidates ranked by
// Jaro-Winkler, and a pure Jaro-Winkler fallback with a stricter threshold.
// All lexicon forms are precomputed at construction; a matcher is read-only
// afterwards and safe for concurrent use.
type matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	exact    map[string]*Entry
	patterns []pattern
	maxWords int
}

func newMatcher(entries []Entry, phoneticThreshold, fuzzyThreshold float64) *matcher {
	m := &matcher{
		phoneticThreshold: phoneticThreshold,
		fuzzyThreshold:    fuzzyThreshold,
		exact:             make(map[string]*Entry, len(entries)*2),
		maxWords:          1,
	}
	for i := range entries {
		e := &entries[i]
		forms := make([]string, 0, 1+len(e.Variants)+len(e.Confusions))
		forms = append(forms, e.Term)
		forms = append(forms, e.Variants...)
		forms = append(forms, e.Confusions...)
		for _, form := range forms {
			norm := normalize(form)
			if norm == "" {
				continue
			}
			if _, ok := m.exact[norm]; !ok {
				m.exact[norm] = e
			}
			tokens := strings.Fields(norm)
			if len(tokens) > m.maxWords {
				m.maxWords = len(tokens)
			}
			m.patterns = append(m.patterns, pattern{
				entry:  e,
				norm:   norm,
				tokens: tokens,
				codes:  codesForTokens(tokens),
			})
		}
	}
	// Deterministic candidate order regardless of lexicon file order.
	sort.Slice(m.patterns, func(i, j int) bool {
		if m.patterns[i].entry.Term != m.patterns[j].entry.Term {
			return m.patterns[i].entry.Term < m.patterns[j].entry.Term
		}
		return m.patterns[i].norm < m.patterns[j].norm
	})
	return m
}

// lookup resolves one normalized window. The exact tier wins outright;
// otherwise phonetic candidates (Double Metaphone code overlap, ranked by
// Jaro-Winkler above the phonetic threshold) beat fuzzy ones regardless of
// score, matching how a pronunciation hit outranks a spelling coincidence.
//
// Approximate tiers only run when every window token has at least
// minApproxLen letters: articles and prepositions would otherwise drag
// whole windows into false corrections.
func (m *matcher) lookup(norm string) (match, bool) {
	if norm == "" {
		return match{}, false
	}
	if e, ok := m.exact[norm]; ok {
		return match{entry: e, score: 1.0, tier: tierExact}, true
	}

	windowTokens := strings.Fields(norm)
	for _, wt := range windowTokens {
		if len(wt) < minApproxLen {
			return match{}, false
		}
	}
	windowCodes := codesForTokens(windowTokens)

	var best match
	for i := range m.patterns {
		p := &m.patterns[i]
		score := approxScore(windowTokens, p.tokens)

		if codesOverlap(windowCodes, p.codes) {
			if score >= m.phoneticThreshold && (best.tier != tierPhonetic || score > best.score) {
				best = match{entry: p.entry, score: score, tier: tierPhonetic}
			}
		} else if best.tier != tierPhonetic {
			if score >= m.fuzzyThreshold && score > best.score {
				best = match{entry: p.entry, score: score, tier: tierFuzzy}
			}
		}
	}

	if best.entry == nil {
		return match{}, false
	}
	return best, true
}

// codesForTokens returns the union of the Double Metaphone codes of the
// tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// approxScore computes the Jaro-Winkler similarity between window and
// pattern. Windows of the same word count are scored token by token and the
// weakest pair decides, so "cardite acuta" cannot ride one shared token
// into "mio cardite". Windows of different word counts are compared as
// concatenated strings, which catches splits and joins like "mio cardite"
// vs "miocardite"; a split differs from its join only around the junction,
// so concatenations whose lengths differ by more than two letters are
// rejected outright instead of letting a window swallow a neighboring word.
func approxScore(windowTokens, patternTokens []string) float64 {
	if len(windowTokens) == len(patternTokens) {
		score := 1.0
		for i := range windowTokens {
			s := matchr.JaroWinkler(windowTokens[i], patternTokens[i], false)
			if s < score {
				score = s
			}
		}
		return score
	}

	concatW := strings.Join(windowTokens, "")
	concatP := strings.Join(patternTokens, "")
	if d := len(concatW) - len(concatP); d > 2 || d < -2 {
		return 0
	}
	return matchr.JaroWinkler(concatW, concatP, false)
}
