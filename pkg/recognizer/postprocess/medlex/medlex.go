// Package medlex implements the post-processing stage against a medical
// lexicon, entirely in process.
//
// Two passes run over the transcript. The correction pass walks n-gram
// windows of the raw text (longest window first) and replaces recognized
// mistranscriptions with the lexicon's canonical form when the entry's
// confidence reaches the threshold. The NER pass repeats the walk over the
// corrected text and records every recognized term with its byte span,
// category and specialty. Both passes resolve windows through the same
// three-tier matcher (exact, Double Metaphone, Jaro-Winkler), which makes
// the processor idempotent: canonical forms exact-match their own entry, so
// a second run changes nothing.
//
// The processor also assembles the class glossary from the entities found
// and segments the lecture timeline into pedagogical activities by keyword
// scoring (see segmentation.go).
package medlex

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/recognizer/postprocess"
	"github.com/aulavox/aulavox/pkg/types"
)

// defaultConfidenceThreshold gates the correction pass: entries below it
// are still detected by NER but never rewrite the transcript.
const defaultConfidenceThreshold = 0.8

// Compile-time assertion that Processor implements postprocess.PostProcessor.
var _ postprocess.PostProcessor = (*Processor)(nil)

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithConfidenceThreshold sets the minimum entry confidence required for a
// correction to be applied. Default: 0.8.
func WithConfidenceThreshold(threshold float64) Option {
	return func(p *Processor) {
		p.threshold = threshold
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for
// phonetically-matched windows. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(p *Processor) {
		p.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the fuzzy
// fallback tier. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(p *Processor) {
		p.fuzzyThreshold = threshold
	}
}

// Processor is the lexicon-driven PostProcessor. It is read-only after
// construction and safe for concurrent use.
type Processor struct {
	threshold         float64
	phoneticThreshold float64
	fuzzyThreshold    float64

	matcher *matcher
	entries []Entry
}

// New builds a Processor from a validated lexicon.
func New(lexicon *LexiconFile, opts ...Option) (*Processor, error) {
	if lexicon == nil {
		return nil, types.Errorf(types.KindConfiguration, "medlex: lexicon must not be nil")
	}
	if err := lexicon.Validate(); err != nil {
		return nil, types.WithKind(types.KindConfiguration, err)
	}

	p := &Processor{
		threshold:         defaultConfidenceThreshold,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		entries:           lexicon.Terms,
	}
	for _, o := range opts {
		o(p)
	}
	p.matcher = newMatcher(p.entries, p.phoneticThreshold, p.fuzzyThreshold)
	return p, nil
}

// Name identifies this backend in logs and job metadata.
func (p *Processor) Name() string { return "medlex" }

// Process runs the correction, NER, segmentation and glossary passes.
func (p *Processor) Process(ctx context.Context, transcription *types.TranscriptionResult, diarization *types.DiarizationResult, progress postprocess.ProgressFunc) (*types.PostProcessingResult, error) {
	if transcription == nil || strings.TrimSpace(transcription.Text) == "" {
		return nil, types.Errorf(types.KindValidation, "medlex: transcription text must not be empty")
	}

	start := time.Now()
	report := func(pct float64) {
		if progress != nil {
			progress(pct)
		}
	}

	corrected, corrections := p.correct(transcription.Text)
	if err := ctx.Err(); err != nil {
		return nil, types.ErrCancelled
	}
	report(0.4)

	entities := p.recognize(corrected)
	if err := ctx.Err(); err != nil {
		return nil, types.ErrCancelled
	}
	report(0.7)

	activities := segment(transcription.Segments, diarization)
	report(0.9)

	result := &types.PostProcessingResult{
		JobID:             transcription.JobID,
		ClassSessionID:    transcription.ClassSessionID,
		CorrectedText:     corrected,
		Corrections:       corrections,
		Entities:          entities,
		Glossary:          p.glossary(entities),
		Activities:        activities,
		ProcessingTimeSec: time.Since(start).Seconds(),
		CreatedAt:         time.Now().UTC(),
	}
	report(1.0)
	return result, nil
}

// correct walks n-gram windows of the raw text and splices canonical forms
// over recognized mistranscriptions. Matches below the confidence threshold
// and matches whose normalized form already equals the canonical one leave
// the text untouched and are not recorded.
func (p *Processor) correct(text string) (string, []types.Correction) {
	tokens := tokenize(text)
	corrections := []types.Correction{}

	var b strings.Builder
	cursor := 0

	i := 0
	for i < len(tokens) {
		if tokens[i].norm == "" {
			i++
			continue
		}

		m, n := p.matchAt(tokens, i)
		if n == 0 {
			i++
			continue
		}

		spanStart := tokens[i].coreStart
		spanEnd := tokens[i+n-1].coreEnd
		detected := text[spanStart:spanEnd]

		if m.entry.Confidence >= p.threshold && normalize(detected) != normalize(m.entry.Term) {
			b.WriteString(text[cursor:spanStart])
			b.WriteString(m.entry.Term)
			cursor = spanEnd
			corrections = append(corrections, types.Correction{
				Offset:      spanStart,
				Original:    detected,
				Replacement: m.entry.Term,
				Confidence:  m.entry.Confidence * m.score,
			})
		}
		i += n
	}
	b.WriteString(text[cursor:])
	return b.String(), corrections
}

// recognize walks the corrected text and records every lexicon hit in
// textual order. Detection is not gated by the confidence threshold.
func (p *Processor) recognize(text string) []types.MedicalEntity {
	tokens := tokenize(text)
	var entities []types.MedicalEntity

	i := 0
	for i < len(tokens) {
		if tokens[i].norm == "" {
			i++
			continue
		}

		m, n := p.matchAt(tokens, i)
		if n == 0 {
			i++
			continue
		}

		spanStart := tokens[i].coreStart
		spanEnd := tokens[i+n-1].coreEnd
		entities = append(entities, types.MedicalEntity{
			Term:       m.entry.Term,
			Detected:   text[spanStart:spanEnd],
			Offset:     spanStart,
			Length:     spanEnd - spanStart,
			Category:   m.entry.Category,
			Specialty:  m.entry.Specialty,
			Confidence: m.entry.Confidence * m.score,
		})
		i += n
	}
	return entities
}

// matchAt tries n-gram windows anchored at tokens[i], longest first, and
// returns the match together with the number of tokens consumed. n is 0
// when no window matches.
func (p *Processor) matchAt(tokens []token, i int) (match, int) {
	// Windows must be runs of word tokens; punctuation-only tokens break
	// the run.
	maxN := 0
	for i+maxN < len(tokens) && maxN < p.matcher.maxWords && tokens[i+maxN].norm != "" {
		maxN++
	}

	for n := maxN; n >= 1; n-- {
		parts := make([]string, 0, n)
		for k := range n {
			parts = append(parts, tokens[i+k].norm)
		}
		if m, ok := p.matcher.lookup(strings.Join(parts, " ")); ok {
			return m, n
		}
	}
	return match{}, 0
}

// glossary aggregates the recognized entities into one row per canonical
// term, ordered by occurrence count and then alphabetically.
func (p *Processor) glossary(entities []types.MedicalEntity) []types.GlossaryEntry {
	byTerm := make(map[string]*types.GlossaryEntry)
	for _, e := range entities {
		if g, ok := byTerm[e.Term]; ok {
			g.Occurrences++
			continue
		}
		entry := p.entryFor(e.Term)
		g := &types.GlossaryEntry{
			Term:        e.Term,
			Category:    e.Category,
			Specialty:   e.Specialty,
			Occurrences: 1,
		}
		if entry != nil {
			g.Definition = entry.Definition
			g.Translations = entry.Translations
		}
		byTerm[e.Term] = g
	}

	out := make([]types.GlossaryEntry, 0, len(byTerm))
	for _, g := range byTerm {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Term < out[j].Term
	})
	return out
}

// entryFor returns the lexicon entry whose canonical form is term.
func (p *Processor) entryFor(term string) *Entry {
	for i := range p.entries {
		if p.entries[i].Term == term {
			return &p.entries[i]
		}
	}
	return nil
}
