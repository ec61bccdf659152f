package medlex

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aulavox/aulavox/pkg/types"
)

// LexiconFile is the top-level structure of a medical lexicon YAML file.
//
// Example:
//
//	lexicon:
//	  name: "cardiologia-it"
//	  language: it
//	terms:
//	  - term: miocardite
//	    category: pathology
//	    specialty: cardiologia
//	    confidence: 0.95
//	    definition: "Infiammazione del miocardio."
//	    confusions: ["mio cardite"]
//	    translations: {es: miocarditis, en: myocarditis}
type LexiconFile struct {
	Lexicon LexiconMeta `yaml:"lexicon"`
	Terms   []Entry     `yaml:"terms"`
}

// LexiconMeta holds top-level metadata for a lexicon.
type LexiconMeta struct {
	// Name is the lexicon's display name.
	Name string `yaml:"name"`

	// Description is a free-text summary of the lexicon's coverage.
	Description string `yaml:"description"`

	// Language is the primary language of the terms (e.g. "it").
	Language string `yaml:"language"`
}

// Entry is one medical term of the lexicon.
type Entry struct {
	// Term is the canonical written form. Corrections replace detected
	// variants and confusions with this exact string.
	Term string `yaml:"term"`

	// Variants are accepted alternative forms (plurals, inflections).
	Variants []string `yaml:"variants,omitempty"`

	// Confusions are known ASR mistranscriptions of the term, matched
	// verbatim before any phonetic or fuzzy tier runs.
	Confusions []string `yaml:"confusions,omitempty"`

	// Category classifies the term for the NER pass.
	Category types.EntityCategory `yaml:"category"`

	// Specialty is the medical specialty the term belongs to.
	Specialty string `yaml:"specialty,omitempty"`

	// Confidence is the lexicon author's trust in this entry, in (0,1].
	// Corrections are only applied when it reaches the processor's
	// confidence threshold; detection is not gated by it.
	Confidence float64 `yaml:"confidence"`

	// Definition is a short definition used for the class glossary.
	Definition string `yaml:"definition,omitempty"`

	// Translations carries the it/es/en renderings of the term.
	Translations types.Translations `yaml:"translations,omitempty"`
}

// LoadLexiconFile reads and parses a lexicon YAML file from disk.
func LoadLexiconFile(path string) (*LexiconFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("medlex: open lexicon file %q: %w", path, err)
	}
	defer f.Close()

	lf, err := LoadLexiconFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("medlex: parse lexicon file %q: %w", path, err)
	}
	return lf, nil
}

// LoadLexiconFromReader parses lexicon YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadLexiconFromReader(r io.Reader) (*LexiconFile, error) {
	var lf LexiconFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("medlex: decode lexicon yaml: %w", err)
	}
	return &lf, nil
}

// Validate checks the lexicon for required fields and internal consistency.
//
// Rules:
//   - every entry needs a non-empty Term, a recognised Category and a
//     Confidence in (0,1];
//   - no written form (term, variant or confusion) may appear in more than
//     one entry, since the matcher must resolve each form unambiguously.
func (lf *LexiconFile) Validate() error {
	var errs []error

	if len(lf.Terms) == 0 {
		errs = append(errs, errors.New("lexicon has no terms"))
	}

	seen := make(map[string]string, len(lf.Terms)*2)
	claim := func(form, owner string) {
		norm := normalize(form)
		if norm == "" {
			return
		}
		if prev, ok := seen[norm]; ok && prev != owner {
			errs = append(errs, fmt.Errorf("form %q appears under both %q and %q", form, prev, owner))
			return
		}
		seen[norm] = owner
	}

	for i, e := range lf.Terms {
		if strings.TrimSpace(e.Term) == "" {
			errs = append(errs, fmt.Errorf("terms[%d]: term must not be empty", i))
			continue
		}
		if !e.Category.IsValid() {
			errs = append(errs, fmt.Errorf("terms[%d] %q: category %q is not recognised", i, e.Term, e.Category))
		}
		if e.Confidence <= 0 || e.Confidence > 1 {
			errs = append(errs, fmt.Errorf("terms[%d] %q: confidence must be in (0,1], got %v", i, e.Term, e.Confidence))
		}
		claim(e.Term, e.Term)
		for _, v := range e.Variants {
			claim(v, e.Term)
		}
		for _, c := range e.Confusions {
			claim(c, e.Term)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
