package memo

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/types"
)

// deckResponse is the JSON shape the model is instructed to return. Parsing
// is strict: unknown fields and trailing content are errors, so a model
// drifting from the schema is caught instead of silently dropped.
type deckResponse struct {
	Cards []cardItem `json:"cards"`
}

type cardItem struct {
	Type       string   `json:"type"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Difficulty string   `json:"difficulty"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

// parseDeck decodes the model reply into a deckResponse. Markdown code
// fences are tolerated; everything else must be exactly one JSON object
// matching the schema, with at least one card.
func parseDeck(content string) (*deckResponse, error) {
	cleaned := llm.StripFences(content)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var r deckResponse
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing content after JSON object")
	}
	if len(r.Cards) == 0 {
		return nil, fmt.Errorf("reply has no cards")
	}
	return &r, nil
}

// maxTags bounds the topic tags kept per card.
const maxTags = 4

// memo maps one reply card onto the domain type. Enum casing and
// surrounding whitespace are normalized; whether the values are declared
// ones is the validator's call.
func (c cardItem) memo(classSessionID string, now time.Time) types.MicroMemo {
	m := types.MicroMemo{
		ID:             uuid.NewString(),
		ClassSessionID: classSessionID,
		Type:           types.MemoType(strings.ToLower(strings.TrimSpace(c.Type))),
		Question:       strings.TrimSpace(c.Question),
		Answer:         strings.TrimSpace(c.Answer),
		Difficulty:     types.Difficulty(strings.ToLower(strings.TrimSpace(c.Difficulty))),
		Confidence:     c.Confidence,
		CreatedAt:      now,
	}
	for _, tag := range c.Tags {
		if len(m.Tags) == maxTags {
			break
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || slices.Contains(m.Tags, tag) {
			continue
		}
		m.Tags = append(m.Tags, tag)
	}
	return m
}
