package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

const jsonSchemaVersion = 1

// exportDoc is the lossless machine-readable view of a bundle. Field names
// are the wire contract for downstream tooling; change them deliberately.
type exportDoc struct {
	SchemaVersion int               `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Session       exportSessionMeta `json:"session"`

	Summary     string                   `json:"summary,omitempty"`
	KeyConcepts []string                 `json:"key_concepts,omitempty"`
	Structure   []types.StructureSection `json:"structure,omitempty"`
	KeyMoments  []types.KeyMoment        `json:"key_moments,omitempty"`
	Glossary    []types.GlossaryEntry    `json:"glossary,omitempty"`
	Research    []types.ResearchResult   `json:"research,omitempty"`
	MicroMemos  []types.MicroMemo        `json:"micro_memos,omitempty"`
}

type exportSessionMeta struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject,omitempty"`
	Topic            string    `json:"topic,omitempty"`
	Date             time.Time `json:"date"`
	LecturerName     string    `json:"lecturer_name,omitempty"`
	Language         string    `json:"language,omitempty"`
	AudioDurationSec float64   `json:"audio_duration_sec,omitempty"`
}

func renderJSON(b *Bundle) ([]byte, string, error) {
	doc := exportDoc{
		SchemaVersion: jsonSchemaVersion,
		GeneratedAt:   b.GeneratedAt,
		Session: exportSessionMeta{
			ID:               b.Session.ID,
			Subject:          b.Session.Subject,
			Topic:            b.Session.Topic,
			Date:             b.Session.Date,
			LecturerName:     b.Session.LecturerName,
			Language:         b.Session.Language,
			AudioDurationSec: b.Session.AudioDurationSec,
		},
		Summary:     b.Summary,
		KeyConcepts: b.KeyConcepts,
		Structure:   b.Structure,
		KeyMoments:  b.KeyMoments,
		Glossary:    b.Glossary,
		Research:    b.Research,
		MicroMemos:  b.Memos,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("json: %w", err)
	}
	return append(data, '\n'), "application/json", nil
}
