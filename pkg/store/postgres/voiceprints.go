package postgres

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// VoiceprintStore
// ─────────────────────────────────────────────────────────────────────────────

// EnrollLecturerVoice implements [store.VoiceprintStore]. Re-enrolling a
// lecturer replaces their voiceprint.
func (s *Store) EnrollLecturerVoice(ctx context.Context, lecturer types.Lecturer, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("voiceprints: enroll %s: empty embedding", lecturer.ID)
	}

	const q = `
		INSERT INTO lecturer_voiceprints (lecturer_id, lecturer_name, embedding, enrolled_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (lecturer_id) DO UPDATE SET
		    lecturer_name = EXCLUDED.lecturer_name,
		    embedding     = EXCLUDED.embedding,
		    enrolled_at   = now()`

	_, err := s.pool.Exec(ctx, q, lecturer.ID, lecturer.Name, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("voiceprints: enroll %s: %w", lecturer.ID, err)
	}
	return nil
}

// MatchLecturerVoice implements [store.VoiceprintStore]. The <=> operator is
// pgvector cosine distance; the HNSW index on the embedding column serves the
// nearest-neighbour ordering.
func (s *Store) MatchLecturerVoice(ctx context.Context, embedding []float32, maxDistance float64) (*types.Lecturer, float64, error) {
	if len(embedding) == 0 {
		return nil, 0, fmt.Errorf("voiceprints: match: empty embedding")
	}

	const q = `
		SELECT lecturer_id, lecturer_name, embedding <=> $1 AS distance
		FROM   lecturer_voiceprints
		ORDER  BY embedding <=> $1
		LIMIT  1`

	var (
		l        types.Lecturer
		distance float64
	)
	err := s.pool.QueryRow(ctx, q, pgvector.NewVector(embedding)).Scan(&l.ID, &l.Name, &distance)
	if err != nil {
		if isNoRows(err) {
			return nil, 0, fmt.Errorf("voiceprints: match: %w", store.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("voiceprints: match: %w", err)
	}
	if distance > maxDistance {
		return nil, distance, fmt.Errorf("voiceprints: match: nearest lecturer at distance %.3f: %w", distance, store.ErrNotFound)
	}
	return &l, distance, nil
}
