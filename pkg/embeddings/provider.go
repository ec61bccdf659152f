// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The research consensus check embeds source summaries and compares them
// pairwise; lecturer voiceprint matching stores vectors produced during
// diarization. Both consume this interface. All vectors from a single
// Provider instance share the dimensionality reported by Dimensions.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"math"
)

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the vector for one text. The result has length
	// Dimensions(). Text is passed through verbatim; any model-specific
	// prefix ("query: ", "passage: ") is the caller's concern.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for all texts in one backend call.
	// result[i] corresponds to texts[i]. On error no partial results are
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length of this provider's model.
	Dimensions() int

	// ModelID returns the backend model identifier, for logging and for
	// refusing to mix vector spaces.
	ModelID() string
}

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
