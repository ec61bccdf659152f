// Package mock provides a test double for the embeddings.Provider interface.
//
// Vectors are derived deterministically from the input text unless explicit
// fixtures are configured, so consensus and voiceprint tests get stable,
// repeatable geometry without a live backend.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/aulavox/aulavox/pkg/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
// The zero value is usable and produces deterministic 8-dimensional vectors.
type Provider struct {
	mu sync.Mutex

	// Vectors maps input text to a fixed vector. Texts not present fall
	// back to the deterministic hash-derived vector.
	Vectors map[string][]float32

	// Dim overrides the vector length. Zero means 8.
	Dim int

	// EmbedErr, if non-nil, is returned by every Embed and EmbedBatch call.
	EmbedErr error

	// Calls records every text passed to Embed or EmbedBatch in order.
	Calls []string
}

// Embed returns the configured or derived vector for text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vectorFor(text), nil
}

// EmbedBatch returns one vector per input text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, texts...)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions returns Dim, or 8 when unset.
func (p *Provider) Dimensions() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 8
}

// ModelID identifies the mock in logs.
func (p *Provider) ModelID() string { return "mock-embedder" }

// vectorFor returns the fixture for text or a unit vector seeded by its hash.
// Callers must hold p.mu.
func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}

	dim := p.Dim
	if dim == 0 {
		dim = 8
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000
		norm += float64(vec[i]) * float64(vec[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
