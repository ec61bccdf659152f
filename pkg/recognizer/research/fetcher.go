package research

import (
	"context"

	"github.com/aulavox/aulavox/pkg/types"
)

// Query is one source lookup. Fetchers treat fields they cannot honor as
// hints, never as errors.
type Query struct {
	// Term is the medical term to search for, as extracted from the
	// analysis (not normalized).
	Term string

	// Limit caps the number of sources returned. Zero means the fetcher
	// default.
	Limit int

	// Language is the preferred content language (ISO 639-1). Empty means
	// the source's native language.
	Language string
}

// Fetcher is the abstraction over one remote medical source.
//
// Implementations fill the bibliographic, content and classification fields
// of each source plus the Relevance and ContentQuality scores; Authority,
// Recency and OverallScore are derived afterwards by FinalizeSource so that
// every source is scored by the same rules regardless of origin.
//
// Search must honor ctx cancellation and deadlines; the researcher runs
// each call under a per-fetch timeout. Failures must be classified:
// unreachable backends and rate limits are retriable (types.KindTransient),
// malformed payloads are not (types.KindExternal).
type Fetcher interface {
	// Search returns up to q.Limit sources for the term, most relevant
	// first. An empty result with a nil error means the source knows
	// nothing about the term.
	Search(ctx context.Context, q Query) ([]types.MedicalSource, error)

	// Source identifies which authority this fetcher consults.
	Source() types.SourceType
}
