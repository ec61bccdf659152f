// Package mock provides test doubles for the research.Researcher and
// research.Fetcher interfaces.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/types"
)

var (
	_ research.Researcher = (*Researcher)(nil)
	_ research.Fetcher    = (*Fetcher)(nil)
)

// Researcher is a mock implementation of research.Researcher.
type Researcher struct {
	mu sync.Mutex

	// Job and Results are returned on success. A nil Job yields a canned
	// completed job sized to the analysis terminology.
	Job     *types.ResearchJob
	Results []types.ResearchResult

	// Err is returned by the first FailTimes calls. A zero FailTimes with a
	// non-nil Err fails every call.
	Err       error
	FailTimes int

	calls int
}

// Research records the call, honors the configured failures, and returns
// the canned job and results.
func (r *Researcher) Research(ctx context.Context, analysis *types.LLMAnalysisResult, cfg research.Config, progress research.ProgressFunc) (*types.ResearchJob, []types.ResearchResult, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	err := r.Err
	failTimes := r.FailTimes
	job := r.Job
	results := r.Results
	r.mu.Unlock()

	if ctx.Err() != nil {
		return nil, nil, types.ErrCancelled
	}
	if err != nil && (failTimes == 0 || n <= failTimes) {
		return nil, nil, err
	}

	total := 0
	if analysis != nil {
		total = len(analysis.Terminology)
	}
	if progress != nil {
		progress(research.Progress{Pct: 1.0, Done: total, Total: total})
	}

	if job != nil {
		out := *job
		return &out, results, nil
	}
	out := &types.ResearchJob{
		Preset:          string(cfg.Preset),
		Status:          types.ResearchCompleted,
		ProgressPct:     1.0,
		TermsTotal:      total,
		TermsResearched: total,
		CreatedAt:       time.Now().UTC(),
	}
	if analysis != nil {
		out.JobID = analysis.JobID
		out.ClassSessionID = analysis.ClassSessionID
	}
	return out, results, nil
}

// Name implements research.Researcher.
func (r *Researcher) Name() string { return "mock" }

// CallCount reports how many times Research has been invoked.
func (r *Researcher) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Fetcher is a mock implementation of research.Fetcher. It returns the
// configured sources after an optional delay, which lets tests exercise
// per-fetch timeouts.
type Fetcher struct {
	mu sync.Mutex

	// Type is the source identity reported by Source. Empty reads as
	// types.SourceOther.
	Type types.SourceType

	// Sources are returned by every successful Search call.
	Sources []types.MedicalSource

	// Err, when non-nil, fails every Search call.
	Err error

	// Delay is waited before answering; a ctx ending first wins.
	Delay time.Duration

	queries []research.Query
}

// Search records the query and returns the canned sources.
func (f *Fetcher) Search(ctx context.Context, q research.Query) ([]types.MedicalSource, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	sources := f.Sources
	err := f.Err
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, types.WithKind(types.KindTransient, ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, types.WithKind(types.KindTransient, err)
	}
	if err != nil {
		return nil, err
	}

	out := make([]types.MedicalSource, len(sources))
	copy(out, sources)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Source implements research.Fetcher.
func (f *Fetcher) Source() types.SourceType {
	if f.Type == "" {
		return types.SourceOther
	}
	return f.Type
}

// Queries returns a copy of every query Search received.
func (f *Fetcher) Queries() []research.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]research.Query(nil), f.queries...)
}
