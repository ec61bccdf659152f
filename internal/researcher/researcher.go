// Package researcher implements the research.Researcher contract over the
// research cache and a set of per-origin source fetchers.
//
// Terms are processed sequentially in terminology order so cancellation has
// a clean boundary; within one term the enabled sources are fetched in
// parallel, each behind its own circuit breaker and per-call timeout. The
// aggregate is scored and sorted by the shared scoring rules, persisted as a
// ResearchResult row, and cached under the config fingerprint so an
// identical rerun is served without touching the sources.
//
// Individual source failures never fail the batch: they surface as warnings
// on the ResearchJob and the remaining sources proceed. A term fails only
// when no source answered at all, and a failed term produces no result row.
package researcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aulavox/aulavox/internal/resilience"
	"github.com/aulavox/aulavox/pkg/embeddings"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/researchcache"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	defaultCacheTimeout = time.Second
	defaultFetchTimeout = 10 * time.Second

	// defaultJobTimeout bounds one whole batch. Expiry is reported as a
	// retriable failure so the orchestrator can requeue the stage.
	defaultJobTimeout = 30 * time.Minute
)

// Compile-time assertion that Researcher implements research.Researcher.
var _ research.Researcher = (*Researcher)(nil)

// Option is a functional option for configuring a Researcher.
type Option func(*Researcher)

// WithEmbedder enables the embedding-based consensus score. Without it the
// neutral constant stands in.
func WithEmbedder(p embeddings.Provider) Option {
	return func(r *Researcher) {
		r.embedder = p
	}
}

// WithCacheTimeout bounds each cache lookup and store.
func WithCacheTimeout(d time.Duration) Option {
	return func(r *Researcher) {
		if d > 0 {
			r.cacheTimeout = d
		}
	}
}

// WithFetchTimeout bounds each per-source search call.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Researcher) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithJobTimeout bounds one whole research batch. Zero disables the bound.
func WithJobTimeout(d time.Duration) Option {
	return func(r *Researcher) {
		r.jobTimeout = d
	}
}

// WithMaxParallel caps concurrent source fetches within one term. Zero means
// unbounded (one goroutine per enabled source).
func WithMaxParallel(n int) Option {
	return func(r *Researcher) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// WithBreakerConfig overrides the circuit breaker template applied to every
// fetcher. The per-source name is always set by the researcher.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Researcher) {
		r.breakerCfg = cfg
	}
}

// WithClock substitutes the time source. Tests use it to pin recency and
// ETA math.
func WithClock(now func() time.Time) Option {
	return func(r *Researcher) {
		if now != nil {
			r.now = now
		}
	}
}

// Researcher runs terminology research batches. Safe for concurrent use;
// each Research call keeps its own job state.
type Researcher struct {
	cache    researchcache.Cache
	results  store.ResultStore
	fetchers map[types.SourceType]research.Fetcher
	breakers map[types.SourceType]*resilience.CircuitBreaker
	embedder embeddings.Provider

	cacheTimeout time.Duration
	fetchTimeout time.Duration
	jobTimeout   time.Duration
	maxParallel  int
	breakerCfg   resilience.CircuitBreakerConfig

	now func() time.Time
}

// New wires a researcher from the cache, the result store and at least one
// source fetcher. Each fetcher gets its own circuit breaker so one failing
// origin cannot poison the others.
func New(cache researchcache.Cache, results store.ResultStore, fetchers []research.Fetcher, opts ...Option) (*Researcher, error) {
	if cache == nil {
		return nil, types.Errorf(types.KindConfiguration, "researcher: cache is required")
	}
	if results == nil {
		return nil, types.Errorf(types.KindConfiguration, "researcher: result store is required")
	}
	if len(fetchers) == 0 {
		return nil, types.Errorf(types.KindConfiguration, "researcher: at least one fetcher is required")
	}

	r := &Researcher{
		cache:        cache,
		results:      results,
		fetchers:     make(map[types.SourceType]research.Fetcher, len(fetchers)),
		breakers:     make(map[types.SourceType]*resilience.CircuitBreaker, len(fetchers)),
		cacheTimeout: defaultCacheTimeout,
		fetchTimeout: defaultFetchTimeout,
		jobTimeout:   defaultJobTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, f := range fetchers {
		src := f.Source()
		if src == "" {
			return nil, types.Errorf(types.KindConfiguration, "researcher: fetcher with empty source type")
		}
		if _, dup := r.fetchers[src]; dup {
			return nil, types.Errorf(types.KindConfiguration, "researcher: duplicate fetcher for source %s", src)
		}
		cfg := r.breakerCfg
		cfg.Name = "research-" + string(src)
		r.fetchers[src] = f
		r.breakers[src] = resilience.NewCircuitBreaker(cfg)
	}
	return r, nil
}

// Name implements research.Researcher.
func (r *Researcher) Name() string { return "multisource" }

// Research implements research.Researcher.
func (r *Researcher) Research(ctx context.Context, analysis *types.LLMAnalysisResult, cfg research.Config, progress research.ProgressFunc) (*types.ResearchJob, []types.ResearchResult, error) {
	if analysis == nil {
		return nil, nil, types.Errorf(types.KindValidation, "researcher: nil analysis")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, types.WithKind(types.KindValidation, err)
	}
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	started := r.now()
	rj := &types.ResearchJob{
		ID:             uuid.NewString(),
		JobID:          analysis.JobID,
		ClassSessionID: analysis.ClassSessionID,
		Preset:         string(cfg.Preset),
		Status:         types.ResearchRunning,
		TermsTotal:     len(analysis.Terminology),
		StartedAt:      &started,
		CreatedAt:      started,
	}

	// A preset source without a wired fetcher degrades the job once, not
	// once per term.
	enabled := make([]types.SourceType, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if _, ok := r.fetchers[src]; ok {
			enabled = append(enabled, src)
			continue
		}
		rj.Warnings = append(rj.Warnings, fmt.Sprintf("source %s: no fetcher configured", src))
	}

	if err := r.results.CreateResearchJob(ctx, rj); err != nil {
		return nil, nil, fmt.Errorf("researcher: create research job: %w", err)
	}
	slog.Info("research job started",
		"research_job_id", rj.ID,
		"job_id", rj.JobID,
		"preset", rj.Preset,
		"terms", rj.TermsTotal,
		"sources", len(enabled),
	)

	fingerprint := cfg.Fingerprint()
	results := make([]types.ResearchResult, 0, len(analysis.Terminology))

	for i, entry := range analysis.Terminology {
		if ctx.Err() != nil {
			return r.finish(ctx, rj, results, progress, started, ctx.Err())
		}

		term := strings.TrimSpace(entry.Term)
		if term == "" {
			rj.TermsFailed++
			rj.Warnings = append(rj.Warnings, fmt.Sprintf("terminology entry %d has no term", i))
			r.checkpoint(ctx, rj, progress, started)
			continue
		}

		rj.CurrentTerm = term
		r.report(progress, rj, started)

		res, err := r.researchTerm(ctx, rj, entry, term, fingerprint, cfg, enabled)
		switch {
		case err != nil && ctx.Err() != nil:
			return r.finish(ctx, rj, results, progress, started, ctx.Err())
		case err != nil:
			rj.TermsFailed++
			rj.Warnings = append(rj.Warnings, fmt.Sprintf("term %q: %v", term, err))
			slog.Warn("term research failed", "research_job_id", rj.ID, "term", term, "error", err)
		default:
			if perr := r.results.AddResearchResult(ctx, &res); perr != nil {
				return r.finish(ctx, rj, results, progress, started,
					fmt.Errorf("researcher: persist result for %q: %w", term, perr))
			}
			results = append(results, res)
			rj.TermsResearched++
		}
		rj.CurrentTerm = ""
		r.checkpoint(ctx, rj, progress, started)
	}

	return r.finish(ctx, rj, results, progress, started, nil)
}

// checkpoint recomputes progress and persists the job counters. A failed
// checkpoint write is logged, not fatal: the next one carries the same
// cumulative state.
func (r *Researcher) checkpoint(ctx context.Context, rj *types.ResearchJob, progress research.ProgressFunc, started time.Time) {
	done := rj.TermsResearched + rj.TermsFailed
	if rj.TermsTotal > 0 {
		rj.ProgressPct = float64(done) / float64(rj.TermsTotal)
	} else {
		rj.ProgressPct = 1
	}
	if err := r.results.UpdateResearchJob(ctx, rj); err != nil {
		slog.Warn("research job checkpoint failed", "research_job_id", rj.ID, "error", err)
	}
	r.report(progress, rj, started)
}

// report emits one progress snapshot. ETA extrapolates the per-term average
// once at least one term finished.
func (r *Researcher) report(progress research.ProgressFunc, rj *types.ResearchJob, started time.Time) {
	if progress == nil {
		return
	}
	done := rj.TermsResearched + rj.TermsFailed
	p := research.Progress{
		Pct:         rj.ProgressPct,
		CurrentTerm: rj.CurrentTerm,
		Done:        done,
		Total:       rj.TermsTotal,
	}
	if done > 0 && done < rj.TermsTotal {
		elapsed := r.now().Sub(started)
		p.ETA = time.Duration(float64(elapsed) / float64(done) * float64(rj.TermsTotal-done))
	}
	progress(p)
}

// finish records the terminal status and returns the completed prefix. The
// write uses a detached context so a cancelled batch still lands its final
// state.
func (r *Researcher) finish(ctx context.Context, rj *types.ResearchJob, results []types.ResearchResult, progress research.ProgressFunc, started time.Time, cause error) (*types.ResearchJob, []types.ResearchResult, error) {
	now := r.now()
	rj.FinishedAt = &now
	rj.CurrentTerm = ""

	var retErr error
	switch {
	case cause == nil:
		rj.Status = types.ResearchCompleted
		rj.ProgressPct = 1
	case errors.Is(cause, context.Canceled) || errors.Is(cause, types.ErrCancelled):
		rj.Status = types.ResearchCancelled
		retErr = types.ErrCancelled
	case errors.Is(cause, context.DeadlineExceeded):
		rj.Status = types.ResearchError
		retErr = types.Errorf(types.KindTransient, "researcher: job deadline exceeded after %d of %d terms",
			rj.TermsResearched+rj.TermsFailed, rj.TermsTotal)
	default:
		rj.Status = types.ResearchError
		retErr = cause
	}

	if err := r.results.UpdateResearchJob(context.WithoutCancel(ctx), rj); err != nil {
		if retErr == nil {
			retErr = fmt.Errorf("researcher: finalize research job: %w", err)
		} else {
			slog.Warn("research job finalize failed", "research_job_id", rj.ID, "error", err)
		}
	}

	if retErr == nil {
		r.report(progress, rj, started)
		slog.Info("research job completed",
			"research_job_id", rj.ID,
			"terms_researched", rj.TermsResearched,
			"terms_failed", rj.TermsFailed,
			"cache_hits", rj.CacheHits,
			"cache_misses", rj.CacheMisses,
		)
		return rj, results, nil
	}
	slog.Warn("research job ended early",
		"research_job_id", rj.ID,
		"status", string(rj.Status),
		"error", retErr,
	)
	return rj, results, retErr
}
