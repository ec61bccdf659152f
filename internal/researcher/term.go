package researcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aulavox/aulavox/pkg/embeddings"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/researchcache"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	maxAlternatives = 3
	maxSynonyms     = 5
	maxRelatedTerms = 8

	// fallbackConsensus stands in when pairwise similarity cannot be
	// computed (no embedder, embed failure, fewer than two texts).
	fallbackConsensus = 0.8
)

// researchTerm resolves one term: cache first, then the enabled sources.
// Cache trouble is downgraded to a miss; the error return means the term
// produced nothing usable.
func (r *Researcher) researchTerm(ctx context.Context, rj *types.ResearchJob, entry types.TerminologyEntry, term, fingerprint string, cfg research.Config, enabled []types.SourceType) (types.ResearchResult, error) {
	lctx, cancel := context.WithTimeout(ctx, r.cacheTimeout)
	cached, err := r.cache.Lookup(lctx, term, fingerprint)
	cancel()
	switch {
	case err == nil:
		var res types.ResearchResult
		if derr := json.Unmarshal(cached.Payload, &res); derr == nil {
			res.ID = uuid.NewString()
			res.ResearchJobID = rj.ID
			res.CacheHit = true
			res.ResearchedAt = r.now()
			rj.CacheHits++
			return res, nil
		}
		// A payload that no longer decodes is poison; retire it and
		// re-research the term.
		rj.Warnings = append(rj.Warnings, fmt.Sprintf("term %q: cached payload unreadable", term))
		if ierr := r.cache.Invalidate(ctx, cached.Key, "payload unreadable"); ierr != nil {
			rj.Warnings = append(rj.Warnings, fmt.Sprintf("term %q: cache invalidate: %v", term, ierr))
		}
	case errors.Is(err, researchcache.ErrMiss):
		// fall through to fetch
	default:
		rj.Warnings = append(rj.Warnings, fmt.Sprintf("term %q: cache lookup: %v", term, err))
	}
	rj.CacheMisses++

	merged, answered := r.fetchSources(ctx, rj, term, cfg, enabled)
	if err := ctx.Err(); err != nil {
		return types.ResearchResult{}, err
	}
	if answered == 0 {
		return types.ResearchResult{}, types.Errorf(types.KindExternal, "no sources answered")
	}

	res := r.buildResult(ctx, rj, entry, term, merged, cfg)

	if payload, merr := json.Marshal(cacheView(res)); merr == nil {
		meta := researchcache.Meta{
			ContentType:  contentTypeFor(res.Sources),
			SourceTypes:  distinctSourceTypes(res.Sources),
			SourcesCount: len(res.Sources),
			Language:     cfg.Language,
			Preset:       string(cfg.Preset),
			Quality:      res.Quality,
		}
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), r.cacheTimeout)
		if _, serr := r.cache.Store(sctx, term, fingerprint, payload, meta); serr != nil {
			rj.Warnings = append(rj.Warnings, fmt.Sprintf("term %q: cache store: %v", term, serr))
		}
		scancel()
	}
	return res, nil
}

// fetchSources queries every enabled source in parallel, each behind its
// breaker and the per-call timeout. answered counts sources that responded,
// successfully or with an empty list; failures become job warnings.
func (r *Researcher) fetchSources(ctx context.Context, rj *types.ResearchJob, term string, cfg research.Config, enabled []types.SourceType) (merged []types.MedicalSource, answered int) {
	type slot struct {
		sources []types.MedicalSource
		err     error
	}
	slots := make([]slot, len(enabled))

	var g errgroup.Group
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, src := range enabled {
		fetcher := r.fetchers[src]
		breaker := r.breakers[src]
		g.Go(func() error {
			slots[i].err = breaker.Execute(func() error {
				fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
				defer cancel()
				sources, err := fetcher.Search(fctx, research.Query{
					Term:     term,
					Limit:    cfg.MaxSourcesPerTerm,
					Language: cfg.Language,
				})
				if err != nil {
					return err
				}
				slots[i].sources = sources
				return nil
			})
			// One source failing must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range enabled {
		if err := slots[i].err; err != nil {
			// The caller reports cancellation once for the whole term.
			if ctx.Err() == nil {
				rj.Warnings = append(rj.Warnings, fmt.Sprintf("term %q: %s: %v", term, src, err))
			}
			continue
		}
		answered++
		merged = append(merged, slots[i].sources...)
	}
	return merged, answered
}

// buildResult filters, scores and sorts the fetched sources, then assembles
// the per-term result around the highest-scoring definition.
func (r *Researcher) buildResult(ctx context.Context, rj *types.ResearchJob, entry types.TerminologyEntry, term string, sources []types.MedicalSource, cfg research.Config) types.ResearchResult {
	now := r.now()

	if cfg.PeerReviewOnly {
		kept := sources[:0]
		for _, s := range sources {
			if s.PeerReviewed {
				kept = append(kept, s)
			}
		}
		sources = kept
	}
	for i := range sources {
		research.FinalizeSource(&sources[i], now)
	}
	kept := sources[:0]
	for _, s := range sources {
		if s.OverallScore >= cfg.PriorityThreshold {
			kept = append(kept, s)
		}
	}
	sources = kept
	research.SortSources(sources)
	if cfg.MaxSourcesPerTerm > 0 && len(sources) > cfg.MaxSourcesPerTerm {
		sources = sources[:cfg.MaxSourcesPerTerm]
	}

	res := types.ResearchResult{
		ID:             uuid.NewString(),
		ResearchJobID:  rj.ID,
		Term:           term,
		NormalizedTerm: researchcache.NormalizeTerm(term),
		Sources:        sources,
		ResearchedAt:   now,
	}

	res.Definition, res.Alternatives = definitions(entry, sources)
	if cfg.EnableTranslation {
		res.Translations = entry.Translations
	}
	if cfg.IncludeRelatedTerms {
		res.Synonyms, res.RelatedTerms = classifyKeywords(term, sources)
	}

	if n := len(sources); n > 0 {
		var overall, authority, recency float64
		for _, s := range sources {
			overall += s.OverallScore
			authority += s.Authority
			recency += s.Recency
		}
		res.Quality.Confidence = overall / float64(n)
		res.Quality.SourceReliability = authority / float64(n)
		res.Quality.Freshness = recency / float64(n)
	}
	res.Quality.Consensus = r.consensus(ctx, sources)

	res.Completeness = completeness(res, cfg.MaxSourcesPerTerm)
	res.Grade = research.GradeResearch(res.Quality, res.Completeness)
	return res
}

// definitions picks the primary definition from the highest-scoring source
// carrying text, with the lecture analysis definition as the fallback, and
// collects distinct runner-up texts as alternatives.
func definitions(entry types.TerminologyEntry, sources []types.MedicalSource) (types.Definition, []types.Definition) {
	var primary types.Definition
	var alternatives []types.Definition
	seen := make(map[string]bool)

	for _, s := range sources {
		text := definitionText(s)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true

		def := types.Definition{
			Text:       text,
			SourceType: s.SourceType,
			SourceURL:  s.URL,
			SourceName: s.Title,
		}
		if primary.Text == "" {
			primary = def
			continue
		}
		if len(alternatives) < maxAlternatives {
			alternatives = append(alternatives, def)
		}
	}

	if primary.Text == "" && entry.Definition != "" {
		primary = types.Definition{
			Text:       entry.Definition,
			SourceType: types.SourceOther,
			SourceName: "lecture analysis",
		}
	}
	return primary, alternatives
}

// definitionText returns the most definition-like content of a source.
func definitionText(s types.MedicalSource) string {
	switch {
	case s.RelevantExcerpt != "":
		return s.RelevantExcerpt
	case s.Abstract != "":
		return s.Abstract
	case s.Conclusions != "":
		return s.Conclusions
	}
	return ""
}

// classifyKeywords splits the source keywords into synonyms (lexical
// variants of the term) and related terms, deduplicated in source order.
func classifyKeywords(term string, sources []types.MedicalSource) (synonyms, related []string) {
	seen := make(map[string]bool)
	for _, s := range sources {
		for _, kw := range s.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			key := strings.ToLower(kw)
			if seen[key] || strings.EqualFold(kw, term) {
				continue
			}
			seen[key] = true

			if containsFold(kw, term) || containsFold(term, kw) {
				if len(synonyms) < maxSynonyms {
					synonyms = append(synonyms, kw)
				}
				continue
			}
			if len(related) < maxRelatedTerms {
				related = append(related, kw)
			}
		}
	}
	return synonyms, related
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// consensus measures how much the kept sources agree, as the mean pairwise
// cosine similarity of their definition-text embeddings clamped to [0,1].
// Without an embedder, on embed failure, or with fewer than two texts the
// neutral constant stands in. No sources at all means no agreement.
func (r *Researcher) consensus(ctx context.Context, sources []types.MedicalSource) float64 {
	if len(sources) == 0 {
		return 0
	}
	texts := make([]string, 0, len(sources))
	for _, s := range sources {
		if t := definitionText(s); t != "" {
			texts = append(texts, t)
		}
	}
	if r.embedder == nil || len(texts) < 2 {
		return fallbackConsensus
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) < 2 {
		return fallbackConsensus
	}

	var sum float64
	var pairs int
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sum += embeddings.CosineSimilarity(vecs[i], vecs[j])
			pairs++
		}
	}
	if pairs == 0 {
		return fallbackConsensus
	}
	c := sum / float64(pairs)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// completeness scores how much of the desired result shape was filled. The
// weights sum to 1.0.
func completeness(res types.ResearchResult, maxSources int) float64 {
	c := 0.0
	if res.Definition.Text != "" {
		c += 0.4
	}
	if maxSources > 0 {
		frac := float64(len(res.Sources)) / float64(maxSources)
		if frac > 1 {
			frac = 1
		}
		c += 0.2 * frac
	}
	if res.Translations != (types.Translations{}) {
		c += 0.2
	}
	if len(res.RelatedTerms) > 0 {
		c += 0.1
	}
	if len(res.Alternatives) > 0 {
		c += 0.1
	}
	return c
}

// cacheView strips the per-run identity so reruns produce byte-identical
// payloads.
func cacheView(res types.ResearchResult) types.ResearchResult {
	res.ID = ""
	res.ResearchJobID = ""
	res.CacheHit = false
	res.ResearchedAt = time.Time{}
	return res
}

// contentTypeFor derives the cache content type from the top source: its
// own category when recognizable, otherwise its origin.
func contentTypeFor(sources []types.MedicalSource) researchcache.ContentType {
	if len(sources) == 0 {
		return researchcache.ContentGeneral
	}
	top := sources[0]
	switch ct := researchcache.ContentType(top.ContentCategory); ct {
	case researchcache.ContentAcademic, researchcache.ContentClinical,
		researchcache.ContentDrugInfo, researchcache.ContentEpidemiology,
		researchcache.ContentNews:
		return ct
	}
	switch top.SourceType {
	case types.SourcePubMed, types.SourceCochrane:
		return researchcache.ContentAcademic
	case types.SourceUpToDate, types.SourceMayo, types.SourceNIH:
		return researchcache.ContentClinical
	case types.SourceWHO, types.SourceISS:
		return researchcache.ContentEpidemiology
	case types.SourceAIFA:
		return researchcache.ContentDrugInfo
	}
	return researchcache.ContentGeneral
}

func distinctSourceTypes(sources []types.MedicalSource) []types.SourceType {
	var out []types.SourceType
	seen := make(map[types.SourceType]bool)
	for _, s := range sources {
		if !seen[s.SourceType] {
			seen[s.SourceType] = true
			out = append(out, s.SourceType)
		}
	}
	return out
}
