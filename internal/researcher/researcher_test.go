package researcher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aulavox/aulavox/internal/researcher"
	"github.com/aulavox/aulavox/internal/resilience"
	embedmock "github.com/aulavox/aulavox/pkg/embeddings/mock"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/recognizer/research/mock"
	"github.com/aulavox/aulavox/pkg/researchcache/memcache"
	"github.com/aulavox/aulavox/pkg/store/memstore"
	"github.com/aulavox/aulavox/pkg/types"
)

// testNow pins recency and ETA math.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func analysisWith(terms ...types.TerminologyEntry) *types.LLMAnalysisResult {
	return &types.LLMAnalysisResult{
		JobID:          "job-1",
		ClassSessionID: "cs-1",
		Terminology:    terms,
	}
}

func entry(term, definition string) types.TerminologyEntry {
	return types.TerminologyEntry{
		Term:       term,
		Definition: definition,
		Translations: types.Translations{
			IT: term,
			EN: term + " (en)",
		},
	}
}

func date(year, month, day int) *time.Time {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

func source(origin types.SourceType, title, excerpt string, relevance float64, peer bool, published *time.Time, keywords ...string) types.MedicalSource {
	return types.MedicalSource{
		ID:              title,
		Title:           title,
		URL:             "https://example.org/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		RelevantExcerpt: excerpt,
		Keywords:        keywords,
		SourceType:      origin,
		PublicationDate: published,
		PeerReviewed:    peer,
		Relevance:       relevance,
		ContentQuality:  0.8,
	}
}

func quickConfig(sources ...types.SourceType) research.Config {
	return research.Config{
		Preset:              research.PresetQuick,
		Sources:             sources,
		MaxSourcesPerTerm:   3,
		IncludeRelatedTerms: true,
		EnableTranslation:   true,
		PriorityThreshold:   0.3,
		Language:            "it",
	}
}

type env struct {
	r     *researcher.Researcher
	cache *memcache.MemCache
	store *memstore.MemStore
}

func newEnv(t *testing.T, fetchers []research.Fetcher, opts ...researcher.Option) *env {
	t.Helper()
	cache := memcache.NewMemCache()
	st := memstore.NewMemStore()
	base := []researcher.Option{researcher.WithClock(func() time.Time { return testNow })}
	r, err := researcher.New(cache, st, fetchers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &env{r: r, cache: cache, store: st}
}

type progressLog struct {
	mu    sync.Mutex
	snaps []research.Progress
}

func (l *progressLog) fn(p research.Progress) {
	l.mu.Lock()
	l.snaps = append(l.snaps, p)
	l.mu.Unlock()
}

func (l *progressLog) all() []research.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]research.Progress(nil), l.snaps...)
}

func TestResearchBatchCompletes(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Ipertensione WHO", "Pressione arteriosa elevata persistente.", 0.9, false, date(2025, 10, 1),
			"ipertensione arteriosa", "pressione sanguigna"),
	}}
	pub := &mock.Fetcher{Type: types.SourcePubMed, Sources: []types.MedicalSource{
		source(types.SourcePubMed, "Hypertension trial", "Elevated arterial pressure over 140/90.", 0.8, true, date(2023, 5, 1),
			"cardiovascular risk"),
	}}
	e := newEnv(t, []research.Fetcher{who, pub})

	var progress progressLog
	rj, results, err := e.r.Research(context.Background(),
		analysisWith(entry("ipertensione", "aumento pressorio"), entry("bradicardia", "frequenza bassa")),
		quickConfig(types.SourceWHO, types.SourcePubMed),
		progress.fn,
	)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}

	if rj.Status != types.ResearchCompleted {
		t.Errorf("Status = %s, want COMPLETED", rj.Status)
	}
	if rj.TermsTotal != 2 || rj.TermsResearched != 2 || rj.TermsFailed != 0 {
		t.Errorf("counters = total %d researched %d failed %d", rj.TermsTotal, rj.TermsResearched, rj.TermsFailed)
	}
	if rj.CacheMisses != 2 || rj.CacheHits != 0 {
		t.Errorf("cache counters = hits %d misses %d, want 0/2", rj.CacheHits, rj.CacheMisses)
	}
	if rj.ProgressPct != 1 || rj.CurrentTerm != "" || rj.FinishedAt == nil {
		t.Errorf("terminal job state = pct %v, current %q, finished %v", rj.ProgressPct, rj.CurrentTerm, rj.FinishedAt)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	first := results[0]
	if first.Term != "ipertensione" || first.NormalizedTerm != "ipertensione" {
		t.Errorf("term = %q / %q", first.Term, first.NormalizedTerm)
	}
	if len(first.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(first.Sources))
	}
	for i := 1; i < len(first.Sources); i++ {
		if first.Sources[i-1].OverallScore < first.Sources[i].OverallScore {
			t.Errorf("sources not sorted by overall score: %v then %v",
				first.Sources[i-1].OverallScore, first.Sources[i].OverallScore)
		}
	}
	for _, s := range first.Sources {
		if s.Authority == 0 || s.Recency == 0 || s.OverallScore == 0 {
			t.Errorf("source %q missing derived scores", s.Title)
		}
	}
	if first.Definition.Text == "" || first.Definition.SourceURL == "" {
		t.Errorf("definition = %+v, want text from top source", first.Definition)
	}
	if want := definitionOf(first.Sources[0]); first.Definition.Text != want {
		t.Errorf("Definition.Text = %q, want top source text %q", first.Definition.Text, want)
	}
	if first.Translations.IT == "" || first.Translations.EN == "" {
		t.Errorf("Translations = %+v, want carried from analysis", first.Translations)
	}
	if len(first.Synonyms) == 0 || first.Synonyms[0] != "ipertensione arteriosa" {
		t.Errorf("Synonyms = %v, want lexical variant first", first.Synonyms)
	}
	if len(first.RelatedTerms) == 0 {
		t.Errorf("RelatedTerms = %v, want non-variant keywords", first.RelatedTerms)
	}
	if first.Grade == "" || first.Completeness <= 0 {
		t.Errorf("grade = %q, completeness = %v", first.Grade, first.Completeness)
	}
	if first.CacheHit {
		t.Error("CacheHit = true on first run")
	}

	rows, err := e.store.ListResearchResults(context.Background(), rj.ID)
	if err != nil {
		t.Fatalf("ListResearchResults() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("persisted rows = %d, want 2", len(rows))
	}

	persisted, err := e.store.GetResearchJobByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetResearchJobByJobID() error = %v", err)
	}
	if persisted.Status != types.ResearchCompleted {
		t.Errorf("persisted Status = %s, want COMPLETED", persisted.Status)
	}

	snaps := progress.all()
	if len(snaps) == 0 {
		t.Fatal("no progress snapshots")
	}
	if last := snaps[len(snaps)-1]; last.Pct != 1 || last.Done != 2 || last.Total != 2 {
		t.Errorf("final progress = %+v", last)
	}
	var sawTerm bool
	for _, p := range snaps {
		if p.CurrentTerm != "" {
			sawTerm = true
		}
	}
	if !sawTerm {
		t.Error("no snapshot carried the current term")
	}
}

// definitionOf mirrors the definition preference order for assertions.
func definitionOf(s types.MedicalSource) string {
	switch {
	case s.RelevantExcerpt != "":
		return s.RelevantExcerpt
	case s.Abstract != "":
		return s.Abstract
	}
	return s.Conclusions
}

func TestResearchCacheHitOnSecondRun(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Bradicardia WHO", "Frequenza cardiaca sotto 60 bpm.", 0.9, false, date(2025, 10, 1), "frequenza cardiaca"),
	}}
	e := newEnv(t, []research.Fetcher{who})
	cfg := quickConfig(types.SourceWHO)
	analysis := analysisWith(entry("bradicardia", "frequenza bassa"))

	rj1, res1, err := e.r.Research(context.Background(), analysis, cfg, nil)
	if err != nil {
		t.Fatalf("first Research() error = %v", err)
	}
	if rj1.CacheMisses != 1 || rj1.CacheHits != 0 {
		t.Fatalf("first run cache counters = hits %d misses %d", rj1.CacheHits, rj1.CacheMisses)
	}

	rj2, res2, err := e.r.Research(context.Background(), analysis, cfg, nil)
	if err != nil {
		t.Fatalf("second Research() error = %v", err)
	}
	if rj2.CacheHits != 1 || rj2.CacheMisses != 0 {
		t.Errorf("second run cache counters = hits %d misses %d, want 1/0", rj2.CacheHits, rj2.CacheMisses)
	}
	if len(res2) != 1 || !res2[0].CacheHit {
		t.Fatalf("second run results = %+v, want one cache hit", res2)
	}
	if res2[0].ResearchJobID != rj2.ID {
		t.Errorf("cached result ResearchJobID = %q, want restamped %q", res2[0].ResearchJobID, rj2.ID)
	}
	if res2[0].ID == res1[0].ID {
		t.Error("cached result reused the first run's row ID")
	}

	// The fetcher answered only the first run.
	if n := len(who.Queries()); n != 1 {
		t.Errorf("fetcher queried %d times, want 1", n)
	}

	if !bytes.Equal(normalized(t, res1[0]), normalized(t, res2[0])) {
		t.Error("cache hit content differs from the original research")
	}
}

// normalized strips per-run identity for content comparison.
func normalized(t *testing.T, r types.ResearchResult) []byte {
	t.Helper()
	r.ID = ""
	r.ResearchJobID = ""
	r.CacheHit = false
	r.ResearchedAt = time.Time{}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return data
}

func TestResearchPartialSourceFailure(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Sepsi WHO", "Risposta sistemica a infezione.", 0.9, false, date(2025, 10, 1)),
	}}
	pub := &mock.Fetcher{Type: types.SourcePubMed, Err: types.Errorf(types.KindTransient, "pubmed: NCBI returned HTTP 503")}
	e := newEnv(t, []research.Fetcher{who, pub})

	rj, results, err := e.r.Research(context.Background(),
		analysisWith(entry("sepsi", "")),
		quickConfig(types.SourceWHO, types.SourcePubMed),
		nil,
	)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if rj.Status != types.ResearchCompleted || rj.TermsResearched != 1 || rj.TermsFailed != 0 {
		t.Errorf("job = %s researched %d failed %d, want completed 1/0", rj.Status, rj.TermsResearched, rj.TermsFailed)
	}
	if len(results) != 1 || len(results[0].Sources) != 1 {
		t.Fatalf("results = %d with %d sources, want 1 with 1", len(results), len(results[0].Sources))
	}
	if results[0].Sources[0].SourceType != types.SourceWHO {
		t.Errorf("surviving source = %q, want who", results[0].Sources[0].SourceType)
	}

	var warned bool
	for _, w := range rj.Warnings {
		if strings.Contains(w, "pubmed") && strings.Contains(w, "503") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("Warnings = %v, want pubmed failure recorded", rj.Warnings)
	}
}

func TestResearchAllSourcesFailing(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Err: types.Errorf(types.KindTransient, "gateway: who returned HTTP 502")}
	e := newEnv(t, []research.Fetcher{who})

	rj, results, err := e.r.Research(context.Background(),
		analysisWith(entry("sepsi", "")),
		quickConfig(types.SourceWHO),
		nil,
	)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if rj.Status != types.ResearchCompleted {
		t.Errorf("Status = %s, want COMPLETED despite failed term", rj.Status)
	}
	if rj.TermsResearched != 0 || rj.TermsFailed != 1 {
		t.Errorf("counters = researched %d failed %d, want 0/1", rj.TermsResearched, rj.TermsFailed)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want none for a failed term", len(results))
	}

	rows, err := e.store.ListResearchResults(context.Background(), rj.ID)
	if err != nil {
		t.Fatalf("ListResearchResults() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("persisted rows = %d, want 0", len(rows))
	}

	var warned bool
	for _, w := range rj.Warnings {
		if strings.Contains(w, "no sources answered") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("Warnings = %v, want term failure recorded", rj.Warnings)
	}
}

func TestResearchBreakerFailsFast(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Err: types.Errorf(types.KindTransient, "gateway: who returned HTTP 502")}
	e := newEnv(t, []research.Fetcher{who},
		researcher.WithBreakerConfig(resilience.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		}),
	)

	rj, _, err := e.r.Research(context.Background(),
		analysisWith(entry("a", ""), entry("b", ""), entry("c", ""), entry("d", "")),
		quickConfig(types.SourceWHO),
		nil,
	)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if rj.TermsFailed != 4 {
		t.Errorf("TermsFailed = %d, want 4", rj.TermsFailed)
	}
	// Two real calls trip the breaker; the remaining terms fail fast.
	if n := len(who.Queries()); n != 2 {
		t.Errorf("fetcher queried %d times, want 2 before the breaker opened", n)
	}

	var open bool
	for _, w := range rj.Warnings {
		if strings.Contains(w, "circuit breaker is open") {
			open = true
		}
	}
	if !open {
		t.Errorf("Warnings = %v, want an open-breaker entry", rj.Warnings)
	}
}

func TestResearchCancelBetweenTerms(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Voce WHO", "Definizione di prova.", 0.9, false, date(2025, 10, 1)),
	}}
	e := newEnv(t, []research.Fetcher{who})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rj, results, err := e.r.Research(ctx,
		analysisWith(entry("uno", ""), entry("due", ""), entry("tre", "")),
		quickConfig(types.SourceWHO),
		func(p research.Progress) {
			if p.Done == 1 {
				cancel()
			}
		},
	)
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("Research() error = %v, want ErrCancelled", err)
	}
	if rj == nil || rj.Status != types.ResearchCancelled {
		t.Fatalf("job = %+v, want CANCELLED", rj)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want the completed prefix only", len(results))
	}
	if rj.FinishedAt == nil || rj.CurrentTerm != "" {
		t.Errorf("terminal state = finished %v current %q", rj.FinishedAt, rj.CurrentTerm)
	}

	rows, err := e.store.ListResearchResults(context.Background(), rj.ID)
	if err != nil {
		t.Fatalf("ListResearchResults() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("persisted rows = %d, want 1", len(rows))
	}

	persisted, err := e.store.GetResearchJobByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetResearchJobByJobID() error = %v", err)
	}
	if persisted.Status != types.ResearchCancelled {
		t.Errorf("persisted Status = %s, want CANCELLED", persisted.Status)
	}
}

func TestResearchJobTimeoutIsRetriable(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{
		Type:  types.SourceWHO,
		Delay: 200 * time.Millisecond,
		Sources: []types.MedicalSource{
			source(types.SourceWHO, "Slow WHO", "Arriva tardi.", 0.9, false, nil),
		},
	}
	e := newEnv(t, []research.Fetcher{who},
		researcher.WithJobTimeout(10*time.Millisecond),
		researcher.WithClock(time.Now),
	)

	rj, _, err := e.r.Research(context.Background(),
		analysisWith(entry("lento", "")),
		quickConfig(types.SourceWHO),
		nil,
	)
	if err == nil {
		t.Fatal("Research() error = nil, want deadline failure")
	}
	if got := types.Classify(err); got != types.KindTransient {
		t.Errorf("Classify(%v) = %v, want transient", err, got)
	}
	if rj == nil || rj.Status != types.ResearchError {
		t.Errorf("job status = %v, want ERROR", rj)
	}
}

func TestResearchPeerReviewAndThresholdFilters(t *testing.T) {
	t.Parallel()

	pub := &mock.Fetcher{Type: types.SourcePubMed, Sources: []types.MedicalSource{
		source(types.SourcePubMed, "Strong trial", "Definizione solida.", 0.9, true, date(2025, 10, 1)),
		source(types.SourcePubMed, "Blog post", "Non revisionato.", 0.9, false, date(2025, 10, 1)),
		source(types.SourceWebMD, "Weak page", "Poco rilevante.", 0.2, true, nil),
	}}
	e := newEnv(t, []research.Fetcher{pub})

	cfg := quickConfig(types.SourcePubMed)
	cfg.PeerReviewOnly = true
	cfg.PriorityThreshold = 0.6

	_, results, err := e.r.Research(context.Background(), analysisWith(entry("trial", "")), cfg, nil)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	kept := results[0].Sources
	if len(kept) != 1 || kept[0].Title != "Strong trial" {
		t.Errorf("kept sources = %+v, want only the strong peer-reviewed one", kept)
	}
}

func TestResearchMissingFetcherWarnsOnce(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Voce WHO", "Definizione.", 0.9, false, date(2025, 10, 1)),
	}}
	e := newEnv(t, []research.Fetcher{who})

	rj, _, err := e.r.Research(context.Background(),
		analysisWith(entry("uno", ""), entry("due", "")),
		quickConfig(types.SourceWHO, types.SourcePubMed),
		nil,
	)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	var count int
	for _, w := range rj.Warnings {
		if strings.Contains(w, "no fetcher configured") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("missing-fetcher warnings = %d, want exactly 1; warnings = %v", count, rj.Warnings)
	}
	if rj.TermsResearched != 2 {
		t.Errorf("TermsResearched = %d, want 2 from the remaining source", rj.TermsResearched)
	}
}

func TestResearchEmptyTerminology(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO}
	e := newEnv(t, []research.Fetcher{who})

	var progress progressLog
	rj, results, err := e.r.Research(context.Background(), analysisWith(), quickConfig(types.SourceWHO), progress.fn)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if rj.Status != types.ResearchCompleted || rj.ProgressPct != 1 || rj.TermsTotal != 0 {
		t.Errorf("job = %s pct %v total %d", rj.Status, rj.ProgressPct, rj.TermsTotal)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
	snaps := progress.all()
	if len(snaps) == 0 || snaps[len(snaps)-1].Pct != 1 {
		t.Errorf("progress = %+v, want a final full snapshot", snaps)
	}
}

func TestResearchConsensusFromEmbeddings(t *testing.T) {
	t.Parallel()

	agree := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Voce A", "definizione uno", 0.9, false, date(2025, 10, 1)),
		source(types.SourceNIH, "Voce B", "definizione due", 0.8, false, date(2025, 10, 1)),
	}}
	embedder := &embedmock.Provider{Vectors: map[string][]float32{
		"definizione uno": {1, 0, 0, 0},
		"definizione due": {1, 0, 0, 0},
	}}
	e := newEnv(t, []research.Fetcher{agree}, researcher.WithEmbedder(embedder))

	_, results, err := e.r.Research(context.Background(), analysisWith(entry("voce", "")), quickConfig(types.SourceWHO), nil)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if got := results[0].Quality.Consensus; got != 1 {
		t.Errorf("Consensus = %v, want 1 for identical embeddings", got)
	}

	// Orthogonal embeddings mean no agreement at all.
	disagree := &mock.Fetcher{Type: types.SourceWHO, Sources: agree.Sources}
	embedder2 := &embedmock.Provider{Vectors: map[string][]float32{
		"definizione uno": {1, 0, 0, 0},
		"definizione due": {0, 1, 0, 0},
	}}
	e2 := newEnv(t, []research.Fetcher{disagree}, researcher.WithEmbedder(embedder2))
	_, results2, err := e2.r.Research(context.Background(), analysisWith(entry("voce", "")), quickConfig(types.SourceWHO), nil)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if got := results2[0].Quality.Consensus; got != 0 {
		t.Errorf("Consensus = %v, want 0 for orthogonal embeddings", got)
	}
}

func TestResearchConsensusFallsBackWithoutEmbedder(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		source(types.SourceWHO, "Voce A", "definizione uno", 0.9, false, date(2025, 10, 1)),
		source(types.SourceNIH, "Voce B", "definizione due", 0.8, false, date(2025, 10, 1)),
	}}
	e := newEnv(t, []research.Fetcher{who})

	_, results, err := e.r.Research(context.Background(), analysisWith(entry("voce", "")), quickConfig(types.SourceWHO), nil)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if got := results[0].Quality.Consensus; got != 0.8 {
		t.Errorf("Consensus = %v, want the 0.8 stand-in", got)
	}
}

func TestResearchDefinitionFallsBackToAnalysis(t *testing.T) {
	t.Parallel()

	// Title-only sources carry no definition text.
	who := &mock.Fetcher{Type: types.SourceWHO, Sources: []types.MedicalSource{
		{ID: "s1", Title: "Nuda voce", URL: "https://who.example/nuda", SourceType: types.SourceWHO, Relevance: 0.9, ContentQuality: 0.5},
	}}
	e := newEnv(t, []research.Fetcher{who})

	_, results, err := e.r.Research(context.Background(),
		analysisWith(entry("tachicardia", "frequenza cardiaca oltre 100 bpm")),
		quickConfig(types.SourceWHO),
		nil,
	)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	def := results[0].Definition
	if def.Text != "frequenza cardiaca oltre 100 bpm" {
		t.Errorf("Definition.Text = %q, want the analysis fallback", def.Text)
	}
	if def.SourceType != types.SourceOther || def.SourceName != "lecture analysis" {
		t.Errorf("fallback attribution = %q / %q", def.SourceType, def.SourceName)
	}
}

func TestNewValidatesWiring(t *testing.T) {
	t.Parallel()

	cache := memcache.NewMemCache()
	st := memstore.NewMemStore()
	who := &mock.Fetcher{Type: types.SourceWHO}

	if _, err := researcher.New(nil, st, []research.Fetcher{who}); types.Classify(err) != types.KindConfiguration {
		t.Errorf("New(nil cache) error = %v, want configuration", err)
	}
	if _, err := researcher.New(cache, nil, []research.Fetcher{who}); types.Classify(err) != types.KindConfiguration {
		t.Errorf("New(nil store) error = %v, want configuration", err)
	}
	if _, err := researcher.New(cache, st, nil); types.Classify(err) != types.KindConfiguration {
		t.Errorf("New(no fetchers) error = %v, want configuration", err)
	}
	dup := &mock.Fetcher{Type: types.SourceWHO}
	if _, err := researcher.New(cache, st, []research.Fetcher{who, dup}); types.Classify(err) != types.KindConfiguration {
		t.Errorf("New(duplicate source) error = %v, want configuration", err)
	}
}

func TestResearchValidatesInput(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO}
	e := newEnv(t, []research.Fetcher{who})

	if _, _, err := e.r.Research(context.Background(), nil, quickConfig(types.SourceWHO), nil); types.Classify(err) != types.KindValidation {
		t.Errorf("Research(nil analysis) error = %v, want validation", err)
	}

	bad := quickConfig(types.SourceWHO)
	bad.MaxSourcesPerTerm = 0
	if _, _, err := e.r.Research(context.Background(), analysisWith(entry("x", "")), bad, nil); types.Classify(err) != types.KindValidation {
		t.Errorf("Research(bad config) error = %v, want validation", err)
	}

	// Nothing was admitted to the store.
	if _, err := e.store.GetResearchJobByJobID(context.Background(), "job-1"); err == nil {
		t.Error("a research job was created despite validation failure")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	who := &mock.Fetcher{Type: types.SourceWHO}
	e := newEnv(t, []research.Fetcher{who})
	if got := e.r.Name(); got != "multisource" {
		t.Errorf("Name() = %q, want multisource", got)
	}
}
