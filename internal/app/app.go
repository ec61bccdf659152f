// Package app wires all aulavox subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects every
// component from the config and backend registry, Run executes the pipeline
// workers and background maintenance loops until the context is cancelled,
// and Shutdown tears everything down in reverse-init order.
//
// For testing, inject in-memory infrastructure via functional options
// (WithStore, WithQueue, WithBlobStore, WithCache). When an option is not
// provided, New connects real implementations from the config: PostgreSQL for
// the store and research cache, Redis Streams for the queue, an S3-compatible
// endpoint for objects. An unset endpoint falls back to the in-memory
// implementation with a warning, which keeps single-process development
// working without infrastructure.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aulavox/aulavox/internal/config"
	"github.com/aulavox/aulavox/internal/export"
	"github.com/aulavox/aulavox/internal/health"
	"github.com/aulavox/aulavox/internal/memo"
	"github.com/aulavox/aulavox/internal/notify"
	"github.com/aulavox/aulavox/internal/observe"
	"github.com/aulavox/aulavox/internal/pipeline"
	"github.com/aulavox/aulavox/internal/queue"
	"github.com/aulavox/aulavox/internal/queue/memq"
	"github.com/aulavox/aulavox/internal/queue/redisq"
	"github.com/aulavox/aulavox/internal/researcher"
	"github.com/aulavox/aulavox/internal/resilience"
	"github.com/aulavox/aulavox/internal/ttsjob"
	"github.com/aulavox/aulavox/internal/upload"
	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/blob/memblob"
	"github.com/aulavox/aulavox/pkg/blob/s3"
	"github.com/aulavox/aulavox/pkg/researchcache"
	"github.com/aulavox/aulavox/pkg/researchcache/memcache"
	"github.com/aulavox/aulavox/pkg/researchcache/pgcache"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/store/memstore"
	"github.com/aulavox/aulavox/pkg/store/postgres"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	// DefaultWorkers is used when pipeline.workers is unset.
	DefaultWorkers = 2

	// defaultSweepInterval drives the upload expiry sweep when
	// upload.sweep_interval is unset.
	defaultSweepInterval = 10 * time.Minute

	// sweepBatch caps how many expired upload sessions one sweep reclaims.
	sweepBatch = 100
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	level *slog.LevelVar

	store store.Store
	blobs blob.Store
	queue queue.Queue
	cache researchcache.Cache

	uploads  *upload.Manager
	orch     *pipeline.Orchestrator
	workers  []*pipeline.Worker
	notifier *notify.Webhook
	httpSrv  *http.Server

	// closers are named teardown funcs, run in reverse order on Shutdown.
	closers  []namedCloser
	stopOnce sync.Once
}

type namedCloser struct {
	name  string
	close func() error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a persistence store instead of connecting from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBlobStore injects an object store instead of connecting from config.
func WithBlobStore(b blob.Store) Option {
	return func(a *App) { a.blobs = b }
}

// WithQueue injects a task queue instead of connecting from config.
func WithQueue(q queue.Queue) Option {
	return func(a *App) { a.queue = q }
}

// WithCache injects a research cache instead of connecting from config.
func WithCache(c researchcache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithLogLevel shares the process log level variable so config hot-reload
// can adjust verbosity at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// New builds the application: infrastructure first, then recognizer backends
// through the registry, then the services that consume both.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, types.Errorf(types.KindConfiguration, "app: config is required")
	}
	if reg == nil {
		return nil, types.Errorf(types.KindConfiguration, "app: backend registry is required")
	}
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initInfra(ctx); err != nil {
		return nil, fmt.Errorf("app: init infrastructure: %w", err)
	}

	backends, err := a.buildBackends(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: build backends: %w", err)
	}

	if err := a.initServices(backends); err != nil {
		return nil, fmt.Errorf("app: init services: %w", err)
	}

	a.initHTTP()
	return a, nil
}

// initInfra connects store, object store, queue and cache unless injected.
func (a *App) initInfra(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
			dims := a.cfg.Database.EmbeddingDimensions
			if dims <= 0 {
				dims = 768
			}
			st, err := postgres.NewStore(ctx, dsn, dims)
			if err != nil {
				return fmt.Errorf("connect postgres store: %w", err)
			}
			a.store = st
			a.closers = append(a.closers, namedCloser{"store", func() error { st.Close(); return nil }})
		} else {
			slog.Warn("database.postgres_dsn is not set; using the in-memory store (data is lost on exit)")
			a.store = memstore.NewMemStore()
		}
	}

	if a.blobs == nil {
		if a.cfg.Storage.Endpoint != "" {
			bs, err := s3.New(ctx, s3.Config{
				Endpoint:  a.cfg.Storage.Endpoint,
				AccessKey: a.cfg.Storage.AccessKey,
				SecretKey: a.cfg.Storage.SecretKey,
				Bucket:    a.cfg.Storage.Bucket,
				UseSSL:    a.cfg.Storage.UseSSL,
				Region:    a.cfg.Storage.Region,
			})
			if err != nil {
				return fmt.Errorf("connect object store: %w", err)
			}
			a.blobs = bs
		} else {
			slog.Warn("storage.endpoint is not set; using the in-memory object store")
			a.blobs = memblob.New(a.cfg.Storage.Bucket)
		}
	}

	if a.queue == nil {
		if a.cfg.Queue.RedisURL != "" {
			q, err := redisq.New(ctx, redisq.Config{
				URL:       a.cfg.Queue.RedisURL,
				Consumer:  a.cfg.Queue.Consumer,
				ClaimIdle: a.cfg.Queue.ClaimIdle.Std(),
			})
			if err != nil {
				return fmt.Errorf("connect queue broker: %w", err)
			}
			a.queue = q
		} else {
			slog.Warn("queue.redis_url is not set; using the in-process queue")
			a.queue = memq.NewMemQueue()
		}
		a.closers = append(a.closers, namedCloser{"queue", a.queue.Close})
	}

	if a.cache == nil {
		if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
			c, err := pgcache.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect research cache: %w", err)
			}
			a.cache = c
			a.closers = append(a.closers, namedCloser{"research cache", func() error { c.Close(); return nil }})
		} else {
			a.cache = memcache.NewMemCache()
		}
	}

	return nil
}

// initServices assembles uploads, orchestrator, workers and the exporter from
// infrastructure plus backends.
func (a *App) initServices(b *backendSet) error {
	var err error

	var uploadOpts []upload.Option
	if a.cfg.Upload.SessionTTL > 0 {
		uploadOpts = append(uploadOpts, upload.WithSessionTTL(a.cfg.Upload.SessionTTL.Std()))
	}
	if a.cfg.Upload.MaxChunkBytes > 0 {
		uploadOpts = append(uploadOpts, upload.WithMaxChunkBytes(a.cfg.Upload.MaxChunkBytes))
	}
	a.uploads, err = upload.New(a.store, a.blobs, uploadOpts...)
	if err != nil {
		return fmt.Errorf("upload manager: %w", err)
	}

	orchOpts := []pipeline.Option{
		pipeline.WithMaxRetries(a.cfg.Pipeline.MaxRetries),
		pipeline.WithDefaultPreset(a.cfg.Pipeline.DefaultPreset),
	}
	if url := a.cfg.Notify.DiscordWebhookURL; url != "" {
		a.notifier, err = notify.New(url)
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
		orchOpts = append(orchOpts, pipeline.WithNotifier(a.notifier))
	}
	a.orch, err = pipeline.NewOrchestrator(a.store, a.queue, orchOpts...)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	runners, err := a.buildRunners(b)
	if err != nil {
		return err
	}

	workers := a.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	for range workers {
		w, err := pipeline.NewWorker(a.store, a.queue, a.orch, runners)
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		a.workers = append(a.workers, w)
	}

	return nil
}

// buildRunners assembles the stage runner set. A stage whose backend is not
// configured is left unregistered; jobs reaching it park in the dead-letter
// queue instead of failing silently.
func (a *App) buildRunners(b *backendSet) ([]pipeline.StageRunner, error) {
	var runners []pipeline.StageRunner

	if b.asr != nil {
		runners = append(runners, pipeline.NewASRStage(a.blobs, b.asr))
	}
	if b.diarizer != nil {
		runners = append(runners, pipeline.NewDiarizeStage(a.blobs, b.diarizer, a.store))
	}
	if b.post != nil {
		runners = append(runners, pipeline.NewPostprocessStage(a.store, b.post))
	}
	if b.llm != nil {
		runners = append(runners, pipeline.NewNLPStage(a.store, b.analyzer))
	}

	if len(b.fetchers) > 0 {
		resOpts := []researcher.Option{
			researcher.WithBreakerConfig(resilience.CircuitBreakerConfig{
				MaxFailures:  a.cfg.Research.Breaker.MaxFailures,
				ResetTimeout: a.cfg.Research.Breaker.ResetTimeout.Std(),
			}),
			researcher.WithMaxParallel(a.cfg.Research.MaxParallel),
		}
		if b.embedder != nil {
			resOpts = append(resOpts, researcher.WithEmbedder(b.embedder))
		}
		r, err := researcher.New(a.cache, a.store, b.fetchers, resOpts...)
		if err != nil {
			return nil, fmt.Errorf("researcher: %w", err)
		}
		runners = append(runners, pipeline.NewResearchStage(a.store, r))
	}

	exporter, err := a.buildExporter(b)
	if err != nil {
		return nil, err
	}
	runners = append(runners, pipeline.NewExportStage(exporter))

	return runners, nil
}

// buildExporter wires the artifact exporter with memo generation and, when
// configured, deck narration.
func (a *App) buildExporter(b *backendSet) (*export.Service, error) {
	formats := make([]types.ExportFormat, 0, len(a.cfg.Export.Formats))
	for _, f := range a.cfg.Export.Formats {
		formats = append(formats, types.ExportFormat(f))
	}

	opts := []export.Option{
		export.WithMinConfidence(a.cfg.Export.MinConfidence),
	}
	if len(formats) > 0 {
		opts = append(opts, export.WithFormats(formats...))
	}
	if b.llm != nil {
		opts = append(opts, export.WithMemoGenerator(memo.New(b.llm)))
	}
	if a.cfg.Export.DeckAudio && b.tts != nil {
		n := a.cfg.Narration
		ttsOpts := []ttsjob.Option{
			ttsjob.WithVoice(n.Voice),
			ttsjob.WithLanguage(n.Language),
			ttsjob.WithSSML(n.SSML),
		}
		if n.Speed > 0 {
			ttsOpts = append(ttsOpts, ttsjob.WithSpeed(n.Speed))
		}
		if n.Format != "" {
			ttsOpts = append(ttsOpts, ttsjob.WithFormat(types.AudioFormat(n.Format)))
		}
		synth, err := ttsjob.New(b.tts, a.blobs, ttsOpts...)
		if err != nil {
			return nil, fmt.Errorf("narration service: %w", err)
		}
		opts = append(opts, export.WithDeckAudio(synth))
	}

	svc, err := export.New(a.store, a.blobs, opts...)
	if err != nil {
		return nil, fmt.Errorf("exporter: %w", err)
	}
	return svc, nil
}

// pinger is satisfied by every real infrastructure adapter; in-memory fakes
// that lack it are treated as always healthy.
type pinger interface {
	Ping(ctx context.Context) error
}

// initHTTP assembles the operational HTTP surface: health probes and the
// Prometheus scrape endpoint. No API routes live here; the HTTP edge is a
// separate service.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := make([]health.Checker, 0, 4)
	addPing := func(name string, v any) {
		if p, ok := v.(pinger); ok {
			checkers = append(checkers, health.Checker{Name: name, Check: p.Ping})
		}
	}
	addPing("database", a.store)
	addPing("queue", a.queue)
	addPing("object-store", a.blobs)
	addPing("research-cache", a.cache)

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run executes the pipeline workers, the operational HTTP listener and the
// background maintenance loops until ctx is cancelled. It returns the first
// unexpected error, or nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i, w := range a.workers {
		g.Go(func() error {
			slog.Info("pipeline worker started", "worker", i)
			err := w.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error { return a.sweepUploads(ctx) })
	g.Go(func() error { return a.sweepCache(ctx) })

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("operational http listener started", "addr", a.httpSrv.Addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.httpSrv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(sctx)
		})
	}

	slog.Info("aulavox running", "workers", len(a.workers))
	return g.Wait()
}

// sweepUploads reclaims expired upload sessions on the configured interval.
func (a *App) sweepUploads(ctx context.Context) error {
	interval := a.cfg.Upload.SweepInterval.Std()
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.uploads.CleanupExpired(ctx, sweepBatch)
			if err != nil {
				slog.Warn("upload expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired upload sessions reclaimed", "count", n)
			}
		}
	}
}

// sweepCache purges expired research cache rows. Disabled when the interval
// is zero.
func (a *App) sweepCache(ctx context.Context) error {
	interval := a.cfg.Research.CacheCleanupInterval.Std()
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.cache.CleanupExpired(ctx)
			if err != nil {
				slog.Warn("research cache cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired research cache entries purged", "count", n)
			}
		}
	}
}

// ApplyConfig absorbs a hot-applicable config change from the file watcher.
// Restart-required blocks are logged and left untouched.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PipelineChanged {
		a.orch.SetMaxRetries(next.Pipeline.MaxRetries)
		a.orch.SetDefaultPreset(next.Pipeline.DefaultPreset)
		slog.Info("pipeline retry budget and default preset updated")
	}
	if d.ResearchChanged || d.ExportChanged || d.NarrationChanged || d.UploadChanged {
		// These land on the cfg pointer read by the sweep loops and at
		// service construction; running jobs keep their admitted settings.
		slog.Info("tuning changes staged for subsequent jobs",
			"research", d.ResearchChanged,
			"export", d.ExportChanged,
			"narration", d.NarrationChanged,
			"upload", d.UploadChanged,
		)
	}
	for _, block := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "block", block)
	}
}

// slogLevel maps the config level to slog's.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// ones are skipped and the context error returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("http listener shutdown error", "error", err)
			}
		}

		// Let in-flight notification goroutines drain before the process
		// exits.
		if a.notifier != nil {
			a.notifier.Close()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			c := a.closers[i]
			if err := c.close(); err != nil {
				slog.Warn("closer error", "closer", c.name, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Uploads exposes the upload manager for the HTTP edge embedding this app.
func (a *App) Uploads() *upload.Manager { return a.uploads }

// Orchestrator exposes the job orchestrator for the HTTP edge embedding this
// app.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch }

// Blobs exposes the object store so the HTTP edge can hand out presigned
// artifact URLs.
func (a *App) Blobs() blob.Store { return a.blobs }
