// Package observe provides application-wide observability primitives for
// aulavox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all aulavox metrics.
const meterName = "github.com/aulavox/aulavox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// FetchDuration tracks research source lookup latency. Use with
	// attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	FetchDuration metric.Float64Histogram

	// JobsCompleted counts finished pipeline jobs. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	JobsCompleted metric.Int64Counter

	// UploadChunks counts accepted upload chunks.
	UploadChunks metric.Int64Counter

	// UploadBytes counts accepted upload payload bytes.
	UploadBytes metric.Int64Counter

	// CacheLookups counts research cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss"|"stale")
	CacheLookups metric.Int64Counter

	// ArtifactsWritten counts generated export artifacts. Use with attribute:
	//   attribute.String("format", ...)
	ArtifactsWritten metric.Int64Counter

	// BackendErrors counts backend call failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// ActiveJobs tracks the number of jobs currently held by workers.
	ActiveJobs metric.Int64UpDownCounter

	// ActiveUploads tracks the number of open upload sessions.
	ActiveUploads metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets defines histogram bucket boundaries (in seconds) for pipeline
// stages, which run from sub-second cache hits up to multi-minute
// transcription passes over full lectures.
var stageBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// fetchBuckets covers the much tighter range of a single HTTP lookup against
// a research source.
var fetchBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("aulavox.pipeline.stage.duration",
		metric.WithDescription("Latency of each pipeline stage by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FetchDuration, err = m.Float64Histogram("aulavox.research.fetch.duration",
		metric.WithDescription("Latency of research source lookups by source and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fetchBuckets...),
	); err != nil {
		return nil, err
	}

	if met.JobsCompleted, err = m.Int64Counter("aulavox.pipeline.jobs",
		metric.WithDescription("Total finished pipeline jobs by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.UploadChunks, err = m.Int64Counter("aulavox.upload.chunks",
		metric.WithDescription("Total accepted upload chunks."),
	); err != nil {
		return nil, err
	}
	if met.UploadBytes, err = m.Int64Counter("aulavox.upload.bytes",
		metric.WithDescription("Total accepted upload payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("aulavox.research.cache.lookups",
		metric.WithDescription("Total research cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactsWritten, err = m.Int64Counter("aulavox.export.artifacts",
		metric.WithDescription("Total generated export artifacts by format."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("aulavox.backend.errors",
		metric.WithDescription("Total backend call failures by backend and error kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("aulavox.pipeline.active_jobs",
		metric.WithDescription("Number of jobs currently held by pipeline workers."),
	); err != nil {
		return nil, err
	}
	if met.ActiveUploads, err = m.Int64UpDownCounter("aulavox.upload.active_sessions",
		metric.WithDescription("Number of open upload sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("aulavox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one pipeline stage run with its duration.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordJob records one finished job with its kind and terminal status.
func (m *Metrics) RecordJob(ctx context.Context, kind, status string) {
	m.JobsCompleted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordChunk records one accepted upload chunk and its size.
func (m *Metrics) RecordChunk(ctx context.Context, size int64) {
	m.UploadChunks.Add(ctx, 1)
	m.UploadBytes.Add(ctx, size)
}

// RecordCacheLookup records one research cache lookup outcome
// ("hit", "miss" or "stale").
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordFetch records one research source lookup with its duration and
// outcome status.
func (m *Metrics) RecordFetch(ctx context.Context, source, status string, d time.Duration) {
	m.FetchDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}

// RecordArtifact records one written export artifact.
func (m *Metrics) RecordArtifact(ctx context.Context, format string) {
	m.ArtifactsWritten.Add(ctx, 1,
		metric.WithAttributes(attribute.String("format", format)),
	)
}

// RecordBackendError records one backend call failure.
func (m *Metrics) RecordBackendError(ctx context.Context, backend, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}
