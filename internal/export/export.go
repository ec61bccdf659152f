// Package export renders the artifacts of a finished analysis into study
// bundles. One run generates and persists the micro-memo deck, assembles a
// single artifact view and renders it to every configured format in parallel,
// writing one object and one export session row per format. When a deck
// synthesizer is wired the run also narrates the deck to audio.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aulavox/aulavox/internal/memo"
	"github.com/aulavox/aulavox/internal/pipeline"
	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ pipeline.Exporter = (*Service)(nil)

// DeckSynthesizer narrates a memo deck into an audio object. The synthesizer
// persists the object itself and returns its metadata.
type DeckSynthesizer interface {
	SynthesizeDeck(ctx context.Context, session *types.ClassSession, memos []types.MicroMemo) (*types.TTSResult, error)
}

// DefaultMinConfidence keeps every scored artifact in the bundle. Deployments
// raise it to trim speculative cards and weakly confirmed research rows.
const DefaultMinConfidence = 0.0

var defaultFormats = []types.ExportFormat{types.ExportJSON}

// Option configures a Service.
type Option func(*Service)

// WithFormats sets the formats every run renders. Invalid or duplicate
// formats are rejected by New.
func WithFormats(formats ...types.ExportFormat) Option {
	return func(s *Service) { s.formats = formats }
}

// WithMinConfidence sets the confidence floor applied to memo cards and
// research rows before rendering.
func WithMinConfidence(v float64) Option {
	return func(s *Service) { s.minConfidence = v }
}

// WithMemoGenerator wires deck generation into the run. Without it the run
// exports whatever deck earlier runs persisted for the session.
func WithMemoGenerator(g *memo.Generator) Option {
	return func(s *Service) { s.memos = g }
}

// WithDeckAudio wires deck narration into the run. Synthesis failures degrade
// to a warning; the document bundle never depends on audio.
func WithDeckAudio(ds DeckSynthesizer) Option {
	return func(s *Service) { s.audio = ds }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service generates study artifacts for finished jobs. It is safe for
// concurrent use.
type Service struct {
	results store.ResultStore
	blobs   blob.Store

	memos *memo.Generator
	audio DeckSynthesizer

	formats       []types.ExportFormat
	minConfidence float64
	now           func() time.Time
}

// New builds an export service over the given result store and object store.
func New(results store.ResultStore, blobs blob.Store, opts ...Option) (*Service, error) {
	s := &Service{
		results:       results,
		blobs:         blobs,
		formats:       defaultFormats,
		minConfidence: DefaultMinConfidence,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.results == nil {
		return nil, types.Errorf(types.KindConfiguration, "export: result store is required")
	}
	if s.blobs == nil {
		return nil, types.Errorf(types.KindConfiguration, "export: blob store is required")
	}
	if len(s.formats) == 0 {
		return nil, types.Errorf(types.KindConfiguration, "export: at least one format is required")
	}
	seen := make(map[types.ExportFormat]struct{}, len(s.formats))
	for _, f := range s.formats {
		if !f.IsValid() {
			return nil, types.Errorf(types.KindConfiguration, "export: unsupported format %q", f)
		}
		if _, dup := seen[f]; dup {
			return nil, types.Errorf(types.KindConfiguration, "export: duplicate format %q", f)
		}
		seen[f] = struct{}{}
	}
	if s.minConfidence < 0 || s.minConfidence > 1 {
		return nil, types.Errorf(types.KindConfiguration, "export: min confidence %v outside [0,1]", s.minConfidence)
	}
	return s, nil
}

// Export implements [pipeline.Exporter].
func (s *Service) Export(ctx context.Context, job *types.ProcessingJob, session *types.ClassSession, progress func(pct float64)) error {
	if job == nil || session == nil {
		return types.Errorf(types.KindValidation, "export: job and session are required")
	}
	if progress == nil {
		progress = func(float64) {}
	}

	post, err := s.results.GetPostProcessing(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("export: load post-processing for job %s: %w", job.ID, err)
	}
	analysis, err := s.results.GetLLMAnalysis(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("export: load llm analysis for job %s: %w", job.ID, err)
	}
	research, err := s.loadResearch(ctx, job.ID)
	if err != nil {
		return err
	}
	progress(0.15)

	deck, err := s.buildDeck(ctx, session, post, analysis, research)
	if err != nil {
		return err
	}
	progress(0.35)

	bundle := buildBundle(session, post, analysis, research, deck, s.minConfidence, s.now().UTC())

	// Renders run concurrently; the shared counter maps completions onto
	// the 0.35..0.90 progress band in completion order.
	var (
		mu   sync.Mutex
		done int
	)
	advance := func() {
		mu.Lock()
		defer mu.Unlock()
		done++
		progress(0.35 + 0.55*float64(done)/float64(len(s.formats)))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, format := range s.formats {
		g.Go(func() error {
			es, err := s.exportOne(gctx, format, bundle)
			if err != nil {
				return err
			}
			advance()
			slog.Info("export bundle written",
				"class_session_id", session.ID,
				"format", format,
				"export_session_id", es.ID,
				"size_bytes", es.Files[0].SizeBytes,
				"artifacts", es.ArtifactCount,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return types.ErrCancelled
		}
		return err
	}

	if s.audio != nil && len(bundle.Memos) > 0 {
		res, err := s.audio.SynthesizeDeck(ctx, session, bundle.Memos)
		switch {
		case err != nil && ctx.Err() != nil:
			return types.ErrCancelled
		case err != nil:
			slog.Warn("deck narration failed",
				"class_session_id", session.ID,
				"error", err,
			)
		default:
			slog.Info("deck narration written",
				"class_session_id", session.ID,
				"key", res.Key,
				"duration_sec", res.DurationSec,
			)
		}
	}

	progress(1)
	return nil
}

// loadResearch resolves the job's research rows. A job without a research
// stage simply has none; that is not an error.
func (s *Service) loadResearch(ctx context.Context, jobID string) ([]types.ResearchResult, error) {
	rj, err := s.results.GetResearchJobByJobID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("export: load research job for job %s: %w", jobID, err)
	}
	rows, err := s.results.ListResearchResults(ctx, rj.ID)
	if err != nil {
		return nil, fmt.Errorf("export: list research results for %s: %w", rj.ID, err)
	}
	return rows, nil
}

// buildDeck generates and persists the micro-memo deck, then reads it back
// through the confidence filter so the bundle carries exactly what a caller
// querying the store would see. A lecture whose artifacts carry no usable
// vocabulary yields an empty deck rather than a failed run.
func (s *Service) buildDeck(ctx context.Context, session *types.ClassSession, post *types.PostProcessingResult, analysis *types.LLMAnalysisResult, research []types.ResearchResult) ([]types.MicroMemo, error) {
	if s.memos != nil {
		cards, err := s.memos.Generate(ctx, memo.Inputs{
			Analysis: analysis,
			Post:     post,
			Research: research,
			Language: session.Language,
		})
		switch {
		case err == nil:
			if err := s.results.SaveMicroMemos(ctx, cards); err != nil {
				return nil, fmt.Errorf("export: save micro-memos: %w", err)
			}
		case types.Classify(err) == types.KindValidation:
			slog.Warn("memo generation skipped",
				"class_session_id", session.ID,
				"reason", err,
			)
		default:
			return nil, fmt.Errorf("export: generate micro-memos: %w", err)
		}
	}
	deck, err := s.results.ListMicroMemos(ctx, session.ID, s.minConfidence)
	if err != nil {
		return nil, fmt.Errorf("export: list micro-memos for %s: %w", session.ID, err)
	}
	return deck, nil
}

// exportOne renders the bundle to a single format, writes the object and
// persists the export session row. The row write survives late cancellation
// so no stored object is left without its record.
func (s *Service) exportOne(ctx context.Context, format types.ExportFormat, b *Bundle) (*types.ExportSession, error) {
	data, contentType, err := render(format, b)
	if err != nil {
		return nil, fmt.Errorf("export: render %s: %w", format, err)
	}

	id := uuid.NewString()
	key := blob.ExportKey(id, format.Ext())
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, map[string]string{
		"class-session-id": b.Session.ID,
		"export-format":    string(format),
	}); err != nil {
		return nil, fmt.Errorf("export: store %s bundle: %w", format, err)
	}

	es := &types.ExportSession{
		ID:             id,
		ClassSessionID: b.Session.ID,
		Format:         format,
		Files: []types.ExportFile{{
			Key:         key,
			SizeBytes:   int64(len(data)),
			ContentType: contentType,
		}},
		ArtifactCount: b.ArtifactCount(),
		QualityScore:  b.QualityScore(),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.results.SaveExportSession(context.WithoutCancel(ctx), es); err != nil {
		return nil, fmt.Errorf("export: save export session %s: %w", id, err)
	}
	return es, nil
}

// render dispatches to the format renderer. Every renderer receives the same
// bundle; fidelity differs by medium. CSV keeps only the tabular artifacts
// and the Anki deck keeps only card-shaped ones, while JSON, HTML, PDF and
// DOCX carry the full dossier.
func render(format types.ExportFormat, b *Bundle) ([]byte, string, error) {
	switch format {
	case types.ExportJSON:
		return renderJSON(b)
	case types.ExportCSV:
		return renderCSV(b)
	case types.ExportHTML:
		return renderHTML(b)
	case types.ExportPDF:
		return renderPDF(b)
	case types.ExportDOCX:
		return renderDOCX(b)
	case types.ExportAnki:
		return renderAnki(b)
	default:
		return nil, "", types.Errorf(types.KindValidation, "export: unsupported format %q", format)
	}
}
