// Package whisperlocal provides an asr.Recognizer backed by the whisper.cpp
// CGO bindings, eliminating HTTP overhead entirely. The whisper.cpp static
// library (libwhisper.a) and headers (whisper.h) must be available at link
// time via LIBRARY_PATH and C_INCLUDE_PATH environment variables.
//
// The model is loaded once at construction and shared by all jobs of the
// worker process. Inference runs are serialized with a mutex: whisper
// contexts are not thread-safe and a GPU-backed model must not be
// oversubscribed, so the queue's prefetch plus this guard bound concurrency
// to one inference at a time.
package whisperlocal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/aulavox/aulavox/pkg/audio"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/types"
)

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithThreads sets the CPU thread count whisper.cpp may use per inference.
// Zero leaves the bindings' default in place.
func WithThreads(n uint) Option {
	return func(r *Recognizer) { r.threads = n }
}

// Recognizer implements asr.Recognizer using an in-process whisper.cpp model.
type Recognizer struct {
	model   whisperlib.Model
	threads uint

	// mu serializes inference; contexts are not thread-safe.
	mu sync.Mutex
}

// New creates a Recognizer that loads the whisper.cpp model from the given
// file path. The caller must call Close when the recognizer is no longer
// needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisperlocal: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisperlocal: load model %q: %w", modelPath, err)
	}
	r := &Recognizer{model: model}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Close releases the whisper model.
func (r *Recognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

// Name identifies this backend in logs and job metadata.
func (r *Recognizer) Name() string { return "whisperlocal" }

// Transcribe converts the PCM to float32 samples, runs whisper.cpp inference
// with a fresh context, and collects the emitted segments.
func (r *Recognizer) Transcribe(ctx context.Context, in asr.Audio, cfg asr.Config, progress asr.ProgressFunc) (*types.TranscriptionResult, error) {
	if len(in.PCM) == 0 {
		return nil, types.Errorf(types.KindValidation, "whisperlocal: empty audio for %q", in.Ref)
	}

	pcm := audio.ToMono(in.PCM, in.Channels)
	samples := audio.BytesToFloat32s(pcm)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, types.ErrCancelled
	}

	start := time.Now()

	// Contexts are cheap relative to inference; a fresh one per call avoids
	// parameter leakage between jobs.
	wctx, err := r.model.NewContext()
	if err != nil {
		return nil, types.Errorf(types.KindTransient, "whisperlocal: create context: %v", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, types.Errorf(types.KindConfiguration, "whisperlocal: set language %q: %v", lang, err)
	}
	if cfg.BeamSize > 0 {
		wctx.SetBeamSize(cfg.BeamSize)
	}
	if len(cfg.Temperatures) > 0 {
		wctx.SetTemperature(float32(cfg.Temperatures[0]))
		if len(cfg.Temperatures) > 1 {
			wctx.SetTemperatureFallback(float32(cfg.Temperatures[1] - cfg.Temperatures[0]))
		}
	}
	if cfg.InitialPrompt != "" {
		wctx.SetInitialPrompt(cfg.InitialPrompt)
	}
	wctx.SetTokenTimestamps(cfg.WordTimestamps)
	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}

	// The encoder-begin callback is whisper.cpp's cooperative cancellation
	// hook: returning false aborts before the next encoder pass.
	encoderBegin := func() bool { return ctx.Err() == nil }
	var progressCb whisperlib.ProgressCallback
	if progress != nil {
		progressCb = func(pct int) { progress(float64(pct) / 100) }
	}

	if err := wctx.Process(samples, encoderBegin, nil, progressCb); err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.Errorf(types.KindTransient, "whisperlocal: process audio: %v", err)
	}
	if ctx.Err() != nil {
		return nil, types.ErrCancelled
	}

	result := &types.TranscriptionResult{
		Model:            cfg.Model,
		AudioDurationSec: in.DurationSec(),
	}

	var texts []string
	var confSum, confDur float64
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, types.Errorf(types.KindTransient, "whisperlocal: read segment: %v", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)

		conf := segmentConfidence(segment)
		seg := types.TranscriptSegment{
			Start:      segment.Start.Seconds(),
			End:        segment.End.Seconds(),
			Text:       text,
			Confidence: conf,
		}
		result.Segments = append(result.Segments, seg)
		if d := seg.End - seg.Start; d > 0 {
			confSum += conf * d
			confDur += d
		}

		if cfg.WordTimestamps {
			for _, tok := range segment.Tokens {
				word := strings.TrimSpace(tok.Text)
				if word == "" || strings.HasPrefix(word, "[_") {
					continue
				}
				result.Words = append(result.Words, types.WordTiming{
					Word:       word,
					Start:      tok.Start.Seconds(),
					End:        tok.End.Seconds(),
					Confidence: float64(tok.P),
				})
			}
		}
	}

	result.Text = strings.Join(texts, " ")
	result.Language = cfg.Language
	if result.Language == "" {
		result.Language = wctx.DetectedLanguage()
	}
	if confDur > 0 {
		result.Confidence = confSum / confDur
	}
	result.ProcessingTimeSec = time.Since(start).Seconds()

	if progress != nil {
		progress(1.0)
	}
	return result, nil
}

// segmentConfidence averages the token probabilities of a segment, skipping
// special tokens. Segments without usable tokens get a neutral 0.5.
func segmentConfidence(seg whisperlib.Segment) float64 {
	var sum float64
	var n int
	for _, tok := range seg.Tokens {
		if strings.HasPrefix(strings.TrimSpace(tok.Text), "[_") {
			continue
		}
		sum += float64(tok.P)
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}
