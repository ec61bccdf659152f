package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aulavox/aulavox/internal/config"
	"github.com/aulavox/aulavox/internal/resilience"
	"github.com/aulavox/aulavox/pkg/embeddings"
	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/recognizer/analyze"
	"github.com/aulavox/aulavox/pkg/recognizer/analyze/llmdriven"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/recognizer/postprocess"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/tts"
)

// backendSet holds one instance per recognizer slot. Nil means the slot is
// not configured; the corresponding pipeline stage is then left unwired.
type backendSet struct {
	asr      asr.Recognizer
	diarizer diarize.Diarizer
	post     postprocess.PostProcessor
	llm      llm.Provider
	analyzer analyze.Analyzer
	embedder embeddings.Provider
	tts      tts.Engine
	fetchers []research.Fetcher
}

// buildBackends instantiates every backend named in the config through the
// registry. ASR and LLM get ordered fallback chains when fallback entries are
// present. An unregistered name is skipped with a warning so a config written
// for a build with extra backends still boots.
func (a *App) buildBackends(_ context.Context) (*backendSet, error) {
	b := &backendSet{}
	cfg := a.cfg.Backends
	chainCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Research.Breaker.MaxFailures,
			ResetTimeout: a.cfg.Research.Breaker.ResetTimeout.Std(),
		},
	}

	if cfg.ASR.Name != "" {
		primary, err := a.createASR(cfg.ASR)
		if err != nil {
			return nil, err
		}
		var fallbacks []asr.Recognizer
		for _, entry := range cfg.ASRFallbacks {
			f, err := a.createASR(entry)
			if err != nil {
				return nil, err
			}
			if f != nil {
				fallbacks = append(fallbacks, f)
			}
		}
		switch {
		case primary == nil:
		case len(fallbacks) > 0:
			b.asr = resilience.NewASRChain(chainCfg, primary, fallbacks...)
			slog.Info("asr backend ready", "name", b.asr.Name(), "fallbacks", len(fallbacks))
		default:
			b.asr = primary
			slog.Info("asr backend ready", "name", primary.Name())
		}
	}

	if cfg.Diarize.Name != "" {
		d, err := a.reg.CreateDiarizer(cfg.Diarize)
		if err := skippable(err, "diarize", cfg.Diarize.Name); err != nil {
			return nil, err
		}
		b.diarizer = d
	}

	if cfg.PostProcess.Name != "" {
		p, err := a.reg.CreatePostProcessor(lexiconEntry(cfg.PostProcess, a.cfg.Lexicon))
		if err := skippable(err, "postprocess", cfg.PostProcess.Name); err != nil {
			return nil, err
		}
		b.post = p
	}

	if cfg.LLM.Name != "" {
		primary, err := a.createLLM(cfg.LLM)
		if err != nil {
			return nil, err
		}
		var fallbacks []llm.Provider
		for _, entry := range cfg.LLMFallbacks {
			f, err := a.createLLM(entry)
			if err != nil {
				return nil, err
			}
			if f != nil {
				fallbacks = append(fallbacks, f)
			}
		}
		switch {
		case primary == nil:
		case len(fallbacks) > 0:
			b.llm = resilience.NewLLMChain(chainCfg, primary, fallbacks...)
			slog.Info("llm backend ready", "model", cfg.LLM.Model, "fallbacks", len(fallbacks))
		default:
			b.llm = primary
			slog.Info("llm backend ready", "name", cfg.LLM.Name, "model", cfg.LLM.Model)
		}
		if b.llm != nil {
			b.analyzer = llmdriven.New(b.llm)
		}
	}

	if cfg.Embeddings.Name != "" {
		e, err := a.reg.CreateEmbeddings(cfg.Embeddings)
		if err := skippable(err, "embeddings", cfg.Embeddings.Name); err != nil {
			return nil, err
		}
		b.embedder = e
	}

	if cfg.TTS.Name != "" {
		e, err := a.reg.CreateTTS(cfg.TTS)
		if err := skippable(err, "tts", cfg.TTS.Name); err != nil {
			return nil, err
		}
		b.tts = e
	}

	for _, src := range a.cfg.Research.Sources {
		f, err := a.reg.CreateFetcher(src)
		if errors.Is(err, config.ErrBackendNotRegistered) {
			slog.Warn("research source has no registered fetcher, skipping", "name", src.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create fetcher %q: %w", src.Name, err)
		}
		b.fetchers = append(b.fetchers, f)
	}
	if len(b.fetchers) > 0 {
		slog.Info("research sources ready", "count", len(b.fetchers))
	}

	return b, nil
}

// createASR resolves one ASR entry; nil when the name is not registered.
func (a *App) createASR(entry config.BackendEntry) (asr.Recognizer, error) {
	r, err := a.reg.CreateASR(entry)
	if err := skippable(err, "asr", entry.Name); err != nil {
		return nil, err
	}
	return r, nil
}

// createLLM resolves one LLM entry; nil when the name is not registered.
func (a *App) createLLM(entry config.BackendEntry) (llm.Provider, error) {
	p, err := a.reg.CreateLLM(entry)
	if err := skippable(err, "llm", entry.Name); err != nil {
		return nil, err
	}
	return p, nil
}

// skippable turns an unregistered-backend error into a logged skip; other
// errors pass through wrapped.
func skippable(err error, kind, name string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, config.ErrBackendNotRegistered):
		slog.Warn("backend not registered in this build, skipping", "kind", kind, "name", name)
		return nil
	default:
		return fmt.Errorf("create %s backend %q: %w", kind, name, err)
	}
}

// lexiconEntry threads the lexicon path into the post-processor entry when
// its options do not name one themselves.
func lexiconEntry(entry config.BackendEntry, lex config.LexiconConfig) config.BackendEntry {
	if lex.Path == "" {
		return entry
	}
	if _, ok := entry.Options["lexicon_path"]; ok {
		return entry
	}
	opts := make(map[string]any, len(entry.Options)+1)
	for k, v := range entry.Options {
		opts[k] = v
	}
	opts["lexicon_path"] = lex.Path
	entry.Options = opts
	return entry
}
