// Command aulavox is the main entry point for the aulavox lecture
// processing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aulavox/aulavox/internal/app"
	"github.com/aulavox/aulavox/internal/config"
	"github.com/aulavox/aulavox/internal/fetch/gateway"
	"github.com/aulavox/aulavox/internal/fetch/mcpkb"
	"github.com/aulavox/aulavox/internal/fetch/nih"
	"github.com/aulavox/aulavox/internal/fetch/pubmed"
	"github.com/aulavox/aulavox/internal/fetch/who"
	"github.com/aulavox/aulavox/internal/observe"
	"github.com/aulavox/aulavox/pkg/embeddings"
	ollamaembed "github.com/aulavox/aulavox/pkg/embeddings/ollama"
	oaembed "github.com/aulavox/aulavox/pkg/embeddings/openai"
	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/llm/anyllm"
	oallm "github.com/aulavox/aulavox/pkg/llm/openai"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/recognizer/asr/whisperd"
	"github.com/aulavox/aulavox/pkg/recognizer/asr/whisperlocal"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize/pyannoted"
	"github.com/aulavox/aulavox/pkg/recognizer/postprocess"
	"github.com/aulavox/aulavox/pkg/recognizer/postprocess/medlex"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/tts"
	"github.com/aulavox/aulavox/pkg/tts/xtts"
	"github.com/aulavox/aulavox/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aulavox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aulavox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level variable is shared with the app so a config reload can change
	// verbosity without restarting.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("aulavox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(ctx, reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// builtinBackends maps backend categories to the implementations that ship
// with aulavox. Used for startup logging.
var builtinBackends = map[string][]string{
	"asr":         {"whisperd", "whisperlocal"},
	"diarize":     {"pyannoted"},
	"postprocess": {"medlex"},
	"llm":         {"openai", "anthropic", "ollama"},
	"embeddings":  {"openai", "ollama"},
	"tts":         {"xtts"},
	"fetchers":    {"who", "nih", "pubmed", "mcpkb"},
}

// registerBuiltinBackends wires all built-in backend factories into reg. Each
// factory receives a config entry and constructs the backend from the real
// implementation packages. ctx is captured by factories that dial on
// construction (the MCP fetcher).
func registerBuiltinBackends(ctx context.Context, reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("whisperd", func(entry config.BackendEntry) (asr.Recognizer, error) {
		var opts []whisperd.Option
		if sec := optInt(entry.Options, "window_seconds"); sec > 0 {
			opts = append(opts, whisperd.WithWindowSeconds(sec))
		}
		return whisperd.New(entry.BaseURL, opts...)
	})

	reg.RegisterASR("whisperlocal", func(entry config.BackendEntry) (asr.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisperlocal.Option
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisperlocal.WithThreads(uint(n)))
		}
		return whisperlocal.New(modelPath, opts...)
	})

	// ── Diarization ───────────────────────────────────────────────────────────

	reg.RegisterDiarizer("pyannoted", func(entry config.BackendEntry) (diarize.Diarizer, error) {
		var opts []pyannoted.Option
		if entry.APIKey != "" {
			opts = append(opts, pyannoted.WithAuthToken(entry.APIKey))
		}
		return pyannoted.New(entry.BaseURL, opts...)
	})

	// ── Transcript post-processing ────────────────────────────────────────────

	reg.RegisterPostProcessor("medlex", func(entry config.BackendEntry) (postprocess.PostProcessor, error) {
		path := optString(entry.Options, "lexicon_path")
		if path == "" {
			return nil, fmt.Errorf("medlex: lexicon_path is required (set lexicon.path or backends.postprocess.options.lexicon_path)")
		}
		lex, err := medlex.LoadLexiconFile(path)
		if err != nil {
			return nil, err
		}
		var opts []medlex.Option
		if v, ok := optFloat(entry.Options, "confidence_threshold"); ok {
			opts = append(opts, medlex.WithConfidenceThreshold(v))
		}
		if v, ok := optFloat(entry.Options, "phonetic_threshold"); ok {
			opts = append(opts, medlex.WithPhoneticThreshold(v))
		}
		if v, ok := optFloat(entry.Options, "fuzzy_threshold"); ok {
			opts = append(opts, medlex.WithFuzzyThreshold(v))
		}
		return medlex.New(lex, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.BackendEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("anthropic", func(entry config.BackendEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewAnthropic(entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.BackendEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.BackendEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.BackendEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("xtts", func(entry config.BackendEntry) (tts.Engine, error) {
		var opts []xtts.Option
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, xtts.WithVoice(voice))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, xtts.WithLanguage(lang))
		}
		return xtts.New(entry.BaseURL, opts...)
	})

	// ── Research fetchers ─────────────────────────────────────────────────────

	reg.RegisterFetcher("who", func(entry config.SourceEntry) (research.Fetcher, error) {
		return who.New(entry.BaseURL, gatewayOpts(entry)...)
	})

	reg.RegisterFetcher("nih", func(entry config.SourceEntry) (research.Fetcher, error) {
		return nih.New(entry.BaseURL, gatewayOpts(entry)...)
	})

	reg.RegisterFetcher("pubmed", func(entry config.SourceEntry) (research.Fetcher, error) {
		var opts []pubmed.Option
		if entry.APIKey != "" {
			opts = append(opts, pubmed.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, pubmed.WithBaseURL(entry.BaseURL))
		}
		return pubmed.New(opts...), nil
	})

	// mcpkb connects to an MCP knowledge-base server; which authority it
	// represents comes from options.source.
	reg.RegisterFetcher("mcpkb", func(entry config.SourceEntry) (research.Fetcher, error) {
		source := types.SourceType(optString(entry.Options, "source"))
		if source == "" {
			source = types.SourceOther
		}
		var opts []mcpkb.Option
		if tool := optString(entry.Options, "tool"); tool != "" {
			opts = append(opts, mcpkb.WithTool(tool))
		}
		if optBool(entry.Options, "official") {
			opts = append(opts, mcpkb.WithOfficial(true))
		}
		return mcpkb.Dial(ctx, source, entry.BaseURL, opts...)
	})

	// Debug log of all registered backends.
	for kind, names := range builtinBackends {
		for _, name := range names {
			slog.Debug("registered backend", "kind", kind, "name", name)
		}
	}
}

// gatewayOpts maps the shared source entry fields onto gateway client options.
func gatewayOpts(entry config.SourceEntry) []gateway.Option {
	var opts []gateway.Option
	if entry.APIKey != "" {
		opts = append(opts, gateway.WithAPIKey(entry.APIKey))
	}
	if category := optString(entry.Options, "content_category"); category != "" {
		opts = append(opts, gateway.WithContentCategory(category))
	}
	return opts
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         aulavox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("ASR", cfg.Backends.ASR.Name, cfg.Backends.ASR.Model)
	printBackend("Diarize", cfg.Backends.Diarize.Name, cfg.Backends.Diarize.Model)
	printBackend("Postprocess", cfg.Backends.PostProcess.Name, "")
	printBackend("LLM", cfg.Backends.LLM.Name, cfg.Backends.LLM.Model)
	printBackend("Embeddings", cfg.Backends.Embeddings.Name, cfg.Backends.Embeddings.Model)
	printBackend("TTS", cfg.Backends.TTS.Name, cfg.Backends.TTS.Model)
	fmt.Printf("║  Sources         : %-19d ║\n", len(cfg.Research.Sources))
	fmt.Printf("║  Export formats  : %-19d ║\n", len(cfg.Export.Formats))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an int from an Options map. YAML decodes bare numbers as
// int, so only that case is handled.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}

// optBool extracts a bool from an Options map.
func optBool(opts map[string]any, key string) bool {
	if opts == nil {
		return false
	}
	b, _ := opts[key].(bool)
	return b
}

// optFloat extracts a float from an Options map. The second return reports
// whether the key held a number.
func optFloat(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
