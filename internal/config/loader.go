package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aulavox/aulavox/pkg/types"
)

// ValidBackendNames lists known backend names per kind. [Validate] warns
// about unrecognised names instead of rejecting them, so third-party
// registrations keep working.
var ValidBackendNames = map[string][]string{
	"asr":         {"whisperd", "whisperlocal"},
	"diarize":     {"pyannoted"},
	"postprocess": {"medlex"},
	"llm":         {"openai", "anthropic", "ollama"},
	"embeddings":  {"openai", "ollama"},
	"tts":         {"xtts"},
}

// ValidSourceNames lists the research sources the service ships fetchers for.
var ValidSourceNames = []string{"who", "nih", "pubmed", "mcpkb"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos surface at startup instead of
// silently configuring nothing.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; advisory findings are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Pipeline.Workers < 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d is negative", cfg.Pipeline.Workers))
	}
	if cfg.Pipeline.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries %d is negative", cfg.Pipeline.MaxRetries))
	}
	if cfg.Upload.MaxChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("upload.max_chunk_bytes %d is negative", cfg.Upload.MaxChunkBytes))
	}

	validateBackendName("asr", cfg.Backends.ASR.Name)
	for _, e := range cfg.Backends.ASRFallbacks {
		validateBackendName("asr", e.Name)
	}
	validateBackendName("diarize", cfg.Backends.Diarize.Name)
	validateBackendName("postprocess", cfg.Backends.PostProcess.Name)
	validateBackendName("llm", cfg.Backends.LLM.Name)
	for _, e := range cfg.Backends.LLMFallbacks {
		validateBackendName("llm", e.Name)
	}
	validateBackendName("embeddings", cfg.Backends.Embeddings.Name)
	validateBackendName("tts", cfg.Backends.TTS.Name)

	if cfg.Backends.ASR.Name == "" {
		slog.Warn("backends.asr is not configured; uploaded recordings will queue but never transcribe")
	}
	if cfg.Backends.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("backends.embeddings is configured but database.embedding_dimensions is not set; defaulting to 768")
	}

	// Research sources.
	sourcesSeen := make(map[string]int, len(cfg.Research.Sources))
	for i, src := range cfg.Research.Sources {
		prefix := fmt.Sprintf("research.sources[%d]", i)
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := sourcesSeen[src.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of research.sources[%d]", prefix, src.Name, prev))
		}
		sourcesSeen[src.Name] = i
		if !slices.Contains(ValidSourceNames, src.Name) {
			slog.Warn("unknown research source — may be a typo or third-party fetcher",
				"name", src.Name,
				"known", ValidSourceNames,
			)
		}
	}

	// Export formats.
	formatsSeen := make(map[string]int, len(cfg.Export.Formats))
	for i, f := range cfg.Export.Formats {
		prefix := fmt.Sprintf("export.formats[%d]", i)
		if !types.ExportFormat(f).IsValid() {
			errs = append(errs, fmt.Errorf("%s %q is invalid; valid values: pdf, docx, json, csv, html, anki", prefix, f))
		}
		if prev, ok := formatsSeen[f]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of export.formats[%d]", prefix, f, prev))
		}
		formatsSeen[f] = i
	}
	if cfg.Export.MinConfidence < 0 || cfg.Export.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("export.min_confidence %.2f is out of range [0, 1]", cfg.Export.MinConfidence))
	}

	// Narration.
	if cfg.Narration.Speed != 0 && (cfg.Narration.Speed < 0.5 || cfg.Narration.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("narration.speed %.2f is out of range [0.5, 2.0]", cfg.Narration.Speed))
	}
	if cfg.Narration.Format != "" && !types.AudioFormat(cfg.Narration.Format).IsValid() {
		errs = append(errs, fmt.Errorf("narration.format %q is invalid; valid values: wav, mp3, ogg", cfg.Narration.Format))
	}
	if cfg.Export.DeckAudio && cfg.Backends.TTS.Name == "" {
		errs = append(errs, errors.New("export.deck_audio requires backends.tts to be configured"))
	}

	if url := cfg.Notify.DiscordWebhookURL; url != "" && !strings.HasPrefix(url, "https://") {
		errs = append(errs, fmt.Errorf("notify.discord_webhook_url %q is not an https URL", url))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
