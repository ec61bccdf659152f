package config

import "reflect"

// ConfigDiff describes what changed between two configs and how the change
// can be applied. Hot-applicable blocks are tracked individually; anything
// else that differs lands in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged covers the hot-applicable pipeline knobs: retry
	// budget and default preset. Worker count requires a restart and is
	// reported there.
	PipelineChanged bool

	// ResearchChanged covers breaker tuning, parallelism and the cache
	// sweeper interval. Source entries require a restart.
	ResearchChanged bool

	ExportChanged    bool
	NarrationChanged bool
	UploadChanged    bool

	// RestartRequired lists config blocks that differ but cannot be
	// applied to a running service.
	RestartRequired []string
}

// HotApplicable reports whether the diff carries any change a running
// service can absorb.
func (d ConfigDiff) HotApplicable() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.ResearchChanged ||
		d.ExportChanged || d.NarrationChanged || d.UploadChanged
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.HotApplicable() && len(d.RestartRequired) == 0
}

// Diff compares old and new configs. Blocks the service can re-read per
// operation (presets, retry budgets, confidence floors, narration voice) are
// flagged hot; infrastructure blocks (listen address, database, queue,
// storage, backends, sources, notifications) are reported restart-required.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.MaxRetries != new.Pipeline.MaxRetries ||
		old.Pipeline.DefaultPreset != new.Pipeline.DefaultPreset {
		d.PipelineChanged = true
	}
	if old.Research.Breaker != new.Research.Breaker ||
		old.Research.MaxParallel != new.Research.MaxParallel ||
		old.Research.CacheCleanupInterval != new.Research.CacheCleanupInterval {
		d.ResearchChanged = true
	}
	if !reflect.DeepEqual(old.Export, new.Export) {
		d.ExportChanged = true
	}
	if old.Narration != new.Narration {
		d.NarrationChanged = true
	}
	if old.Upload != new.Upload {
		d.UploadChanged = true
	}

	restart := func(block string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, block)
		}
	}
	restart("server", old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("database", old.Database != new.Database)
	restart("queue", old.Queue != new.Queue)
	restart("storage", old.Storage != new.Storage)
	restart("pipeline.workers", old.Pipeline.Workers != new.Pipeline.Workers)
	restart("backends", !reflect.DeepEqual(old.Backends, new.Backends))
	restart("lexicon", old.Lexicon != new.Lexicon)
	restart("research.sources", !reflect.DeepEqual(old.Research.Sources, new.Research.Sources))
	restart("notify", old.Notify != new.Notify)

	return d
}
