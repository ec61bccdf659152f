package asr_test

import (
	"testing"

	"github.com/aulavox/aulavox/pkg/recognizer/asr"
)

func TestConfigForPresets(t *testing.T) {
	cases := []struct {
		preset    asr.Preset
		model     string
		language  string
		beamSize  int
		wordTimes bool
		hasPrompt bool
	}{
		{asr.PresetHighPrecision, "large-v3", "it", 10, true, true},
		{asr.PresetBalanced, "medium", "it", 5, true, true},
		{asr.PresetFast, "base", "it", 1, false, false},
		{asr.PresetMultilingualAuto, "large-v3", "", 5, true, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.preset), func(t *testing.T) {
			cfg, err := asr.ConfigFor(tc.preset)
			if err != nil {
				t.Fatalf("ConfigFor: %v", err)
			}
			if cfg.Preset != tc.preset {
				t.Errorf("Preset = %q, want %q", cfg.Preset, tc.preset)
			}
			if cfg.Model != tc.model {
				t.Errorf("Model = %q, want %q", cfg.Model, tc.model)
			}
			if cfg.Language != tc.language {
				t.Errorf("Language = %q, want %q", cfg.Language, tc.language)
			}
			if cfg.BeamSize != tc.beamSize {
				t.Errorf("BeamSize = %d, want %d", cfg.BeamSize, tc.beamSize)
			}
			if cfg.WordTimestamps != tc.wordTimes {
				t.Errorf("WordTimestamps = %v, want %v", cfg.WordTimestamps, tc.wordTimes)
			}
			if (cfg.InitialPrompt != "") != tc.hasPrompt {
				t.Errorf("InitialPrompt presence = %v, want %v", cfg.InitialPrompt != "", tc.hasPrompt)
			}
			if len(cfg.Temperatures) == 0 {
				t.Errorf("Temperatures is empty")
			}
		})
	}
}

func TestConfigForUnknownPreset(t *testing.T) {
	if _, err := asr.ConfigFor("TURBO"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestPresetIsValid(t *testing.T) {
	for _, p := range asr.Presets {
		if !p.IsValid() {
			t.Errorf("%q.IsValid() = false", p)
		}
	}
	if asr.Preset("HIGHEST").IsValid() {
		t.Errorf("invalid preset accepted")
	}
}

func TestAudioDurationSec(t *testing.T) {
	a := asr.Audio{PCM: make([]byte, 16000*2), SampleRate: 16000, Channels: 1}
	if got := a.DurationSec(); got != 1.0 {
		t.Errorf("DurationSec = %v, want 1.0", got)
	}

	stereo := asr.Audio{PCM: make([]byte, 16000*4), SampleRate: 16000, Channels: 2}
	if got := stereo.DurationSec(); got != 1.0 {
		t.Errorf("stereo DurationSec = %v, want 1.0", got)
	}

	if got := (asr.Audio{}).DurationSec(); got != 0 {
		t.Errorf("zero Audio DurationSec = %v, want 0", got)
	}
}
