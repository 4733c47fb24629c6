package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/chronovox/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.TTS = config.ProviderEntry{Name: "coqui", Options: map[string]any{"language": "en", "nested": map[string]any{"a": 1}}}

	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_VerificationChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Verification.ConfidenceFloor = 0.4

	d := config.Diff(old, new)
	if !d.VerificationChanged {
		t.Fatal("expected VerificationChanged=true")
	}
	if d.NewVerification.ConfidenceFloor != 0.4 {
		t.Errorf("NewVerification.ConfidenceFloor = %v", d.NewVerification.ConfidenceFloor)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{name: "listen addr", mutate: func(c *config.Config) { c.Server.ListenAddr = ":1" }, section: "server"},
		{name: "backend", mutate: func(c *config.Config) { c.Storage.Backend = config.BackendBadger }, section: "storage"},
		{name: "tts option", mutate: func(c *config.Config) { c.Providers.TTS.Options = map[string]any{"language": "fr"} }, section: "providers"},
		{name: "fallbacks", mutate: func(c *config.Config) { c.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "coqui"}} }, section: "providers"},
		{name: "pitch order", mutate: func(c *config.Config) { c.Age.PitchStrategies = []string{"vocoder", "psola"} }, section: "age"},
		{name: "post", mutate: func(c *config.Config) { c.Age.Post = "micro" }, section: "age"},
		{name: "output dir", mutate: func(c *config.Config) { c.Playback.OutputDir = "/x" }, section: "playback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.section) {
				t.Errorf("RestartRequired = %v, want %q", d.RestartRequired, tt.section)
			}
			if d.LogLevelChanged || d.VerificationChanged {
				t.Errorf("unexpected hot changes: %+v", d)
			}
		})
	}
}
