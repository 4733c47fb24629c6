// Command chronovox is the main entry point for the Chronovox voice identity
// and age rendering server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/chronovox/internal/app"
	"github.com/MrWong99/chronovox/internal/config"
	"github.com/MrWong99/chronovox/internal/playback/textshape"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings/speechbrain"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
	"github.com/MrWong99/chronovox/pkg/provider/tts/coqui"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chronovox: %v\n", err)
		return 1
	}
	return 0
}

// globals holds the persistent flags shared by all subcommands.
type globals struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "chronovox",
		Short: "Voice identity verification and age rendering",
		Long: `Chronovox keeps a versioned voice profile per speaker and renders a
speaker's voice at any target age.

Commands:
  serve   - run the HTTP API
  enroll  - create a speaker profile
  verify  - submit a recorded sample for a speaker
  play    - resolve playback for a speaker at a target age
  age     - render a WAV file at a target age
  pack    - render a WAV file at every age into a sample pack`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "chronovox.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(g),
		newEnrollCmd(g),
		newVerifyCmd(g),
		newPlayCmd(g),
		newAgeCmd(g),
		newPackCmd(g),
	)
	return root
}

// ── Configuration ─────────────────────────────────────────────────────────────

// loadConfig reads the config file. A missing file is only an error when the
// path was given explicitly; otherwise the defaults are used.
func (g *globals) loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	cfg, err := config.Load(g.configPath)
	found := err == nil
	switch {
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = config.Default()
	case err != nil:
		return nil, false, err
	}
	if g.logLevel != "" {
		lvl := config.LogLevel(g.logLevel)
		if !lvl.IsValid() {
			return nil, false, fmt.Errorf("invalid --log-level %q", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	return cfg, found, nil
}

// setup loads the config and installs the default logger.
func (g *globals) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, *slog.LevelVar, bool, error) {
	cfg, found, err := g.loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, false, err
	}
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	if !found {
		logger.Warn("config file not found, using defaults", "config", g.configPath)
	}
	return cfg, logger, level, found, nil
}

// openApp builds the application for one-shot commands.
func (g *globals) openApp(cmd *cobra.Command) (*app.App, *config.Config, error) {
	cfg, logger, level, _, err := g.setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cmd.Context(), cfg, providers, app.WithLogger(logger, level))
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("speechbrain", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []speechbrain.Option
		if entry.Timeout > 0 {
			opts = append(opts, speechbrain.WithTimeout(entry.Timeout))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, speechbrain.WithDimensions(dims))
		}
		return speechbrain.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		if rate := optInt(entry.Options, "output_sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		if n := optInt(entry.Options, "speaker_cache_size"); n > 0 {
			opts = append(opts, coqui.WithSpeakerCacheSize(n))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Text ──────────────────────────────────────────────────────────────────

	reg.RegisterText("rules", func(config.ProviderEntry) (textshape.Shaper, error) {
		return textshape.Rules{}, nil
	})

	reg.RegisterText("openai", func(entry config.ProviderEntry) (textshape.Shaper, error) {
		opts := []textshape.Option{textshape.WithLogger(logger)}
		if entry.BaseURL != "" {
			opts = append(opts, textshape.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, textshape.WithTimeout(entry.Timeout))
		}
		return textshape.NewLLM(entry.APIKey, entry.Model, opts...)
	})

	for _, kind := range []string{config.KindEmbeddings, config.KindTTS, config.KindText} {
		logger.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, err
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", p.ModelID())
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, err
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	for i, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("tts fallback %d: %w", i, err)
		}
		ps.TTSFallbacks = append(ps.TTSFallbacks, p)
		slog.Info("provider created", "kind", "tts_fallback", "name", entry.Name)
	}

	if name := cfg.Providers.Text.Name; name != "" {
		p, err := reg.CreateText(cfg.Providers.Text)
		if err != nil {
			return nil, err
		}
		ps.Text = p
		slog.Info("provider created", "kind", "text", "name", name)
	}

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger whose level can be changed at runtime
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
