package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/chronovox/internal/app"
	"github.com/MrWong99/chronovox/internal/config"
	"github.com/MrWong99/chronovox/internal/observe"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.

The config file is polled for changes and re-read on SIGHUP; log level and
verification settings are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.serve(cmd)
		},
	}
}

func (g *globals) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, logger, level, found, err := g.setup(cmd)
	if err != nil {
		return err
	}

	logger.Info("chronovox starting",
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Storage.Backend,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cmd, cfg)

	opts := []app.Option{
		app.WithLogger(logger, level),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
	if found {
		opts = append(opts, app.WithConfigWatch(g.configPath))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	go reloadOnHangup(ctx, application, logger)
	logger.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, a *app.App, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading config")
			if err := a.ReloadConfig(); err != nil {
				logger.Warn("config reload failed", "err", err)
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(out, "║        Chronovox startup summary      ║")
	fmt.Fprintln(out, "╠═══════════════════════════════════════╣")
	printRow(cmd, "Backend", string(cfg.Storage.Backend))
	printRow(cmd, "Data dir", cfg.Storage.DataDir)
	printRow(cmd, "Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow(cmd, "TTS", providerLabel(cfg.Providers.TTS))
	printRow(cmd, "TTS fallbacks", fmt.Sprint(len(cfg.Providers.TTSFallbacks)))
	printRow(cmd, "Text shaper", providerLabel(cfg.Providers.Text))
	printRow(cmd, "Threshold", fmt.Sprintf("%.2f", cfg.Verification.Threshold))
	printRow(cmd, "Base policy", cfg.Playback.BasePolicy)
	printRow(cmd, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(out, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(cmd *cobra.Command, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "║  %-14s  : %-19s ║\n", label, value)
}
