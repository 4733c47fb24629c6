// Package app wires all Chronovox subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens storage and builds the
// verification pipeline, the age engine, the playback service and the HTTP
// server; Run serves until the context is cancelled; Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithRepository,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/chronovox/internal/age"
	"github.com/MrWong99/chronovox/internal/artifact"
	"github.com/MrWong99/chronovox/internal/config"
	"github.com/MrWong99/chronovox/internal/health"
	"github.com/MrWong99/chronovox/internal/identity"
	"github.com/MrWong99/chronovox/internal/observe"
	"github.com/MrWong99/chronovox/internal/pipeline"
	"github.com/MrWong99/chronovox/internal/playback"
	"github.com/MrWong99/chronovox/internal/playback/textshape"
	"github.com/MrWong99/chronovox/internal/profile"
	"github.com/MrWong99/chronovox/internal/profile/badgerstore"
	"github.com/MrWong99/chronovox/internal/profile/postgres"
	"github.com/MrWong99/chronovox/internal/resilience"
	"github.com/MrWong99/chronovox/internal/server"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
)

// Providers holds one value per provider slot. Nil means the provider is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	Embeddings embeddings.Provider

	// TTS is the primary synthesizer; TTSFallbacks are tried in order when
	// it fails.
	TTS          tts.Provider
	TTSFallbacks []tts.Provider

	// Text shapes playback text. Nil uses [textshape.Rules].
	Text textshape.Shaper
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	log            *slog.Logger
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	configPath     string

	// Subsystems, initialised in New and torn down in Shutdown.
	repo     profile.Repository
	store    *artifact.Store
	engine   *age.Engine
	extras   age.Extras
	verifier *pipeline.Verifier
	enroller *pipeline.Enroller
	playback *playback.Service
	server   *server.Server
	httpSrv  *http.Server
	watcher  *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRepository injects a profile repository instead of opening the
// configured backend. The App does not close an injected repository.
func WithRepository(r profile.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithLogger sets the application logger. When level is non-nil, log level
// changes from the config watcher are applied to it.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.log = l
		a.level = level
	}
}

// WithMetrics sets the metrics sink shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch makes the app poll path and hot-apply log level and
// verification changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. New performs all
// initialisation synchronously; on error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Profile repository ───────────────────────────────────────────
	if err := a.initRepository(ctx); err != nil {
		return fmt.Errorf("app: init repository: %w", err)
	}

	// ── 2. Artifact store ───────────────────────────────────────────────
	store, err := artifact.NewStore(a.cfg.Storage.DataDir,
		artifact.WithCacheSize(a.cfg.Storage.CacheSize),
		artifact.WithLogger(a.log),
	)
	if err != nil {
		return fmt.Errorf("app: init artifact store: %w", err)
	}
	a.store = store

	// ── 3. Verification pipeline ────────────────────────────────────────
	a.enroller = pipeline.NewEnroller(a.repo, nil, a.log)
	if a.providers.Embeddings != nil {
		normalizer := identity.NewNormalizer(a.providers.Embeddings,
			identity.WithTimeout(a.cfg.Verification.ExtractorTimeout),
			identity.WithMetrics(a.metrics),
		)
		a.verifier = pipeline.NewVerifier(a.repo, a.store, normalizer,
			pipeline.WithSettings(VerifierSettings(a.cfg.Verification)),
			pipeline.WithLogger(a.log),
			pipeline.WithMetrics(a.metrics),
		)
	} else {
		a.log.Warn("no embeddings provider configured; sample submission is disabled")
	}

	// ── 4. Age engine ───────────────────────────────────────────────────
	engine, extras, err := NewEngine(a.cfg.Age, a.log, a.metrics)
	if err != nil {
		return fmt.Errorf("app: init age engine: %w", err)
	}
	a.engine, a.extras = engine, extras

	// ── 5. Playback ─────────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		return fmt.Errorf("app: init playback: %w", err)
	}

	// ── 6. HTTP server ──────────────────────────────────────────────────
	srv, err := server.New(server.Deps{
		Repo:           a.repo,
		Enroller:       a.enroller,
		Verifier:       a.verifier,
		Playback:       a.playback,
		Engine:         a.engine,
		Extras:         a.extras,
		Health:         health.New(health.Ping("profiles", a.repo), health.Probe("artifacts", a.store)),
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
		Logger:         a.log,
	})
	if err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv

	// ── 7. Config watcher ───────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig, config.WithWatchLogger(a.log))
		if err != nil {
			return fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
	}
	return nil
}

func (a *App) initRepository(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	st := a.cfg.Storage
	switch st.Backend {
	case config.BackendBadger:
		dir := st.BadgerDir
		if dir == "" {
			dir = filepath.Join(st.DataDir, "profiles")
		}
		s, err := badgerstore.Open(badgerstore.Options{Dir: dir, InMemory: st.BadgerInMemory, Logger: a.log})
		if err != nil {
			return err
		}
		a.repo = s
		a.closers = append(a.closers, s.Close)
		a.log.Info("profile store ready", "backend", "badger", "dir", dir, "in_memory", st.BadgerInMemory)

	case config.BackendPostgres:
		s, err := postgres.NewStore(ctx, st.PostgresDSN, st.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.repo = s
		a.closers = append(a.closers, s.Close)
		a.log.Info("profile store ready", "backend", "postgres", "dimensions", st.EmbeddingDimensions)

	default:
		a.repo = profile.NewMemoryStore()
		a.log.Info("profile store ready", "backend", "memory")
	}
	return nil
}

func (a *App) initPlayback() error {
	pcfg := a.cfg.Playback
	policy, err := playback.ParsePolicy(pcfg.BasePolicy)
	if err != nil {
		return err
	}
	opts := []playback.Option{
		playback.WithPolicy(policy),
		playback.WithExtras(a.extras),
		playback.WithSynthTimeout(pcfg.SynthTimeout),
		playback.WithLogger(a.log),
		playback.WithMetrics(a.metrics),
	}
	if synth := a.synthesizer(); synth != nil {
		opts = append(opts, playback.WithSynthesizer(synth))
	}
	if a.providers.Text != nil {
		opts = append(opts, playback.WithShaper(a.providers.Text))
	}
	svc, err := playback.NewService(a.repo, a.store, a.engine, pcfg.OutputDir, opts...)
	if err != nil {
		return err
	}
	a.playback = svc
	return nil
}

// synthesizer returns the primary TTS provider, wrapped in a fallback chain
// when fallbacks are configured.
func (a *App) synthesizer() tts.Provider {
	if a.providers.TTS == nil {
		return nil
	}
	if len(a.providers.TTSFallbacks) == 0 {
		return a.providers.TTS
	}
	fb := resilience.NewTTSFallback(a.providers.TTS, resilience.FallbackConfig{Logger: a.log})
	for _, p := range a.providers.TTSFallbacks {
		fb.AddFallback(p)
	}
	return fb
}

// VerifierSettings converts the verification config section. Zero fields
// keep the pipeline defaults, except ConfidenceFloor where zero disables the
// floor.
func VerifierSettings(v config.VerificationConfig) pipeline.Settings {
	s := pipeline.DefaultSettings()
	if v.Threshold > 0 {
		s.Threshold = v.Threshold
	}
	if v.MinDuration > 0 {
		s.MinDuration = v.MinDuration
		s.Quality.MinDuration = v.MinDuration
	}
	if v.Quality.MinSNRDB != 0 {
		s.Quality.MinSNRDB = v.Quality.MinSNRDB
	}
	if v.Quality.MinRMSDBFS != 0 {
		s.Quality.MinRMSDBFS = v.Quality.MinRMSDBFS
	}
	s.Policy.ConfidenceFloor = v.ConfidenceFloor
	return s
}

// NewEngine builds the age engine and its optional stages from the age
// config section.
func NewEngine(cfg config.AgeConfig, log *slog.Logger, m *observe.Metrics) (*age.Engine, age.Extras, error) {
	strategies := age.DefaultPitchStrategies()
	if len(cfg.PitchStrategies) > 0 {
		strategies = strategies[:0:0]
		for _, name := range cfg.PitchStrategies {
			s, err := age.PitchStrategyByName(name)
			if err != nil {
				return nil, age.Extras{}, err
			}
			strategies = append(strategies, s)
		}
	}

	x := age.Extras{
		Formants: cfg.FormantWarp,
		Post:     cfg.Post,
		Instability: age.Instability{
			Jitter:     cfg.Instability.Jitter,
			Shimmer:    cfg.Instability.Shimmer,
			TremorRate: cfg.Instability.TremorRate,
		},
		Seed: cfg.Seed,
	}
	if cfg.SpectralProfile != "" {
		p, err := age.LoadSpectralProfile(cfg.SpectralProfile)
		if err != nil {
			return nil, age.Extras{}, err
		}
		x.Spectral = p
	}

	e := age.New(
		age.WithPitchStrategies(strategies...),
		age.WithLogger(log),
		age.WithMetrics(m),
	)
	log.Info("age engine ready",
		"pitch_strategies", e.Strategies(),
		"spectral", x.Spectral != nil,
		"formant_warp", x.Formants,
		"post", x.Post,
	)
	return e, x, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Repository returns the profile repository.
func (a *App) Repository() profile.Repository { return a.repo }

// Store returns the artifact store.
func (a *App) Store() *artifact.Store { return a.store }

// Enroller returns the enrollment service.
func (a *App) Enroller() *pipeline.Enroller { return a.enroller }

// Verifier returns the sample verifier, or nil without an embeddings
// provider.
func (a *App) Verifier() *pipeline.Verifier { return a.verifier }

// Engine returns the age engine and the configured optional stages.
func (a *App) Engine() (*age.Engine, age.Extras) { return a.engine, a.extras }

// Playback returns the playback service.
func (a *App) Playback() *playback.Service { return a.playback }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on cfg.Server.ListenAddr and blocks until ctx is
// cancelled, then returns ctx.Err(). A listener failure is returned
// immediately.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.httpSrv = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.httpSrv.Serve(ln) }()

	a.log.Info("app running", "listen_addr", ln.Addr().String(), "verification", a.verifier != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ReloadConfig re-reads the watched config file now and applies it. It is a
// no-op without [WithConfigWatch].
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return nil
	}
	changed, err := a.watcher.Reload()
	if err != nil {
		return err
	}
	if !changed {
		a.log.Info("config reload: no changes")
	}
	return nil
}

// ApplyConfig hot-applies the reloadable parts of a config change. It is the
// [config.ChangeFunc] used by Run's watcher.
func (a *App) ApplyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VerificationChanged && a.verifier != nil {
		a.verifier.SetSettings(VerifierSettings(d.NewVerification))
		a.log.Info("verification settings reloaded",
			"threshold", d.NewVerification.Threshold,
			"confidence_floor", d.NewVerification.ConfidenceFloor,
		)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to a slog level.
func SlogLevel(level config.LogLevel) slog.Level {
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

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, then closes subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				a.log.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs closers without a deadline after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
