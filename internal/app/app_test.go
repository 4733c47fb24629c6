package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/chronovox/internal/app"
	"github.com/MrWong99/chronovox/internal/config"
	"github.com/MrWong99/chronovox/internal/playback"
	profilemock "github.com/MrWong99/chronovox/internal/profile/mock"
	"github.com/MrWong99/chronovox/pkg/audio"
	embmock "github.com/MrWong99/chronovox/pkg/provider/embeddings/mock"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
	ttsmock "github.com/MrWong99/chronovox/pkg/provider/tts/mock"
)

var discard = slog.New(slog.DiscardHandler)

// testConfig returns a default config rooted in temp directories.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Playback.OutputDir = t.TempDir()
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		Embeddings: &embmock.Provider{EmbedResult: []float32{1, 0, 0, 0}, DimensionsValue: 4},
	}
}

func tone(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(seconds * audio.DefaultSampleRate)
	x := make([]float64, n)
	for i := range x {
		tt := float64(i) / audio.DefaultSampleRate
		x[i] = 0.3*math.Sin(2*math.Pi*140*tt) + 0.1*math.Sin(2*math.Pi*280*tt)
	}
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, audio.Clip{Samples: x, SampleRate: audio.DefaultSampleRate}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func serve(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
	return rec
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	repo := profilemock.New()
	application, err := app.New(context.Background(), testConfig(t), testProviders(),
		app.WithRepository(repo),
		app.WithLogger(discard, nil),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Verifier() == nil {
		t.Error("Verifier() = nil with an embeddings provider")
	}
	if application.Repository() != repo {
		t.Error("injected repository not used")
	}

	if rec := serve(t, application.Handler(), http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d: %s", rec.Code, rec.Body)
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	for _, c := range repo.Calls() {
		if c.Method == "Close" {
			t.Error("Shutdown closed an injected repository")
		}
	}
}

func TestNew_WithoutEmbeddings(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), nil, app.WithLogger(discard, nil))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Verifier() != nil {
		t.Error("Verifier() should be nil without an embeddings provider")
	}
	rec := serve(t, application.Handler(), http.MethodPost, "/v1/profiles/alice/samples", tone(t, 1))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("samples route = %d, want 503", rec.Code)
	}
}

func TestNew_BadgerInMemory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendBadger
	cfg.Storage.BadgerInMemory = true

	application, err := app.New(context.Background(), cfg, testProviders(), app.WithLogger(discard, nil))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if _, err := application.Enroller().Create(context.Background(), "alice", "1990-05-17"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := application.Repository().Load(context.Background(), "alice"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{name: "pitch strategy", mutate: func(c *config.Config) { c.Age.PitchStrategies = []string{"rubberband"} }, wantSub: "age engine"},
		{name: "spectral profile", mutate: func(c *config.Config) { c.Age.SpectralProfile = "/nonexistent/profile.json" }, wantSub: "age engine"},
		{name: "base policy", mutate: func(c *config.Config) { c.Playback.BasePolicy = "oldest" }, wantSub: "playback"},
		{name: "postgres dsn", mutate: func(c *config.Config) {
			c.Storage.Backend = config.BackendPostgres
			c.Storage.PostgresDSN = "postgres://user@localhost:notaport/chronovox"
		}, wantSub: "repository"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := app.New(context.Background(), cfg, testProviders(), app.WithLogger(discard, nil))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Age
	cfg.PitchStrategies = []string{"vocoder", "psola"}
	cfg.FormantWarp = true
	cfg.Post = "micro"
	cfg.Instability = config.InstabilityConfig{Jitter: 0.3, Shimmer: 0.01, TremorRate: 5}
	cfg.Seed = 42

	e, x, err := app.NewEngine(cfg, discard, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := e.Strategies(); !slices.Equal(got, []string{"vocoder", "psola"}) {
		t.Errorf("Strategies() = %v", got)
	}
	if !x.Formants || x.Post != "micro" || x.Seed != 42 || x.Instability.TremorRate != 5 {
		t.Errorf("extras = %+v", x)
	}
	if x.Spectral != nil {
		t.Error("spectral stage enabled without a profile path")
	}
}

func TestVerifierSettings(t *testing.T) {
	t.Parallel()

	v := config.Default().Verification
	v.Threshold = 0.8
	v.MinDuration = 12 * time.Second
	v.ConfidenceFloor = 0.4
	v.Quality.MinSNRDB = 20

	s := app.VerifierSettings(v)
	if s.Threshold != 0.8 || s.MinDuration != 12*time.Second || s.Quality.MinDuration != 12*time.Second {
		t.Errorf("settings = %+v", s)
	}
	if s.Quality.MinSNRDB != 20 || s.Quality.MinRMSDBFS != config.DefaultMinRMSDBFS {
		t.Errorf("quality = %+v", s.Quality)
	}
	if s.Policy.ConfidenceFloor != 0.4 {
		t.Errorf("policy = %+v", s.Policy)
	}

	zero := app.VerifierSettings(config.VerificationConfig{})
	if zero.Threshold <= 0 || zero.MinDuration <= 0 {
		t.Errorf("zero config should keep defaults, got %+v", zero)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	cfg := testConfig(t)
	application, err := app.New(context.Background(), cfg, testProviders(), app.WithLogger(discard, &level))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	next := testConfig(t)
	next.Server.LogLevel = config.LogDebug
	next.Verification.ConfidenceFloor = 0.5
	application.ApplyConfig(cfg, next, config.Diff(cfg, next))

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if got := application.Verifier().Settings().Policy.ConfidenceFloor; got != 0.5 {
		t.Errorf("ConfidenceFloor = %v, want 0.5", got)
	}
}

func TestReloadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chronovox.yaml")
	write := func(body string) {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("server:\n  log_level: info\nverification:\n  threshold: 0.75\n")

	var level slog.LevelVar
	application, err := app.New(context.Background(), testConfig(t), testProviders(),
		app.WithLogger(discard, &level),
		app.WithConfigWatch(path),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = application.Shutdown(context.Background()) })

	write("server:\n  log_level: warn\nverification:\n  threshold: 0.9\n")
	if err := application.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if level.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", level.Level())
	}
	if got := application.Verifier().Settings().Threshold; got != 0.9 {
		t.Errorf("Threshold = %v, want 0.9", got)
	}

	write("server:\n  log_level: loud\n")
	if err := application.ReloadConfig(); err == nil {
		t.Error("expected error for an invalid edit")
	}
	if level.Level() != slog.LevelWarn {
		t.Errorf("invalid edit changed level to %v", level.Level())
	}
}

func TestReloadConfig_WithoutWatch(t *testing.T) {
	t.Parallel()
	application, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithLogger(discard, nil))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := application.ReloadConfig(); err != nil {
		t.Errorf("ReloadConfig without watch = %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTTSFallbackWiring(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down"), NameValue: "primary"}
	backup := &ttsmock.Provider{
		SynthesizeResult: audio.Clip{Samples: make([]float64, 1600), SampleRate: audio.DefaultSampleRate},
		NameValue:        "backup",
	}
	providers := testProviders()
	providers.TTS = primary
	providers.TTSFallbacks = []tts.Provider{backup}

	application, err := app.New(context.Background(), testConfig(t), providers, app.WithLogger(discard, nil))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h := application.Handler()

	if rec := serve(t, h, http.MethodPost, "/v1/profiles", []byte(`{"user_id":"alice","date_of_birth":"1990-05-17"}`)); rec.Code != http.StatusCreated {
		t.Fatalf("enroll = %d: %s", rec.Code, rec.Body)
	}
	if rec := serve(t, h, http.MethodPost, "/v1/profiles/alice/samples", tone(t, 11)); rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d: %s", rec.Code, rec.Body)
	}

	rec := serve(t, h, http.MethodGet, "/v1/profiles/alice/playback?age=70&text=hello", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("playback = %d: %s", rec.Code, rec.Body)
	}
	var res playback.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Mode != playback.ModeAged || res.Reason != playback.ReasonAgedNeural {
		t.Errorf("result = %+v", res)
	}
	if len(primary.Calls()) != 1 || len(backup.Calls()) != 1 {
		t.Errorf("calls primary=%d backup=%d, want 1 each", len(primary.Calls()), len(backup.Calls()))
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), testProviders(), app.WithLogger(discard, nil))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
