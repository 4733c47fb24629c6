package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"speechbrain"},
	"tts":        {"coqui"},
	"text":       {"rules", "openai"},
}

// ValidPitchStrategies lists the pitch strategy names the age engine knows.
var ValidPitchStrategies = []string{"psola", "vocoder", "phase_vocoder"}

// ValidPostEngines lists the accepted age.post values.
var ValidPostEngines = []string{"", "none", "off", "dsp", "micro"}

// ValidPackSteps lists the accepted age.pack_step values.
var ValidPackSteps = []int{1, 2, 5, 10}

// ValidBasePolicies lists the accepted playback.base_policy values.
var ValidBasePolicies = []string{"nearest_age", "most_recent"}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultDataDir             = "data"
	DefaultEmbeddingDimensions = 192
	DefaultCacheSize           = 256
	DefaultThreshold           = 0.75
	DefaultMinDuration         = 10 * time.Second
	DefaultExtractorTimeout    = 30 * time.Second
	DefaultMinSNRDB            = 15.0
	DefaultMinRMSDBFS          = -45.0
	DefaultPackStep            = 5
	DefaultOutputDir           = "outputs"
	DefaultSynthTimeout        = 60 * time.Second
	DefaultMaxUploadBytes      = 64 << 20
)

// Default returns a config with every default applied. It is what an empty
// YAML file loads as.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults. Explicit
// values are kept, so a zero quality threshold cannot be configured.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = DefaultMaxUploadBytes
	}

	st := &cfg.Storage
	if st.Backend == "" {
		st.Backend = BackendMemory
	}
	if st.DataDir == "" {
		st.DataDir = DefaultDataDir
	}
	if st.EmbeddingDimensions == 0 {
		st.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if st.CacheSize == 0 {
		st.CacheSize = DefaultCacheSize
	}

	v := &cfg.Verification
	if v.Threshold == 0 {
		v.Threshold = DefaultThreshold
	}
	if v.MinDuration == 0 {
		v.MinDuration = DefaultMinDuration
	}
	if v.ExtractorTimeout == 0 {
		v.ExtractorTimeout = DefaultExtractorTimeout
	}
	if v.Quality.MinSNRDB == 0 {
		v.Quality.MinSNRDB = DefaultMinSNRDB
	}
	if v.Quality.MinRMSDBFS == 0 {
		v.Quality.MinRMSDBFS = DefaultMinRMSDBFS
	}

	a := &cfg.Age
	if len(a.PitchStrategies) == 0 {
		a.PitchStrategies = []string{"psola", "vocoder"}
	}
	if a.Post == "" {
		a.Post = "none"
	}
	if a.PackStep == 0 {
		a.PackStep = DefaultPackStep
	}

	p := &cfg.Playback
	if p.BasePolicy == "" {
		p.BasePolicy = ValidBasePolicies[0]
	}
	if p.OutputDir == "" {
		p.OutputDir = DefaultOutputDir
	}
	if p.SynthTimeout == 0 {
		p.SynthTimeout = DefaultSynthTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Storage
	st := cfg.Storage
	if st.Backend != "" && !st.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, badger, postgres", st.Backend))
	}
	if st.Backend == BackendPostgres && st.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
	}
	if st.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must be positive", st.EmbeddingDimensions))
	}
	if st.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("storage.cache_size %d must not be negative", st.CacheSize))
	}
	if st.Backend != BackendBadger && (st.BadgerDir != "" || st.BadgerInMemory) {
		slog.Warn("storage.badger_* settings are ignored for this backend", "backend", st.Backend)
	}

	// Provider names: unknown ones only warn.
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("text", cfg.Providers.Text.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; sample verification will be unavailable")
	}

	// Verification
	errs = append(errs, ValidateVerification(cfg.Verification)...)

	// Age
	a := cfg.Age
	for i, name := range a.PitchStrategies {
		if !slices.Contains(ValidPitchStrategies, strings.ToLower(name)) {
			errs = append(errs, fmt.Errorf("age.pitch_strategies[%d] %q is invalid; valid values: %s", i, name, strings.Join(ValidPitchStrategies, ", ")))
		}
	}
	if !slices.Contains(ValidPostEngines, strings.ToLower(a.Post)) {
		errs = append(errs, fmt.Errorf("age.post %q is invalid; valid values: none, off, dsp, micro", a.Post))
	}
	if a.Instability.Jitter < 0 || a.Instability.Shimmer < 0 || a.Instability.TremorRate < 0 {
		errs = append(errs, errors.New("age.instability values must not be negative"))
	}
	if a.PackStep != 0 && !slices.Contains(ValidPackSteps, a.PackStep) {
		errs = append(errs, fmt.Errorf("age.pack_step %d is invalid; valid values: 1, 2, 5, 10", a.PackStep))
	}
	if a.PackConcurrency < 0 {
		errs = append(errs, fmt.Errorf("age.pack_concurrency %d must not be negative", a.PackConcurrency))
	}

	// Playback
	if p := cfg.Playback.BasePolicy; p != "" && !slices.Contains(ValidBasePolicies, strings.ToLower(p)) {
		errs = append(errs, fmt.Errorf("playback.base_policy %q is invalid; valid values: nearest_age, most_recent", p))
	}
	if cfg.Playback.SynthTimeout < 0 {
		errs = append(errs, errors.New("playback.synth_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// ValidateVerification checks the hot-reloadable verification section.
func ValidateVerification(v VerificationConfig) []error {
	var errs []error
	if v.Threshold <= 0 || v.Threshold > 1 {
		errs = append(errs, fmt.Errorf("verification.threshold %.3f is out of range (0, 1]", v.Threshold))
	}
	if v.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("verification.min_duration %s must not be negative", v.MinDuration))
	}
	if v.ConfidenceFloor < 0 || v.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("verification.confidence_floor %.3f is out of range [0, 1]", v.ConfidenceFloor))
	}
	if v.ExtractorTimeout < 0 {
		errs = append(errs, fmt.Errorf("verification.extractor_timeout %s must not be negative", v.ExtractorTimeout))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
