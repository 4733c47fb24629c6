package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/chronovox/internal/age"
	"github.com/MrWong99/chronovox/internal/artifact"
	"github.com/MrWong99/chronovox/internal/observe"
	"github.com/MrWong99/chronovox/internal/playback/textshape"
	"github.com/MrWong99/chronovox/internal/profile"
	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
)

// DefaultSynthTimeout bounds one call to the neural synthesizer.
const DefaultSynthTimeout = 60 * time.Second

// Result is the tagged outcome of [Service.Play].
type Result struct {
	Mode Mode `json:"mode"`

	// AudioRef is the filesystem path of the audio to play. Empty for NONE
	// and ERROR.
	AudioRef string `json:"audio_path,omitempty"`

	Reason    string  `json:"reason"`
	Alpha     float64 `json:"alpha,omitempty"`
	Relation  string  `json:"relation,omitempty"`
	VersionID int64   `json:"version_id,omitempty"`
}

// Service executes playback plans.
type Service struct {
	repo   profile.Repository
	store  *artifact.Store
	engine *age.Engine

	synth        tts.Provider
	shaper       textshape.Shaper
	extras       age.Extras
	outDir       string
	policy       BasePolicy
	synthTimeout time.Duration

	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures a [Service].
type Option func(*Service)

// WithSynthesizer enables neural synthesis for requests that carry text.
func WithSynthesizer(p tts.Provider) Option {
	return func(s *Service) { s.synth = p }
}

// WithShaper replaces the default [textshape.Rules] shaper.
func WithShaper(sh textshape.Shaper) Option {
	return func(s *Service) { s.shaper = sh }
}

// WithExtras enables optional age engine stages for DSP renderings.
func WithExtras(x age.Extras) Option {
	return func(s *Service) { s.extras = x }
}

// WithPolicy sets the default base policy.
func WithPolicy(p BasePolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithSynthTimeout bounds each synthesizer call. Non-positive values are
// ignored.
func WithSynthTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.synthTimeout = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a playback service that writes rendered audio to
// outDir, creating it if necessary.
func NewService(repo profile.Repository, store *artifact.Store, engine *age.Engine, outDir string, opts ...Option) (*Service, error) {
	if repo == nil || store == nil || engine == nil {
		return nil, errors.New("playback: repository, artifact store and engine are required")
	}
	if outDir == "" {
		return nil, errors.New("playback: output directory must not be empty")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create output dir: %w", err)
	}
	s := &Service{
		repo:         repo,
		store:        store,
		engine:       engine,
		shaper:       textshape.Rules{},
		outDir:       outDir,
		policy:       DefaultPolicy,
		synthTimeout: DefaultSynthTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// OutDir returns the directory rendered files are written to.
func (s *Service) OutDir() string { return s.outDir }

// Play voices userID at targetAge. A non-zero versionID asks for that
// stored recording verbatim. With text and a configured synthesizer an
// aged plan is rendered by the synthesizer, otherwise by the age engine.
//
// Missing artifacts produce a [ModeError] result with a nil error. An
// unknown user, a repository failure or a synthesizer failure is returned
// as an error.
func (s *Service) Play(ctx context.Context, userID string, targetAge float64, text string, versionID int64) (res Result, err error) {
	ctx, span := observe.StartUserSpan(ctx, "playback.play", userID)
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx, s.log).With("user_id", userID, "target_age", targetAge)

	if math.IsNaN(targetAge) || math.IsInf(targetAge, 0) {
		return Result{}, fmt.Errorf("playback: invalid target age %v", targetAge)
	}

	p, err := s.repo.Load(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("playback: load profile %q: %w", userID, err)
	}

	plan := Decide(p, Request{TargetAge: targetAge, VersionID: versionID, Policy: s.policy})
	res, err = s.execute(ctx, log, p, plan, targetAge, text)
	if s.metrics != nil {
		s.metrics.RecordPlayback(ctx, string(res.Mode))
	}
	if err != nil {
		log.Warn("playback failed", "mode", res.Mode, "error", err)
		return res, err
	}
	log.Info("playback", "mode", res.Mode, "version_id", res.VersionID, "reason", res.Reason)
	return res, nil
}

func (s *Service) execute(ctx context.Context, log *slog.Logger, p *profile.Profile, plan Plan, targetAge float64, text string) (Result, error) {
	switch plan.Mode {
	case ModeRecorded:
		v := plan.Version
		if v.AudioPath == "" || !s.store.Exists(v.AudioPath) {
			return Result{Mode: ModeError, Reason: ReasonRecordedMissing, VersionID: v.ID}, nil
		}
		return Result{
			Mode:      ModeRecorded,
			AudioRef:  s.store.Path(v.AudioPath),
			Reason:    ReasonRecorded,
			VersionID: v.ID,
		}, nil

	case ModeAged:
		return s.aged(ctx, log, p, plan, targetAge, text)
	}
	return Result{Mode: ModeNone, Reason: plan.Reason}, nil
}

func (s *Service) aged(ctx context.Context, log *slog.Logger, p *profile.Profile, plan Plan, targetAge float64, text string) (Result, error) {
	base := plan.Version
	res := Result{
		Mode:      ModeAged,
		Alpha:     math.Round(plan.Alpha*1e4) / 1e4,
		Relation:  plan.Relation,
		VersionID: base.ID,
	}

	if base.AudioPath == "" {
		return errorResult(base.ID, ReasonBaseMissing), nil
	}
	ref, err := s.store.LoadAudio(base.AudioPath)
	if errors.Is(err, artifact.ErrNotFound) {
		return errorResult(base.ID, ReasonBaseMissing), nil
	}
	if err != nil {
		return errorResult(base.ID, ReasonBaseMissing), fmt.Errorf("playback: load base audio: %w", err)
	}

	var out audio.Clip
	if s.synth != nil && strings.TrimSpace(text) != "" {
		out, err = s.synthesize(ctx, log, p.UserID, base, ref, targetAge, text)
		if err != nil {
			return errorResult(base.ID, ReasonSynthFailed), err
		}
		res.Reason = ReasonAgedNeural
	} else {
		out, err = s.engine.Render(ctx, ref, targetAge, s.extras)
		if err != nil {
			return errorResult(base.ID, ReasonRenderFailed), fmt.Errorf("playback: render: %w", err)
		}
		res.Reason = ReasonAged
	}

	path := filepath.Join(s.outDir, OutputName(p.UserID, targetAge))
	if err := audio.WriteFile(path, out); err != nil {
		return errorResult(base.ID, ReasonRenderFailed), fmt.Errorf("playback: write output: %w", err)
	}
	res.AudioRef = path
	return res, nil
}

func (s *Service) synthesize(ctx context.Context, log *slog.Logger, userID string, base profile.Version, ref audio.Clip, targetAge float64, text string) (audio.Clip, error) {
	shaped, err := s.shaper.Shape(ctx, text, targetAge)
	if err != nil {
		log.Warn("text shaping failed, using raw text", "error", err)
		shaped = text
	}

	var emb []float32
	if base.EmbeddingPath != "" {
		emb, err = s.store.LoadEmbedding(base.EmbeddingPath)
		if err != nil {
			log.Warn("base embedding unavailable", "version_id", base.ID, "error", err)
			emb = nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.synthTimeout)
	defer cancel()

	start := time.Now()
	clip, err := s.synth.Synthesize(ctx, tts.Request{
		Text:      shaped,
		Reference: ref,
		VoiceKey:  fmt.Sprintf("%s_%d", userID, base.ID),
		Embedding: emb,
	})
	if s.metrics != nil {
		s.metrics.SynthDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			s.metrics.RecordProviderError(ctx, s.synth.Name(), "tts")
		}
		s.metrics.RecordProviderRequest(ctx, s.synth.Name(), "tts", status)
	}
	if err != nil {
		return audio.Clip{}, fmt.Errorf("playback: synthesize with %s: %w", s.synth.Name(), err)
	}
	if len(clip.Samples) == 0 {
		return audio.Clip{}, fmt.Errorf("playback: synthesize with %s: empty clip", s.synth.Name())
	}
	return clip, nil
}

// OutputName is the file name of an aged rendering. The random suffix keeps
// concurrent renders for the same user and age apart.
func OutputName(userID string, targetAge float64) string {
	return fmt.Sprintf("%s_aged_%d_%s.wav", userID, int(math.Round(targetAge)), uuid.NewString()[:8])
}

func errorResult(versionID int64, reason string) Result {
	return Result{Mode: ModeError, Reason: reason, VersionID: versionID}
}
