package age

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/MrWong99/chronovox/internal/observe"
	"github.com/MrWong99/chronovox/internal/resilience"
	"github.com/MrWong99/chronovox/pkg/audio"
)

// Engine runs the age transformation chain. Its only configuration is the
// ordered list of pitch strategies; all other stages are fixed functions of
// the target age. An Engine is safe for concurrent use.
type Engine struct {
	strategies []PitchStrategy
	pitch      *resilience.FallbackGroup[PitchStrategy]
	log        *slog.Logger
	metrics    *observe.Metrics
}

// Option configures an [Engine].
type Option func(*Engine)

// WithPitchStrategies replaces the pitch strategy try order. An empty list
// keeps [DefaultPitchStrategies].
func WithPitchStrategies(strategies ...PitchStrategy) Option {
	return func(e *Engine) {
		if len(strategies) == 0 {
			return
		}
		e.strategies = strategies
	}
}

// WithLogger sets the logger used for strategy fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics enables latency and strategy metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine with [DefaultPitchStrategies].
func New(opts ...Option) *Engine {
	e := &Engine{
		strategies: DefaultPitchStrategies(),
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	e.pitch = newPitchGroup(e.strategies, e.log)
	return e
}

func newPitchGroup(strategies []PitchStrategy, log *slog.Logger) *resilience.FallbackGroup[PitchStrategy] {
	cfg := resilience.FallbackConfig{Stateless: true, Logger: log}
	g := resilience.NewFallbackGroup(strategies[0], strategies[0].Name(), cfg)
	for _, s := range strategies[1:] {
		g.AddFallback(s.Name(), s)
	}
	return g
}

// Strategies returns the configured pitch strategy names in try order.
func (e *Engine) Strategies() []string { return e.pitch.Names() }

var defaultEngine = New()

// Apply renders x at targetAge with the default engine. See [Engine.Apply].
func Apply(x []float64, sampleRate int, targetAge float64) []float64 {
	return defaultEngine.Apply(x, sampleRate, targetAge)
}

// Apply renders x as if spoken at targetAge. The input is normalized first;
// at [BaseAge] that normalized input is returned unmodified. The output is
// always normalized, so its peak never exceeds 1. A non-positive sampleRate
// is treated as [audio.DefaultSampleRate].
func (e *Engine) Apply(x []float64, sampleRate int, targetAge float64) []float64 {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	w := ComputeWeights(targetAge)
	y := audio.Normalize(x)
	if w.Neutral() {
		return y
	}

	y = e.ShiftPitch(y, sampleRate, w.Semitones())
	y = ApplyTilt(y, w)
	y = ApplyFilters(y, sampleRate, w)
	return audio.Normalize(y)
}

// ApplyClip is [Engine.Apply] for a clip, with tracing and latency metrics.
func (e *Engine) ApplyClip(ctx context.Context, clip audio.Clip, targetAge float64) audio.Clip {
	ctx, span := observe.StartSpan(ctx, "age.apply")
	defer span.End()

	start := time.Now()
	out := e.Apply(clip.Samples, clip.SampleRate, targetAge)
	if e.metrics != nil {
		e.metrics.AgeDuration.Record(ctx, time.Since(start).Seconds())
	}

	rate := clip.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	return audio.Clip{Samples: out, SampleRate: rate}
}

// ShiftPitch runs the pitch strategies in order and returns the first valid
// result. Failures fall through silently to the next strategy. If every
// strategy fails the input is returned unshifted.
func (e *Engine) ShiftPitch(x []float64, sampleRate int, semitones float64) []float64 {
	if math.Abs(semitones) < minPitchShift || len(x) == 0 {
		return slices.Clone(x)
	}

	out, name, err := resilience.ExecuteNamed(e.pitch, func(s PitchStrategy) ([]float64, error) {
		y, err := s.Shift(x, sampleRate, semitones)
		if err != nil {
			e.recordPitch(s.Name(), "error")
			return nil, err
		}
		if err := checkShift(y, len(x)); err != nil {
			e.recordPitch(s.Name(), "invalid")
			return nil, err
		}
		return y, nil
	})
	if err != nil {
		e.log.Debug("age: pitch shift skipped", "semitones", semitones, "error", err)
		return slices.Clone(x)
	}
	e.recordPitch(name, "ok")
	return out
}

func (e *Engine) recordPitch(strategy, status string) {
	if e.metrics != nil {
		e.metrics.RecordPitchShift(context.Background(), strategy, status)
	}
}
