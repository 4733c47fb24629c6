// Package observe provides the observability primitives for Chronovox:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// scraping through [Telemetry.MetricsHandler]. Production
// code uses [DefaultMetrics]; tests build an isolated instance with
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Chronovox metrics.
const meterName = "github.com/MrWong99/chronovox"

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// ── Latency ─────────────────────────────────────────────────────────

	// VerifyDuration covers one full sample submission, load to persist.
	VerifyDuration metric.Float64Histogram

	// EmbedDuration tracks the external speaker-embedding extractor.
	EmbedDuration metric.Float64Histogram

	// AgeDuration tracks one run of the age transformation engine.
	AgeDuration metric.Float64Histogram

	// SynthDuration tracks the external neural synthesizer.
	SynthDuration metric.Float64Histogram

	// HTTPRequestDuration is recorded by [Middleware]. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram

	// ── Counters ────────────────────────────────────────────────────────

	// Decisions counts version decisions. Attribute: action.
	Decisions metric.Int64Counter

	// Rejections counts hard rejections. Attribute: reason.
	Rejections metric.Int64Counter

	// QualitySoftFails counts samples that passed with a confidence penalty.
	QualitySoftFails metric.Int64Counter

	// PitchShifts counts pitch shift runs. Attributes: strategy, status.
	PitchShifts metric.Int64Counter

	// Playbacks counts playback results. Attribute: mode.
	Playbacks metric.Int64Counter

	// ProviderRequests counts external provider calls.
	// Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts external provider failures.
	// Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ── Gauges ──────────────────────────────────────────────────────────

	// InflightSubmissions is the number of samples currently being processed.
	InflightSubmissions metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds. Whole-utterance DSP and
// neural synthesis run well past typical request latencies.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.VerifyDuration, "chronovox.verify.duration", "Latency of a full sample submission."},
		{&met.EmbedDuration, "chronovox.embed.duration", "Latency of speaker embedding extraction."},
		{&met.AgeDuration, "chronovox.age.duration", "Latency of the age transformation engine."},
		{&met.SynthDuration, "chronovox.synth.duration", "Latency of neural speech synthesis."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	var err error
	if met.HTTPRequestDuration, err = m.Float64Histogram("chronovox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Decisions, "chronovox.decisions", "Version decisions by action."},
		{&met.Rejections, "chronovox.rejections", "Hard rejections by reason."},
		{&met.QualitySoftFails, "chronovox.quality.soft_fails", "Samples accepted with a quality penalty."},
		{&met.PitchShifts, "chronovox.pitch_shifts", "Pitch shift runs by strategy and status."},
		{&met.Playbacks, "chronovox.playbacks", "Playback results by mode."},
		{&met.ProviderRequests, "chronovox.provider.requests", "External provider requests by provider, kind, and status."},
		{&met.ProviderErrors, "chronovox.provider.errors", "External provider errors by provider and kind."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	if met.InflightSubmissions, err = m.Int64UpDownCounter("chronovox.inflight_submissions",
		metric.WithDescription("Samples currently being verified."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. It panics if instrument creation fails, which
// the global provider never does.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDecision counts one version decision.
func (m *Metrics) RecordDecision(ctx context.Context, action string) {
	m.Decisions.Add(ctx, 1, metric.WithAttributes(Attr("action", action)))
}

// RecordRejection counts one hard rejection.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	m.Rejections.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordPitchShift counts one pitch shift run.
func (m *Metrics) RecordPitchShift(ctx context.Context, strategy, status string) {
	m.PitchShifts.Add(ctx, 1, metric.WithAttributes(
		Attr("strategy", strategy),
		Attr("status", status),
	))
}

// RecordPlayback counts one playback result.
func (m *Metrics) RecordPlayback(ctx context.Context, mode string) {
	m.Playbacks.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode)))
}

// RecordProviderRequest counts one external provider request.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts one external provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}
