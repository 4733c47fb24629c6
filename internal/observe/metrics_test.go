package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"chronovox.verify.duration", m.VerifyDuration},
		{"chronovox.embed.duration", m.EmbedDuration},
		{"chronovox.age.duration", m.AgeDuration},
		{"chronovox.synth.duration", m.SynthDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.2)
		tc.h.Record(ctx, 3.5)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordDecision(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "CREATE_BASELINE")
	m.RecordDecision(ctx, "CREATE_VERSION")
	m.RecordDecision(ctx, "CREATE_VERSION")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chronovox.decisions", "action", "CREATE_VERSION"); got != 2 {
		t.Errorf("CREATE_VERSION = %d, want 2", got)
	}
	if got := sumFor(t, rm, "chronovox.decisions", "action", "CREATE_BASELINE"); got != 1 {
		t.Errorf("CREATE_BASELINE = %d, want 1", got)
	}
}

func TestRecordRejectionAndPlayback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRejection(ctx, "Audio too short")
	m.RecordPlayback(ctx, "AGED")
	m.RecordPitchShift(ctx, "vocoder", "ok")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chronovox.rejections", "reason", "Audio too short"); got != 1 {
		t.Errorf("rejections = %d, want 1", got)
	}
	if got := sumFor(t, rm, "chronovox.playbacks", "mode", "AGED"); got != 1 {
		t.Errorf("playbacks = %d, want 1", got)
	}
	if got := sumFor(t, rm, "chronovox.pitch_shifts", "strategy", "vocoder"); got != 1 {
		t.Errorf("pitch shifts = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ecapa", "embeddings", "ok")
	m.RecordProviderRequest(ctx, "ecapa", "embeddings", "ok")
	m.RecordProviderRequest(ctx, "ecapa", "embeddings", "error")
	m.RecordProviderError(ctx, "coqui", "tts")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "chronovox.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "chronovox.provider.errors", "provider", "coqui"); got != 1 {
		t.Errorf("coqui errors = %d, want 1", got)
	}
}

func TestInflightGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.InflightSubmissions.Add(ctx, 3)
	m.InflightSubmissions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "chronovox.inflight_submissions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Fatalf("inflight = %+v, want 2", sum.DataPoints)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("DefaultMetrics must return the same instance")
	}
}
