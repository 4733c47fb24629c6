// Package quality implements the advisory audio quality gate: a duration
// check and a frame-energy SNR estimate. A failed report never blocks a
// sample; it only lowers the confidence attached to it.
package quality

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/chronovox/pkg/audio"
)

const (
	// frameLength is the analysis window for energy statistics.
	frameLength = 30 * time.Millisecond

	// snrCeilingDB caps the estimate when the noise floor is digital silence.
	snrCeilingDB = 60.0

	// silenceDBFS is reported for an all-zero clip.
	silenceDBFS = -120.0
)

// Gate holds the acceptance thresholds.
type Gate struct {
	MinDuration time.Duration
	MinSNRDB    float64
	MinRMSDBFS  float64
}

// DefaultGate returns the production thresholds: 10 s, 15 dB SNR, −45 dBFS.
func DefaultGate() Gate {
	return Gate{
		MinDuration: 10 * time.Second,
		MinSNRDB:    15,
		MinRMSDBFS:  -45,
	}
}

// Report is the outcome of [Gate.Check].
type Report struct {
	Accepted bool
	Duration time.Duration

	// SNRDB is NaN when the clip is too short to frame.
	SNRDB   float64
	RMSDBFS float64

	// Reasons lists every failed threshold, empty when Accepted.
	Reasons []string
}

// Check measures clip against the thresholds. It never fails; an empty or
// degenerate clip simply produces a rejected report.
func (g Gate) Check(clip audio.Clip) Report {
	r := Report{
		Duration: clip.Duration(),
		SNRDB:    EstimateSNR(clip),
		RMSDBFS:  RMSDBFS(clip.Samples),
	}

	if r.Duration < g.MinDuration {
		r.Reasons = append(r.Reasons, fmt.Sprintf("duration %.2fs below %.2fs", r.Duration.Seconds(), g.MinDuration.Seconds()))
	}
	if math.IsNaN(r.SNRDB) || r.SNRDB < g.MinSNRDB {
		r.Reasons = append(r.Reasons, fmt.Sprintf("snr %.1f dB below %.1f dB", r.SNRDB, g.MinSNRDB))
	}
	if r.RMSDBFS < g.MinRMSDBFS {
		r.Reasons = append(r.Reasons, fmt.Sprintf("level %.1f dBFS below %.1f dBFS", r.RMSDBFS, g.MinRMSDBFS))
	}
	r.Accepted = len(r.Reasons) == 0
	return r
}

// EstimateSNR returns 10·log10 of the 90th over the 10th percentile of
// 30 ms frame energies. Clips shorter than two frames yield NaN.
func EstimateSNR(clip audio.Clip) float64 {
	energies := frameEnergies(clip)
	if len(energies) < 2 {
		return math.NaN()
	}
	slices.Sort(energies)
	noise := stat.Quantile(0.10, stat.Empirical, energies, nil)
	signal := stat.Quantile(0.90, stat.Empirical, energies, nil)
	switch {
	case signal <= 0:
		return 0
	case noise <= 0:
		return snrCeilingDB
	}
	return math.Min(10*math.Log10(signal/noise), snrCeilingDB)
}

// RMSDBFS returns the overall level in dB relative to full scale.
func RMSDBFS(samples []float64) float64 {
	if len(samples) == 0 {
		return silenceDBFS
	}
	ms := floats.Dot(samples, samples) / float64(len(samples))
	if ms <= 0 {
		return silenceDBFS
	}
	return math.Max(10*math.Log10(ms), silenceDBFS)
}

func frameEnergies(clip audio.Clip) []float64 {
	if clip.SampleRate <= 0 {
		return nil
	}
	n := int(float64(clip.SampleRate) * frameLength.Seconds())
	if n <= 0 {
		return nil
	}
	out := make([]float64, 0, len(clip.Samples)/n)
	for start := 0; start+n <= len(clip.Samples); start += n {
		f := clip.Samples[start : start+n]
		out = append(out, floats.Dot(f, f)/float64(n))
	}
	return out
}
