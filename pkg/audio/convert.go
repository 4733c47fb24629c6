package audio

import (
	"fmt"
	"log/slog"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from srcRate to dstRate. Rates are floats so
// callers can resample by fractional ratios (pitch shifting does). The output
// length is round(len(samples) * dstRate / srcRate).
func Resample(samples []float64, srcRate, dstRate float64) ([]float64, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample: invalid rates %.1f -> %.1f", srcRate, dstRate)
	}
	if srcRate == dstRate || len(samples) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  srcRate,
		OutputRate: dstRate,
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	// Zero tail pushes the filter's group delay out of the resampler so the
	// last real samples are not lost.
	pad := int(math.Max(256, srcRate/10))
	in := make([]float64, len(samples)+pad)
	copy(in, samples)

	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	want := int(math.Round(float64(len(samples)) * dstRate / srcRate))
	return fitLength(out, want), nil
}

// Standardize resamples clip to rate, returning the input unchanged when it
// already matches.
func Standardize(clip Clip, rate int) (Clip, error) {
	if clip.SampleRate == rate {
		return clip, nil
	}
	slog.Debug("audio: resampling clip",
		"from", formatString(clip.SampleRate, 1),
		"to", formatString(rate, 1),
	)
	out, err := Resample(clip.Samples, float64(clip.SampleRate), float64(rate))
	if err != nil {
		return Clip{}, err
	}
	return Clip{Samples: out, SampleRate: rate}, nil
}

// fitLength trims or zero-pads samples to exactly n entries.
func fitLength(samples []float64, n int) []float64 {
	if len(samples) == n {
		return samples
	}
	out := make([]float64, n)
	copy(out, samples)
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
