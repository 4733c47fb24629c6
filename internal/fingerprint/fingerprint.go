// Package fingerprint derives a coarse recording-channel signature from a
// clip and scores how likely two clips came through the same device. The
// score is advisory: it feeds confidence, never acceptance.
package fingerprint

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/chronovox/pkg/audio"
)

const (
	fftSize    = 512
	numBands   = 24
	minBandHz  = 50.0
	rolloffPct = 0.85
	powerFloor = 1e-12
)

// ErrTooShort is returned for clips shorter than one analysis frame.
var ErrTooShort = errors.New("fingerprint: clip shorter than one frame")

// Fingerprint is the channel signature of one clip.
type Fingerprint struct {
	// Bands is the long-term mean log power (dB) in log-spaced bands.
	Bands []float64

	// RolloffHz is the frequency below which 85 % of the energy lies.
	RolloffHz float64

	// Flatness is the spectral flatness (geometric over arithmetic mean
	// power) in [0, 1]; high for noise, low for tonal content.
	Flatness float64

	// NoiseFloorDBFS is the 10th percentile frame level.
	NoiseFloorDBFS float64

	// DCOffset is the mean sample value.
	DCOffset float64
}

// Extract computes the fingerprint of clip with Hann-windowed, half-
// overlapping 512-point frames.
func Extract(clip audio.Clip) (Fingerprint, error) {
	x := clip.Samples
	if clip.SampleRate <= 0 {
		return Fingerprint{}, fmt.Errorf("fingerprint: invalid sample rate %d", clip.SampleRate)
	}
	if len(x) < fftSize {
		return Fingerprint{}, ErrTooShort
	}

	fft := fourier.NewFFT(fftSize)
	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/fftSize)
	}

	bins := fftSize/2 + 1
	power := make([]float64, bins)
	var frameDB []float64
	buf := make([]float64, fftSize)
	coeff := make([]complex128, bins)
	frames := 0
	for start := 0; start+fftSize <= len(x); start += fftSize / 2 {
		frame := x[start : start+fftSize]
		ms := floats.Dot(frame, frame) / fftSize
		frameDB = append(frameDB, 10*math.Log10(ms+powerFloor))

		floats.MulTo(buf, frame, window)
		fft.Coefficients(coeff, buf)
		for k, c := range coeff {
			m := cmplx.Abs(c)
			power[k] += m * m
		}
		frames++
	}
	floats.Scale(1/float64(frames), power)

	fp := Fingerprint{
		Bands:     bandLevels(power, clip.SampleRate),
		RolloffHz: rolloff(power, clip.SampleRate),
		Flatness:  flatness(power),
		DCOffset:  stat.Mean(x, nil),
	}
	slices.Sort(frameDB)
	fp.NoiseFloorDBFS = stat.Quantile(0.10, stat.Empirical, frameDB, nil)
	return fp, nil
}

func binHz(k, sampleRate int) float64 {
	return float64(k) * float64(sampleRate) / fftSize
}

// bandLevels averages power into log-spaced bands between 50 Hz and Nyquist.
// A band narrower than one bin takes the bin nearest its centre.
func bandLevels(power []float64, sampleRate int) []float64 {
	nyq := float64(sampleRate) / 2
	edges := make([]float64, numBands+1)
	floats.LogSpan(edges, minBandHz, nyq)

	out := make([]float64, numBands)
	for b := range numBands {
		lo, hi := edges[b], edges[b+1]
		var sum float64
		var n int
		for k := range power {
			if f := binHz(k, sampleRate); f >= lo && f < hi {
				sum += power[k]
				n++
			}
		}
		if n == 0 {
			centre := math.Sqrt(lo * hi)
			k := min(int(math.Round(centre*fftSize/float64(sampleRate))), len(power)-1)
			sum, n = power[k], 1
		}
		out[b] = 10 * math.Log10(sum/float64(n)+powerFloor)
	}
	return out
}

func rolloff(power []float64, sampleRate int) float64 {
	total := floats.Sum(power)
	if total <= 0 {
		return 0
	}
	var acc float64
	for k, p := range power {
		acc += p
		if acc >= rolloffPct*total {
			return binHz(k, sampleRate)
		}
	}
	return binHz(len(power)-1, sampleRate)
}

func flatness(power []float64) float64 {
	var logSum, sum float64
	for _, p := range power {
		p += powerFloor
		logSum += math.Log(p)
		sum += p
	}
	n := float64(len(power))
	arith := sum / n
	if arith <= 0 {
		return 0
	}
	return math.Min(1, math.Exp(logSum/n)/arith)
}

// Match scores two fingerprints in [0, 1]. Band shape dominates; roll-off,
// flatness and noise floor refine it.
func Match(a, b Fingerprint) float64 {
	shape := (centredCosine(a.Bands, b.Bands) + 1) / 2

	var roll float64
	if hi := math.Max(a.RolloffHz, b.RolloffHz); hi > 0 {
		roll = math.Min(a.RolloffHz, b.RolloffHz) / hi
	} else {
		roll = 1
	}
	flat := 1 - math.Min(1, math.Abs(a.Flatness-b.Flatness)/0.5)
	noise := 1 - math.Min(1, math.Abs(a.NoiseFloorDBFS-b.NoiseFloorDBFS)/30)

	s := 0.5*shape + 0.2*roll + 0.15*flat + 0.15*noise
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}

// centredCosine is the cosine of the mean-removed vectors, so an overall
// gain difference does not count against a match.
func centredCosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	ca := slices.Clone(a)
	cb := slices.Clone(b)
	floats.AddConst(-stat.Mean(ca, nil), ca)
	floats.AddConst(-stat.Mean(cb, nil), cb)
	na, nb := floats.Norm(ca, 2), floats.Norm(cb, 2)
	if na == 0 || nb == 0 {
		if na == nb {
			return 1
		}
		return 0
	}
	return math.Max(-1, math.Min(1, floats.Dot(ca, cb)/(na*nb)))
}

// Matcher scores clip pairs and degrades to a neutral 1.0 when either clip
// cannot be fingerprinted.
type Matcher struct {
	log *slog.Logger
}

// NewMatcher creates a Matcher. A nil logger means slog.Default().
func NewMatcher(log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{log: log}
}

// Score returns Match of the two clips' fingerprints, or 1.0 on any
// extraction failure.
func (m *Matcher) Score(newClip, refClip audio.Clip) float64 {
	a, err := Extract(newClip)
	if err != nil {
		m.log.Warn("fingerprint: new clip unusable, assuming same device", "error", err)
		return 1.0
	}
	b, err := Extract(refClip)
	if err != nil {
		m.log.Warn("fingerprint: reference clip unusable, assuming same device", "error", err)
		return 1.0
	}
	return Match(a, b)
}
