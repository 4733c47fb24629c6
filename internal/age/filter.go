package age

import (
	"math"
	"slices"
)

// Biquad holds normalized second-order IIR coefficients (a0 == 1).
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// FilterKind selects a Butterworth response.
type FilterKind int

const (
	LowPass FilterKind = iota
	HighPass
)

// Butterworth2 designs a 2nd-order Butterworth filter via the bilinear
// transform with frequency pre-warping. The cutoff is clamped to
// [20, nyquist−50] Hz.
func Butterworth2(kind FilterKind, cutoffHz float64, sampleRate int) Biquad {
	nyq := 0.5 * float64(sampleRate)
	fc := math.Max(20, math.Min(cutoffHz, nyq-50))

	k := math.Tan(math.Pi * fc / float64(sampleRate))
	k2 := k * k
	norm := 1 / (1 + math.Sqrt2*k + k2)

	bq := Biquad{
		A1: 2 * (k2 - 1) * norm,
		A2: (1 - math.Sqrt2*k + k2) * norm,
	}
	switch kind {
	case LowPass:
		bq.B0 = k2 * norm
		bq.B1 = 2 * bq.B0
		bq.B2 = bq.B0
	case HighPass:
		bq.B0 = norm
		bq.B1 = -2 * norm
		bq.B2 = norm
	}
	return bq
}

// run filters x in transposed direct form II starting from state (z1, z2).
func (bq Biquad) run(x []float64, z1, z2 float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		out := bq.B0*v + z1
		z1 = bq.B1*v - bq.A1*out + z2
		z2 = bq.B2*v - bq.A2*out
		y[i] = out
	}
	return y
}

// steadyState returns the filter state for a unit step already in progress,
// so filtering a constant signal produces no start-up transient.
func (bq Biquad) steadyState() (z1, z2 float64) {
	den := 1 + bq.A1 + bq.A2
	if den == 0 {
		return 0, 0
	}
	g := (bq.B0 + bq.B1 + bq.B2) / den
	z2 = bq.B2 - bq.A2*g
	z1 = bq.B1 - bq.A1*g + z2
	return z1, z2
}

// FiltFilt runs bq forward and backward for zero phase response. The edges
// are padded with an odd reflection and both passes start in steady state,
// which keeps the ends free of transients.
func (bq Biquad) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := 9
	if pad >= n {
		pad = n - 1
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	z1, z2 := bq.steadyState()
	y := bq.run(ext, z1*ext[0], z2*ext[0])
	slices.Reverse(y)
	y = bq.run(y, z1*y[0], z2*y[0])
	slices.Reverse(y)

	return y[pad : pad+n]
}

// Cutoffs used by [ApplyFilters].
const (
	youngHighPassHz = 90.0
	oldHighPassHz   = 70.0
	oldLowPassMaxHz = 12000.0
	oldLowPassMinHz = 3500.0
)

// OldLowPassCutoff is the aging low-pass corner: max(3500, 12000 − 6000·old
// − 4500·extra) Hz.
func OldLowPassCutoff(w Weights) float64 {
	return math.Max(oldLowPassMinHz, oldLowPassMaxHz-6000*w.Old-4500*w.Extra)
}

// ApplyFilters cross-fades the sub-band filters into x. Young voices get a
// 90 Hz high-pass at weight young. Aging gets a low-pass at
// [OldLowPassCutoff] weighted min(1, 0.9·old+0.55·extra), followed by a
// 70 Hz high-pass weighted min(1, 0.55·old+0.25·extra).
func ApplyFilters(x []float64, sampleRate int, w Weights) []float64 {
	y := slices.Clone(x)
	if w.Young > 0 {
		hp := Butterworth2(HighPass, youngHighPassHz, sampleRate).FiltFilt(y)
		y = Blend(y, hp, w.Young)
	}
	if w.Old > 0 || w.Extra > 0 {
		lp := Butterworth2(LowPass, OldLowPassCutoff(w), sampleRate).FiltFilt(y)
		y = Blend(y, lp, 0.90*w.Old+0.55*w.Extra)

		hp := Butterworth2(HighPass, oldHighPassHz, sampleRate).FiltFilt(y)
		y = Blend(y, hp, 0.55*w.Old+0.25*w.Extra)
	}
	return y
}
