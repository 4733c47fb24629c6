package age

import "slices"

// TiltBright applies one-pole pre-emphasis y[n] = x[n] − a·x[n−1] with
// a = 0.65 + 0.30·amount, amount clamped to [0, 1].
func TiltBright(x []float64, amount float64) []float64 {
	a := 0.65 + 0.30*clamp01(amount)
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	y[0] = x[0]
	for i := 1; i < len(x); i++ {
		y[i] = x[i] - a*x[i-1]
	}
	return y
}

// TiltDark applies one-pole smoothing y[n] = a·y[n−1] + (1−a)·x[n] with
// a = 0.35 + 0.35·amount, amount clamped to [0, 1].
func TiltDark(x []float64, amount float64) []float64 {
	a := 0.35 + 0.35*clamp01(amount)
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	y[0] = x[0]
	for i := 1; i < len(x); i++ {
		y[i] = a*y[i-1] + (1-a)*x[i]
	}
	return y
}

// Blend cross-fades dry into wet: (1−w)·dry + w·wet, w clamped to [0, 1].
// A zero weight returns dry untouched (as a copy).
func Blend(dry, wet []float64, w float64) []float64 {
	w = clamp01(w)
	out := make([]float64, len(dry))
	if w == 0 {
		copy(out, dry)
		return out
	}
	for i := range dry {
		out[i] = (1-w)*dry[i] + w*wet[i]
	}
	return out
}

// ApplyTilt brightens toward young voices and darkens toward old ones. Both
// filtered variants are computed from x and cross-faded into the running
// signal, bright first.
func ApplyTilt(x []float64, w Weights) []float64 {
	y := slices.Clone(x)
	if w.Young > 0 {
		y = Blend(y, TiltBright(x, 0.65*w.Young), w.Young)
	}
	if w.Old > 0 || w.Extra > 0 {
		dark := TiltDark(x, 0.75*w.Old+0.55*w.Extra)
		y = Blend(y, dark, clamp01(w.Old+0.35*w.Extra))
	}
	return y
}
