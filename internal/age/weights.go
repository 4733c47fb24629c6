// Package age renders a voice sample as if spoken at a different age.
//
// The transform is a fixed chain of pure stages driven by three smooth
// weights derived from the target age: young (below [BaseAge]), old (above
// it) and extra (an acceleration curve past [ExtraOnsetAge]). At BaseAge all
// weights are exactly zero and every stage is bypassed, so the output is the
// normalized input sample for sample. Each stage is exported and takes its
// blend weights explicitly so it can be exercised on its own.
package age

import "math"

const (
	// BaseAge is the neutral age: the transform is the identity here.
	BaseAge = 23.0

	// MinAge and MaxAge bound every target age.
	MinAge = 5.0
	MaxAge = 70.0

	// ExtraOnsetAge is where the second aging curve starts.
	ExtraOnsetAge = 55.0
)

// Weights are the per-age blend strengths. Every field is in [0, 1].
// Young and Old are never both positive.
type Weights struct {
	Age   float64
	Young float64
	Old   float64
	Extra float64
}

// ComputeWeights clamps age to [MinAge, MaxAge] and derives the blend
// weights. NaN is treated as BaseAge.
func ComputeWeights(age float64) Weights {
	if math.IsNaN(age) {
		age = BaseAge
	}
	a := clamp(age, MinAge, MaxAge)
	w := Weights{Age: a}
	if a <= BaseAge {
		w.Young = Smoothstep((BaseAge - a) / (BaseAge - MinAge))
	} else {
		w.Old = Smoothstep((a - BaseAge) / (MaxAge - BaseAge))
	}
	w.Extra = Smoothstep((a - ExtraOnsetAge) / (MaxAge - ExtraOnsetAge))
	return w
}

// Neutral reports whether every weight is zero.
func (w Weights) Neutral() bool {
	return w.Young == 0 && w.Old == 0 && w.Extra == 0
}

// Semitones is the pitch shift for w: positive (up) when younger, negative
// when older, with extra downward travel past ExtraOnsetAge.
func (w Weights) Semitones() float64 {
	return 1.7*w.Young - (3.2*w.Old + 1.2*w.Extra)
}

// Smoothstep is the cubic ease t²(3−2t) with t clamped to [0, 1].
func Smoothstep(t float64) float64 {
	t = clamp01(t)
	return t * t * (3 - 2*t)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func clamp01(x float64) float64 {
	return clamp(x, 0, 1)
}
