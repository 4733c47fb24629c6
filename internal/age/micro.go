package age

import (
	"math"
	"math/rand/v2"
)

// Instability layers small random irregularities onto a rendered voice. It
// is stochastic and sits outside the transform's identity guarantee.
type Instability struct {
	// Jitter is the standard deviation of additive noise, scaled by 0.003.
	Jitter float64 `yaml:"jitter"`

	// Shimmer is the standard deviation of per-sample gain around 1.
	Shimmer float64 `yaml:"shimmer"`

	// TremorRate is the frequency in Hz of a slow additive sine at 0.003.
	TremorRate float64 `yaml:"tremor_rate"`
}

// Zero reports whether the stage would leave the signal untouched apart
// from normalization.
func (in Instability) Zero() bool {
	return in.Jitter <= 0 && in.Shimmer <= 0 && in.TremorRate <= 0
}

// Apply adds jitter, shimmer and tremor in that order, then scales to unity
// peak. rng supplies the noise; pass a seeded source for reproducible output.
func (in Instability) Apply(x []float64, sampleRate int, rng *rand.Rand) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	if len(y) == 0 {
		return y
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	if in.Jitter > 0 {
		for i := range y {
			y[i] += rng.NormFloat64() * in.Jitter * 0.003
		}
	}
	if in.Shimmer > 0 {
		for i := range y {
			y[i] *= 1 + rng.NormFloat64()*in.Shimmer
		}
	}
	if in.TremorRate > 0 && sampleRate > 0 {
		for i := range y {
			t := float64(i) / float64(sampleRate)
			y[i] += 0.003 * math.Sin(2*math.Pi*in.TremorRate*t)
		}
	}

	var peak float64
	for _, v := range y {
		peak = math.Max(peak, math.Abs(v))
	}
	scale := peak + 1e-6
	for i := range y {
		y[i] /= scale
	}
	return y
}
