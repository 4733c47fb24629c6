package age

import (
	"math"
	"math/rand/v2"
)

const testRate = 16000

func sine(freq float64, seconds float64, amp float64) []float64 {
	n := int(seconds * testRate)
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return x
}

// voiceLike is a harmonic-rich tone with a slow amplitude envelope.
func voiceLike(f0 float64, seconds float64) []float64 {
	n := int(seconds * testRate)
	x := make([]float64, n)
	for i := range x {
		t := float64(i) / testRate
		env := 0.6 + 0.3*math.Sin(2*math.Pi*3*t)
		for h := 1; h <= 5; h++ {
			x[i] += env / float64(h) * math.Sin(2*math.Pi*f0*float64(h)*t)
		}
	}
	return x
}

func noise(seconds float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([]float64, int(seconds*testRate))
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	return x
}

func rms(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s / float64(len(x)))
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
