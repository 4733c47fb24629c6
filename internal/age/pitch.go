package age

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// minPitchShift is the smallest shift, in semitones, worth running a
// strategy for. Anything smaller passes the signal through.
const minPitchShift = 1e-4

var (
	// ErrUnvoiced is returned by pitch-synchronous strategies when the input
	// carries too little voiced speech to build a pitch track.
	ErrUnvoiced = errors.New("age: not enough voiced frames")

	// ErrBadStrategyOutput is returned when a strategy produces a signal of
	// the wrong length or with non-finite samples.
	ErrBadStrategyOutput = errors.New("age: pitch strategy produced invalid output")

	// ErrUnknownStrategy is returned by [PitchStrategyByName].
	ErrUnknownStrategy = errors.New("age: unknown pitch strategy")
)

// PitchStrategy shifts pitch by a number of semitones without changing
// duration. Implementations return a slice of len(x) finite samples.
//
// Known failure modes:
//   - [PSOLA] fails with [ErrUnvoiced] on silence, noise, or whispered input.
//   - [PhaseVocoder] fails only if the resampler rejects its rates.
type PitchStrategy interface {
	Name() string
	Shift(x []float64, sampleRate int, semitones float64) ([]float64, error)
}

// DefaultPitchStrategies is the preferred try order: formant-preserving
// PSOLA first, phase vocoder as the fallback.
func DefaultPitchStrategies() []PitchStrategy {
	return []PitchStrategy{PSOLA{}, PhaseVocoder{}}
}

// PitchStrategyByName resolves a configured strategy name.
func PitchStrategyByName(name string) (PitchStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "psola":
		return PSOLA{}, nil
	case "vocoder", "phase_vocoder":
		return PhaseVocoder{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// checkShift validates a strategy result against its input length.
func checkShift(out []float64, n int) error {
	if len(out) != n {
		return fmt.Errorf("%w: length %d, want %d", ErrBadStrategyOutput, len(out), n)
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite sample", ErrBadStrategyOutput)
		}
	}
	return nil
}

// fit trims or zero-pads x to exactly n samples.
func fit(x []float64, n int) []float64 {
	if len(x) == n {
		return x
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}
