package age

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

// ErrUnknownPostEngine is returned by [RunPost] for an unrecognised engine.
var ErrUnknownPostEngine = errors.New("age: unknown post engine")

// Post engines applied after the DSP chain.
const (
	PostNone  = "none"
	PostOff   = "off"
	PostDSP   = "dsp"
	PostMicro = "micro"
)

// RunPost applies the named post-processing engine. "none", "off", "dsp"
// and the empty string pass x through; "micro" applies inst.
func RunPost(x []float64, sampleRate int, engine string, inst Instability, rng *rand.Rand) ([]float64, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", PostNone, PostOff, PostDSP:
		return append([]float64(nil), x...), nil
	case PostMicro:
		return inst.Apply(x, sampleRate, rng), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPostEngine, engine)
}
