package age

import (
	"context"
	"math/rand/v2"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// Extras selects the optional stages that run after the core chain.
type Extras struct {
	// Spectral applies a learned band-gain profile when non-nil.
	Spectral *SpectralProfile

	// Formants enables the frequency-axis warp with [FormantAlpha].
	Formants bool

	// Post names the post engine passed to [RunPost].
	Post string

	// Instability parameterizes the "micro" post engine.
	Instability Instability

	// Seed seeds the post engine's noise. Zero draws a random seed.
	Seed uint64
}

// FormantAlpha maps age weights to a formant warp factor: above 1 for
// younger targets, below 1 for older ones, exactly 1 at [BaseAge].
func FormantAlpha(w Weights) float64 {
	return 1 + 0.12*w.Young - 0.07*w.Old - 0.05*w.Extra
}

// Render runs [Engine.ApplyClip] followed by the stages enabled in x. With a
// zero Extras it is ApplyClip. Only the post engine can fail.
func (e *Engine) Render(ctx context.Context, clip audio.Clip, targetAge float64, x Extras) (audio.Clip, error) {
	out := e.ApplyClip(ctx, clip, targetAge)
	w := ComputeWeights(targetAge)

	y := out.Samples
	if x.Spectral != nil {
		y = x.Spectral.Apply(y, out.SampleRate, w.Age)
	}
	if x.Formants {
		y = audio.Normalize(WarpFormants(y, out.SampleRate, FormantAlpha(w)))
	}

	var rng *rand.Rand
	if x.Seed != 0 {
		rng = rand.New(rand.NewPCG(x.Seed, x.Seed^0x9e3779b97f4a7c15))
	}
	y, err := RunPost(y, out.SampleRate, x.Post, x.Instability, rng)
	if err != nil {
		return audio.Clip{}, err
	}
	return audio.Clip{Samples: y, SampleRate: out.SampleRate}, nil
}
