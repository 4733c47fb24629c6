package age

import (
	"math"
	"math/cmplx"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// PhaseVocoder shifts pitch by time-stretching with a phase vocoder and
// resampling back to the original duration. It works on any input but
// moves formants together with the pitch.
type PhaseVocoder struct {
	// FrameSize and Hop configure the STFT. Zero means 2048 and 512.
	FrameSize, Hop int
}

// Name implements [PitchStrategy].
func (PhaseVocoder) Name() string { return "vocoder" }

// Shift implements [PitchStrategy].
func (v PhaseVocoder) Shift(x []float64, sampleRate int, semitones float64) ([]float64, error) {
	n := len(x)
	if math.Abs(semitones) < minPitchShift || n == 0 {
		return append([]float64(nil), x...), nil
	}
	size, hop := v.FrameSize, v.Hop
	if size <= 0 {
		size = 2048
	}
	if hop <= 0 || hop > size {
		hop = size / 4
	}

	rate := math.Pow(2, -semitones/12)
	stretched := TimeStretch(x, rate, size, hop)
	out, err := audio.Resample(stretched, float64(sampleRate)/rate, float64(sampleRate))
	if err != nil {
		return nil, err
	}
	return fit(out, n), nil
}

// TimeStretch changes the duration of x by 1/rate without changing pitch.
// rate > 1 speeds up.
func TimeStretch(x []float64, rate float64, size, hop int) []float64 {
	s := newSTFT(size, hop)
	spec := s.analyze(x)
	bins := s.bins()

	advance := make([]float64, bins)
	for k := range advance {
		advance[k] = 2 * math.Pi * float64(hop) * float64(k) / float64(size)
	}

	phase := make([]float64, bins)
	for k := range phase {
		phase[k] = cmplx.Phase(spec[0][k])
	}

	zero := make([]complex128, bins)
	column := func(i int) []complex128 {
		if i < len(spec) {
			return spec[i]
		}
		return zero
	}

	var out [][]complex128
	for step := 0.0; step < float64(len(spec)); step += rate {
		i := int(step)
		frac := step - float64(i)
		c0, c1 := column(i), column(i+1)

		frame := make([]complex128, bins)
		for k := range bins {
			mag := (1-frac)*cmplx.Abs(c0[k]) + frac*cmplx.Abs(c1[k])
			frame[k] = cmplx.Rect(mag, phase[k])

			dphi := cmplx.Phase(c1[k]) - cmplx.Phase(c0[k]) - advance[k]
			dphi -= 2 * math.Pi * math.Round(dphi/(2*math.Pi))
			phase[k] += advance[k] + dphi
		}
		out = append(out, frame)
	}

	length := int(math.Round(float64(len(x)) / rate))
	return s.synthesize(out, length)
}
