package age

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// stft is a Hann-windowed short-time Fourier transform with centered frames.
// It is not safe for concurrent use; create one per call.
type stft struct {
	size   int
	hop    int
	fft    *fourier.FFT
	window []float64
	buf    []float64
}

func newSTFT(size, hop int) *stft {
	return &stft{
		size:   size,
		hop:    hop,
		fft:    fourier.NewFFT(size),
		window: hann(size),
		buf:    make([]float64, size),
	}
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// bins is the number of non-negative frequency bins per frame.
func (s *stft) bins() int { return s.size/2 + 1 }

// analyze returns one spectrum per hop. The signal is zero-padded by half a
// frame on both sides so the first frame is centered on sample 0.
func (s *stft) analyze(x []float64) [][]complex128 {
	half := s.size / 2
	padded := make([]float64, len(x)+2*half)
	copy(padded[half:], x)
	if len(padded) < s.size {
		padded = append(padded, make([]float64, s.size-len(padded))...)
	}

	frames := 1 + (len(padded)-s.size)/s.hop
	out := make([][]complex128, frames)
	for f := range frames {
		start := f * s.hop
		for i := range s.size {
			s.buf[i] = padded[start+i] * s.window[i]
		}
		out[f] = s.fft.Coefficients(nil, s.buf)
	}
	return out
}

// synthesize overlap-adds the inverse transforms of frames and returns length
// samples aligned with the input given to analyze.
func (s *stft) synthesize(frames [][]complex128, length int) []float64 {
	out := make([]float64, length)
	if len(frames) == 0 {
		return out
	}
	half := s.size / 2
	total := (len(frames)-1)*s.hop + s.size
	acc := make([]float64, total)
	wsum := make([]float64, total)
	scale := 1 / float64(s.size)

	for f, spec := range frames {
		s.fft.Sequence(s.buf, spec)
		start := f * s.hop
		for i := range s.size {
			acc[start+i] += s.buf[i] * scale * s.window[i]
			wsum[start+i] += s.window[i] * s.window[i]
		}
	}

	for i := range out {
		j := i + half
		if j >= total {
			break
		}
		if wsum[j] > 1e-8 {
			out[i] = acc[j] / wsum[j]
		}
	}
	return out
}
