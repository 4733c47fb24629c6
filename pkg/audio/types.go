package audio

import (
	"math"
	"time"
)

// DefaultSampleRate is the sample rate every stored reference waveform uses.
const DefaultSampleRate = 16000

// Clip is a whole mono utterance held in memory as float samples in [-1, 1].
// Clips are processed end to end; there is no streaming representation.
type Clip struct {
	// Samples holds mono PCM as float64. Values outside [-1, 1] are legal
	// intermediate results and are peak-normalized on write.
	Samples []float64

	// SampleRate in Hz (e.g., 16000 for stored reference versions).
	SampleRate int
}

// Format describes the sample rate and channel count of a decoded file.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length of the clip in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Clone returns a deep copy of the clip.
func (c Clip) Clone() Clip {
	out := make([]float64, len(c.Samples))
	copy(out, c.Samples)
	return Clip{Samples: out, SampleRate: c.SampleRate}
}

// Peak returns max(|x|) over samples, ignoring NaNs.
func Peak(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// Normalize divides samples by their peak (plus a tiny epsilon) when the
// peak exceeds 1 and otherwise returns an unchanged copy. It never boosts
// quiet audio and never compresses dynamics. The output peak never exceeds
// 1, so Normalize is idempotent.
func Normalize(samples []float64) []float64 {
	const eps = 1e-9
	out := make([]float64, len(samples))
	copy(out, samples)
	if peak := Peak(samples); peak > 1.0 {
		scale := peak + eps
		for i := range out {
			out[i] /= scale
		}
	}
	return out
}
