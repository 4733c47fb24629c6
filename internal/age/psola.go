package age

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	defaultMinF0 = 75.0
	defaultMaxF0 = 500.0

	// voicingThreshold is the normalized autocorrelation peak a frame needs
	// to count as voiced.
	voicingThreshold = 0.5

	// minVoicedFrames is the smallest pitch track PSOLA will work from.
	minVoicedFrames = 3
)

// PSOLA is a time-domain pitch-synchronous overlap-add shifter. It moves the
// pitch by respacing two-period grains cut at the original pitch marks, so
// the spectral envelope inside each grain (the formants) is preserved.
// Unvoiced stretches are copied through at a fixed 10 ms grain spacing.
type PSOLA struct {
	// MinF0 and MaxF0 bound the pitch search in Hz. Zero means 75 and 500.
	MinF0, MaxF0 float64
}

// Name implements [PitchStrategy].
func (PSOLA) Name() string { return "psola" }

// Shift implements [PitchStrategy].
func (p PSOLA) Shift(x []float64, sampleRate int, semitones float64) ([]float64, error) {
	n := len(x)
	if math.Abs(semitones) < minPitchShift || n == 0 {
		return append([]float64(nil), x...), nil
	}

	minF0, maxF0 := p.MinF0, p.MaxF0
	if minF0 <= 0 {
		minF0 = defaultMinF0
	}
	if maxF0 <= minF0 {
		maxF0 = defaultMaxF0
	}

	track := trackPitch(x, sampleRate, minF0, maxF0)
	if track.voiced < minVoicedFrames {
		return nil, ErrUnvoiced
	}
	marks := track.marks(n, sampleRate)
	factor := math.Pow(2, semitones/12)

	out := make([]float64, n)
	wsum := make([]float64, n)
	k := 0
	for ts := float64(marks[0].pos); ts < float64(n); {
		for k+1 < len(marks) && math.Abs(float64(marks[k+1].pos)-ts) <= math.Abs(float64(marks[k].pos)-ts) {
			k++
		}
		m := marks[k]
		center := int(math.Round(ts))
		for j := -m.period; j < m.period; j++ {
			src, dst := m.pos+j, center+j
			if src < 0 || src >= n || dst < 0 || dst >= n {
				continue
			}
			w := 0.5 - 0.5*math.Cos(math.Pi*float64(j+m.period)/float64(m.period))
			out[dst] += w * x[src]
			wsum[dst] += w
		}

		step := float64(m.period)
		if m.voiced {
			step /= factor
		}
		ts += math.Max(step, 1)
	}

	for i := range out {
		out[i] /= math.Max(wsum[i], 0.1)
	}
	return out, nil
}

// pitchTrack holds one period estimate (in samples, 0 when unvoiced) per
// analysis hop.
type pitchTrack struct {
	hop     int
	periods []int
	voiced  int
}

type pitchMark struct {
	pos    int
	period int
	voiced bool
}

// marks walks the signal one local period at a time. Unvoiced regions use a
// 10 ms spacing.
func (pt pitchTrack) marks(n, sampleRate int) []pitchMark {
	unvoiced := max(sampleRate/100, 1)
	var out []pitchMark
	for t := 0; t < n; {
		f := min(t/pt.hop, len(pt.periods)-1)
		m := pitchMark{pos: t, period: unvoiced}
		if p := pt.periods[f]; p > 0 {
			m.period, m.voiced = p, true
		}
		out = append(out, m)
		t += m.period
	}
	return out
}

// trackPitch estimates the pitch period per 10 ms hop from the normalized
// autocorrelation of a 40 ms frame.
func trackPitch(x []float64, sampleRate int, minF0, maxF0 float64) pitchTrack {
	hop := max(sampleRate/100, 1)
	frameLen := max(sampleRate/25, 2)
	minLag := max(int(float64(sampleRate)/maxF0), 1)
	maxLag := int(float64(sampleRate) / minF0)

	globalRMS := math.Sqrt(floats.Dot(x, x) / float64(len(x)))
	silence := math.Max(1e-4, 0.1*globalRMS)

	frames := max((len(x)+hop-1)/hop, 1)
	pt := pitchTrack{hop: hop, periods: make([]int, frames)}
	for f := range frames {
		start := f * hop
		end := min(start+frameLen, len(x))
		frame := x[start:end]
		if len(frame) <= maxLag+minLag {
			continue
		}
		if math.Sqrt(floats.Dot(frame, frame)/float64(len(frame))) < silence {
			continue
		}

		corr := make([]float64, maxLag+1)
		best := 0.0
		for lag := minLag; lag <= maxLag; lag++ {
			a, b := frame[:len(frame)-lag], frame[lag:]
			den := math.Sqrt(floats.Dot(a, a) * floats.Dot(b, b))
			if den == 0 {
				continue
			}
			corr[lag] = floats.Dot(a, b) / den
			best = math.Max(best, corr[lag])
		}
		if best < voicingThreshold {
			continue
		}
		// Earliest strong peak avoids picking a multiple of the true period.
		for lag := minLag + 1; lag < maxLag; lag++ {
			if corr[lag] >= 0.9*best && corr[lag] >= corr[lag-1] && corr[lag] >= corr[lag+1] {
				pt.periods[f] = lag
				pt.voiced++
				break
			}
		}
	}
	return pt
}
