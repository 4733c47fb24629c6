package age

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// ErrInvalidProfile is returned when spectral profile data is malformed.
var ErrInvalidProfile = errors.New("age: invalid spectral profile")

// Age thresholds for the learned spectral profile.
const (
	childProfileAge   = 13.0
	elderlyProfileAge = 60.0
)

// SpectralProfile is static, offline-learned mel-band data describing how a
// child's log spectrum differs from an adult's. It is applied as a gentle
// per-band gain: toward the child profile below 13, away from it above 60.
type SpectralProfile struct {
	// FMin and FMax bound the mel bands in Hz.
	FMin float64 `json:"fmin"`
	FMax float64 `json:"fmax"`

	// Adult is the mean adult log-mel profile. Only its length is used; it
	// must match ChildDelta.
	Adult []float64 `json:"adult_profile"`

	// ChildDelta is the mean child minus adult log-mel difference per band.
	ChildDelta []float64 `json:"child_delta"`
}

// LoadSpectralProfile reads a JSON profile file.
func LoadSpectralProfile(path string) (*SpectralProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("age: read spectral profile: %w", err)
	}
	var p SpectralProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("age: decode spectral profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks band counts and frequency bounds.
func (p *SpectralProfile) Validate() error {
	if len(p.ChildDelta) < 2 {
		return fmt.Errorf("%w: need at least 2 bands, got %d", ErrInvalidProfile, len(p.ChildDelta))
	}
	if len(p.Adult) != 0 && len(p.Adult) != len(p.ChildDelta) {
		return fmt.Errorf("%w: adult has %d bands, delta has %d", ErrInvalidProfile, len(p.Adult), len(p.ChildDelta))
	}
	if p.FMin < 0 || p.FMax <= p.FMin {
		return fmt.Errorf("%w: bad band range %.0f..%.0f Hz", ErrInvalidProfile, p.FMin, p.FMax)
	}
	for _, v := range p.ChildDelta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite delta", ErrInvalidProfile)
		}
	}
	return nil
}

// Strength returns the signed strength with which ChildDelta applies at age:
// min((13−age)/8, 1) below 13, −min((age−60)/25, 1) above 60, else 0.
func (p *SpectralProfile) Strength(age float64) float64 {
	switch {
	case age < childProfileAge:
		return math.Min((childProfileAge-age)/8, 1)
	case age > elderlyProfileAge:
		return -math.Min((age-elderlyProfileAge)/25, 1)
	}
	return 0
}

// Apply scales each STFT bin by exp(strength·delta) interpolated on the mel
// scale, keeps the phase, and rescales the result to unity peak. Ages with
// zero strength return an unchanged copy.
func (p *SpectralProfile) Apply(x []float64, sampleRate int, age float64) []float64 {
	strength := p.Strength(age)
	if strength == 0 || len(x) == 0 {
		return append([]float64(nil), x...)
	}

	s := newSTFT(1024, 256)
	gains := p.binGains(s.bins(), sampleRate, strength)
	spec := s.analyze(x)
	for _, frame := range spec {
		for k := range frame {
			frame[k] *= complex(gains[k], 0)
		}
	}
	y := s.synthesize(spec, len(x))

	peak := audio.Peak(y)
	if peak > 0 {
		for i := range y {
			y[i] /= peak
		}
	}
	return y
}

// binGains interpolates the per-band log gains onto linear FFT bins.
func (p *SpectralProfile) binGains(bins, sampleRate int, strength float64) []float64 {
	nb := len(p.ChildDelta)
	lo, hi := hzToMel(p.FMin), hzToMel(p.FMax)
	centers := make([]float64, nb)
	for i := range centers {
		centers[i] = lo + (hi-lo)*float64(i+1)/float64(nb+1)
	}

	gains := make([]float64, bins)
	for k := range gains {
		hz := float64(k) * float64(sampleRate) / float64(2*(bins-1))
		m := hzToMel(hz)
		j := sort.SearchFloat64s(centers, m)
		var g float64
		switch {
		case j == 0:
			g = p.ChildDelta[0]
		case j >= nb:
			g = p.ChildDelta[nb-1]
		default:
			t := (m - centers[j-1]) / (centers[j] - centers[j-1])
			g = (1-t)*p.ChildDelta[j-1] + t*p.ChildDelta[j]
		}
		gains[k] = math.Exp(strength * g)
	}
	return gains
}

// WarpFormants moves the spectral envelope along the frequency axis by
// alpha, clamped to [0.85, 1.20]: above 1 shifts formants up (younger),
// below 1 down (older). Pitch is left alone. Alpha within 1e-4 of 1 returns
// an unchanged copy.
func WarpFormants(x []float64, sampleRate int, alpha float64) []float64 {
	alpha = clamp(alpha, 0.85, 1.20)
	if math.Abs(alpha-1) < 1e-4 || len(x) == 0 {
		return append([]float64(nil), x...)
	}

	size := 1024
	if sampleRate > 16000 {
		size = 2048
	}
	s := newSTFT(size, size/4)
	spec := s.analyze(x)
	bins := s.bins()

	warped := make([]complex128, bins)
	for _, frame := range spec {
		for k := range bins {
			q := clamp(float64(k)/alpha, 0, float64(bins-1))
			i := int(q)
			if i >= bins-1 {
				warped[k] = frame[bins-1]
				continue
			}
			t := q - float64(i)
			re := (1-t)*real(frame[i]) + t*real(frame[i+1])
			im := (1-t)*imag(frame[i]) + t*imag(frame[i+1])
			warped[k] = complex(re, im)
		}
		copy(frame, warped)
	}
	return s.synthesize(spec, len(x))
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}
