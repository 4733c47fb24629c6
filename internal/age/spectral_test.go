package age

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/chronovox/pkg/audio"
)

func testProfile() *SpectralProfile {
	delta := make([]float64, 40)
	for i := range delta {
		// Children: less low end, more top end.
		delta[i] = -0.5 + float64(i)/39
	}
	return &SpectralProfile{FMin: 50, FMax: 7600, Adult: make([]float64, 40), ChildDelta: delta}
}

func TestSpectralProfile_Strength(t *testing.T) {
	t.Parallel()

	p := testProfile()
	tests := []struct{ age, want float64 }{
		{5, 1},
		{9, 0.5},
		{13, 0},
		{40, 0},
		{60, 0},
		{72.5, -0.5},
		{90, -1},
	}
	for _, tt := range tests {
		if got := p.Strength(tt.age); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Strength(%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestSpectralProfile_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mod  func(p *SpectralProfile)
	}{
		{name: "too few bands", mod: func(p *SpectralProfile) { p.ChildDelta = p.ChildDelta[:1] }},
		{name: "band mismatch", mod: func(p *SpectralProfile) { p.Adult = p.Adult[:3] }},
		{name: "bad range", mod: func(p *SpectralProfile) { p.FMax = p.FMin }},
		{name: "nan delta", mod: func(p *SpectralProfile) { p.ChildDelta[2] = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testProfile()
			tt.mod(p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("Validate() = %v, want ErrInvalidProfile", err)
			}
		})
	}
	if err := testProfile().Validate(); err != nil {
		t.Fatalf("valid profile: %v", err)
	}
}

func TestSpectralProfile_Apply(t *testing.T) {
	t.Parallel()

	p := testProfile()
	x := voiceLike(130, 0.5)

	mid := p.Apply(x, testRate, 35)
	if !slices.Equal(mid, x) {
		t.Error("zero-strength age changed the signal")
	}

	child := p.Apply(x, testRate, 6)
	if len(child) != len(x) || !allFinite(child) {
		t.Fatalf("child output invalid: len %d", len(child))
	}
	if peak := audio.Peak(child); math.Abs(peak-1) > 1e-9 {
		t.Errorf("child peak = %v, want 1", peak)
	}
}

func TestLoadSpectralProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{"fmin":0,"fmax":8000,"adult_profile":[1,2,3],"child_delta":[0.1,0.2,0.3]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadSpectralProfile(good)
	if err != nil {
		t.Fatalf("LoadSpectralProfile: %v", err)
	}
	if len(p.ChildDelta) != 3 || p.FMax != 8000 {
		t.Errorf("loaded %+v", p)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"fmin":0,"fmax":8000,"child_delta":[0.1]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSpectralProfile(bad); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("bad profile err = %v, want ErrInvalidProfile", err)
	}
	if _, err := LoadSpectralProfile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file: want error")
	}
}

func TestWarpFormants(t *testing.T) {
	t.Parallel()

	x := voiceLike(150, 0.5)
	if y := WarpFormants(x, testRate, 1); !slices.Equal(x, y) {
		t.Error("alpha 1 changed the signal")
	}
	for _, alpha := range []float64{0.5, 0.9, 1.1, 3} {
		y := WarpFormants(x, testRate, alpha)
		if len(y) != len(x) || !allFinite(y) {
			t.Errorf("alpha %v: invalid output", alpha)
		}
	}
	// Out-of-range alphas clamp to the bounds.
	if !slices.Equal(WarpFormants(x, testRate, 3), WarpFormants(x, testRate, 1.2)) {
		t.Error("alpha 3 not clamped to 1.2")
	}
}

func TestSTFT_RoundTrip(t *testing.T) {
	t.Parallel()

	x := voiceLike(200, 0.25)
	s := newSTFT(512, 128)
	y := s.synthesize(s.analyze(x), len(x))
	for i := range x {
		if math.Abs(x[i]-y[i]) > 1e-9 {
			t.Fatalf("sample %d: got %v, want %v", i, y[i], x[i])
		}
	}
}
