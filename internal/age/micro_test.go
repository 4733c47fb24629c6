package age

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/chronovox/pkg/audio"
)

func TestInstability_Seeded(t *testing.T) {
	t.Parallel()

	in := Instability{Jitter: 0.5, Shimmer: 0.02, TremorRate: 5}
	x := voiceLike(140, 0.3)

	a := in.Apply(x, testRate, rand.New(rand.NewPCG(1, 2)))
	b := in.Apply(x, testRate, rand.New(rand.NewPCG(1, 2)))
	if !slices.Equal(a, b) {
		t.Fatal("same seed produced different output")
	}
	c := in.Apply(x, testRate, rand.New(rand.NewPCG(3, 4)))
	if slices.Equal(a, c) {
		t.Fatal("different seeds produced identical output")
	}
	if p := audio.Peak(a); p >= 1 {
		t.Errorf("peak = %v, want < 1", p)
	}
	if len(a) != len(x) {
		t.Errorf("len = %d, want %d", len(a), len(x))
	}
}

func TestInstability_Zero(t *testing.T) {
	t.Parallel()

	if !(Instability{}).Zero() {
		t.Error("empty Instability should be Zero")
	}
	if (Instability{TremorRate: 4}).Zero() {
		t.Error("tremor-only Instability should not be Zero")
	}
	if got := (Instability{}).Apply(nil, testRate, nil); len(got) != 0 {
		t.Errorf("Apply(nil) len = %d", len(got))
	}
}

func TestRunPost(t *testing.T) {
	t.Parallel()

	x := []float64{0.1, -0.2, 0.3}
	inst := Instability{Jitter: 1}

	tests := []struct {
		engine  string
		same    bool
		wantErr error
	}{
		{engine: "", same: true},
		{engine: "none", same: true},
		{engine: "OFF", same: true},
		{engine: "dsp", same: true},
		{engine: "micro", same: false},
		{engine: "rvc", wantErr: ErrUnknownPostEngine},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			t.Parallel()
			got, err := RunPost(x, testRate, tt.engine, inst, rand.New(rand.NewPCG(9, 9)))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RunPost: %v", err)
			}
			if same := slices.Equal(got, x); same != tt.same {
				t.Errorf("output equals input = %v, want %v", same, tt.same)
			}
		})
	}
}
