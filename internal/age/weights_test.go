package age

import (
	"math"
	"testing"
)

func TestComputeWeights_Neutral(t *testing.T) {
	t.Parallel()

	w := ComputeWeights(BaseAge)
	if !w.Neutral() {
		t.Fatalf("ComputeWeights(%v) = %+v, want all zero", BaseAge, w)
	}
	if w.Semitones() != 0 {
		t.Errorf("Semitones() = %v, want 0", w.Semitones())
	}
}

func TestComputeWeights_Bounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		age  float64
		want Weights
	}{
		{name: "min", age: MinAge, want: Weights{Age: MinAge, Young: 1}},
		{name: "below min clamps", age: 1, want: Weights{Age: MinAge, Young: 1}},
		{name: "max", age: MaxAge, want: Weights{Age: MaxAge, Old: 1, Extra: 1}},
		{name: "above max clamps", age: 120, want: Weights{Age: MaxAge, Old: 1, Extra: 1}},
		{name: "nan is neutral", age: math.NaN(), want: Weights{Age: BaseAge}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ComputeWeights(tt.age); got != tt.want {
				t.Errorf("ComputeWeights(%v) = %+v, want %+v", tt.age, got, tt.want)
			}
		})
	}
}

func TestComputeWeights_Invariants(t *testing.T) {
	t.Parallel()

	prevExtra := 0.0
	for a := 0.0; a <= 80; a += 0.5 {
		w := ComputeWeights(a)
		if w.Young > 0 && w.Old > 0 {
			t.Fatalf("age %v: young %v and old %v both positive", a, w.Young, w.Old)
		}
		for _, v := range []float64{w.Young, w.Old, w.Extra} {
			if v < 0 || v > 1 {
				t.Fatalf("age %v: weight %v outside [0,1]", a, v)
			}
		}
		if a <= ExtraOnsetAge && w.Extra != 0 {
			t.Fatalf("age %v: extra = %v, want 0 at or below %v", a, w.Extra, ExtraOnsetAge)
		}
		if w.Extra < prevExtra {
			t.Fatalf("age %v: extra decreased from %v to %v", a, prevExtra, w.Extra)
		}
		prevExtra = w.Extra
	}
}

func TestSemitones_Direction(t *testing.T) {
	t.Parallel()

	if s := ComputeWeights(8).Semitones(); s <= 0 {
		t.Errorf("child semitones = %v, want > 0", s)
	}
	if s := ComputeWeights(65).Semitones(); s >= 0 {
		t.Errorf("elder semitones = %v, want < 0", s)
	}
	if got, want := ComputeWeights(MaxAge).Semitones(), -4.4; math.Abs(got-want) > 1e-9 {
		t.Errorf("max age semitones = %v, want %v", got, want)
	}
}

func TestSmoothstep(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {2, 1},
	}
	for _, tt := range tests {
		if got := Smoothstep(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Smoothstep(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
