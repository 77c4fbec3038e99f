package testutil

import (
	"math"
	"testing"
)

func TestDeterministicSine(t *testing.T) {
	s := DeterministicSine(1000, 48000, 1.0, 48)
	if len(s) != 48 {
		t.Fatalf("len = %d, want 48", len(s))
	}
	if s[0] != 0 {
		t.Fatalf("s[0] = %v, want 0", s[0])
	}
	// 1 kHz at 48 kHz reaches its positive peak at sample 12.
	if math.Abs(float64(s[12])-1.0) > 1e-6 {
		t.Fatalf("s[12] = %v, want 1.0", s[12])
	}
}

func TestDeterministicNoiseReproducible(t *testing.T) {
	a := DeterministicNoise(7, 0.5, 256)
	b := DeterministicNoise(7, 0.5, 256)
	RequireSliceEqual(t, a, b)
	for i, v := range a {
		if v < -0.5 || v > 0.5 {
			t.Fatalf("index %d: %v outside amplitude", i, v)
		}
	}
}

func TestImpulse(t *testing.T) {
	s := Impulse(8, 3)
	for i, v := range s {
		want := float32(0)
		if i == 3 {
			want = 1
		}
		if v != want {
			t.Fatalf("index %d: got %v, want %v", i, v, want)
		}
	}
}

func TestDirectConvolve(t *testing.T) {
	a := []float32{1, 0, 0, 0, 0}
	b := []float32{1, 0.5, 0.25}
	got := DirectConvolve(a, b, 5)
	RequireSliceNearlyEqual(t, got, []float32{1, 0.5, 0.25, 0, 0}, 0)
}
