package testutil

import (
	"math"
	"math/rand/v2"
)

// DeterministicSine generates a deterministic sine wave.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float32 {
	out := make([]float32, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = float32(amplitude * math.Sin(step*float64(i)))
	}
	return out
}

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed uint64, amplitude float64, length int) []float32 {
	out := make([]float32, length)
	rng := rand.New(rand.NewPCG(seed, 0))
	for i := range out {
		out[i] = float32((rng.Float64()*2 - 1) * amplitude)
	}
	return out
}

// Impulse generates a unit impulse at the given position.
func Impulse(length, pos int) []float32 {
	out := make([]float32, length)
	if pos >= 0 && pos < length {
		out[pos] = 1
	}
	return out
}

// DC generates a constant-valued signal.
func DC(value float32, length int) []float32 {
	out := make([]float32, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// DirectConvolve computes the linear convolution of a and b in float64
// precision, truncated to n output samples. It is the reference against
// which the FFT paths are checked.
func DirectConvolve(a, b []float32, n int) []float32 {
	acc := make([]float64, n)
	for i, x := range a {
		if i >= n {
			break
		}
		for j, h := range b {
			if i+j >= n {
				break
			}
			acc[i+j] += float64(x) * float64(h)
		}
	}
	out := make([]float32, n)
	for i, v := range acc {
		out[i] = float32(v)
	}
	return out
}
