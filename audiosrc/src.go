package audiosrc

import (
	"io"
	"math"
)

// SrcSource converts the sample rate of an inner source using cubic
// (Catmull-Rom) interpolation. Positions and the reported length are in
// frames of the target rate.
type SrcSource struct {
	src    Readable
	rate   int
	ratio  float64 // target rate / source rate
	length int64
}

// NewSrcSource resamples src to targetRate.
func NewSrcSource(src Readable, targetRate int) *SrcSource {
	ratio := float64(targetRate) / float64(src.SampleRate())
	length := int64(math.Ceil(float64(src.Length())*ratio)) - 1
	if length < 0 {
		length = 0
	}
	return &SrcSource{
		src:    src,
		rate:   targetRate,
		ratio:  ratio,
		length: length,
	}
}

// Read produces resampled frames of channel starting at target-rate
// frame pos. Each output sample interpolates four neighboring source
// samples; edge positions clamp into the source.
func (s *SrcSource) Read(dst []float32, pos int64, channel int) (int, error) {
	if pos >= s.length {
		return 0, io.EOF
	}
	count := len(dst)
	if int64(count) > s.length-pos {
		count = int(s.length - pos)
	}
	if count == 0 {
		return 0, nil
	}

	srcLen := s.src.Length()

	// Source window covering all interpolation neighbors of the
	// requested range, clamped to the source bounds.
	first := int64(math.Floor(float64(pos)/s.ratio)) - 1
	last := int64(math.Floor(float64(pos+int64(count)-1)/s.ratio)) + 2
	if first < 0 {
		first = 0
	}
	if last > srcLen-1 {
		last = srcLen - 1
	}

	win := make([]float32, last-first+1)
	if _, err := s.src.Read(win, first, channel); err != nil && err != io.EOF {
		return 0, err
	}

	sample := func(idx int64) float32 {
		if idx < 0 {
			idx = 0
		}
		if idx > srcLen-1 {
			idx = srcLen - 1
		}
		return win[idx-first]
	}

	for i := 0; i < count; i++ {
		t := float64(pos+int64(i)) / s.ratio
		p := int64(math.Floor(t))
		frac := float32(t - float64(p))
		dst[i] = cubicInterpolate(sample(p-1), sample(p), sample(p+1), sample(p+2), frac)
	}
	return count, nil
}

// Length returns the frame count at the target rate.
func (s *SrcSource) Length() int64 { return s.length }

// Channels returns the inner source's channel count.
func (s *SrcSource) Channels() int { return s.src.Channels() }

// SampleRate returns the target rate in Hz.
func (s *SrcSource) SampleRate() int { return s.rate }

// cubicInterpolate evaluates a Catmull-Rom spline through y0..y3 at
// fractional position x between y1 and y2.
func cubicInterpolate(y0, y1, y2, y3, x float32) float32 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1

	return a0*x*x*x + a1*x*x + a2*x + a3
}
