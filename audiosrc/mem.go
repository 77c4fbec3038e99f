package audiosrc

import "io"

// MemSource is a memory-backed Readable holding one sample slice per
// channel. All channels must have equal length.
type MemSource struct {
	data [][]float32
	rate int
}

// NewMemSource wraps per-channel sample data at the given sample rate.
// The slices are used directly, not copied.
func NewMemSource(data [][]float32, rate int) *MemSource {
	return &MemSource{data: data, rate: rate}
}

// Read copies samples of channel starting at pos into dst.
func (m *MemSource) Read(dst []float32, pos int64, channel int) (int, error) {
	if channel < 0 || channel >= len(m.data) {
		return 0, ErrChannelOutOfRange
	}
	src := m.data[channel]
	if pos >= int64(len(src)) {
		return 0, io.EOF
	}
	n := copy(dst, src[pos:])
	return n, nil
}

// Length returns the frame count of the first channel.
func (m *MemSource) Length() int64 {
	if len(m.data) == 0 {
		return 0
	}
	return int64(len(m.data[0]))
}

// Channels returns the channel count.
func (m *MemSource) Channels() int {
	return len(m.data)
}

// SampleRate returns the sample rate in Hz.
func (m *MemSource) SampleRate() int {
	return m.rate
}
