// Package audiosrc provides random-access audio sources for impulse
// response loading.
//
// A Readable exposes a fixed-length multi-channel block of samples that
// can be read at arbitrary positions. Sources are file-backed (WAV, MP3,
// Ogg Vorbis) or memory-backed, and adaptors wrap a source to select a
// single channel (ChanWrap) or convert its sample rate (SrcSource).
// Ownership is linear: an adaptor exclusively owns its inner source.
//
// Reads are synchronous and intended to be called off the audio thread.
package audiosrc

import "errors"

// Errors returned when opening or reading sources.
var (
	ErrUnsupportedFormat = errors.New("audiosrc: unsupported file format")
	ErrChannelOutOfRange = errors.New("audiosrc: channel out of range")
	ErrNoChannels        = errors.New("audiosrc: no audio channels")
)

// Readable is a fixed-length, randomly addressable audio source.
type Readable interface {
	// Read fills dst with samples of the given channel starting at
	// frame pos. It returns the number of samples produced, which is
	// less than len(dst) only at the end of the source. A read fully
	// past the end returns (0, io.EOF).
	Read(dst []float32, pos int64, channel int) (int, error)

	// Length returns the total number of frames.
	Length() int64

	// Channels returns the channel count.
	Channels() int

	// SampleRate returns the sample rate in Hz.
	SampleRate() int
}
