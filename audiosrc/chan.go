package audiosrc

import "fmt"

// ChanWrap narrows a multi-channel source down to a single channel.
type ChanWrap struct {
	src Readable
	chn int
}

// NewChanWrap wraps channel chn of src as a mono source.
func NewChanWrap(src Readable, chn int) (*ChanWrap, error) {
	if chn < 0 || chn >= src.Channels() {
		return nil, fmt.Errorf("%w: %d of %d", ErrChannelOutOfRange, chn, src.Channels())
	}
	return &ChanWrap{src: src, chn: chn}, nil
}

// Read reads from the wrapped channel; the channel argument is ignored.
func (c *ChanWrap) Read(dst []float32, pos int64, _ int) (int, error) {
	return c.src.Read(dst, pos, c.chn)
}

// Length returns the inner source's frame count.
func (c *ChanWrap) Length() int64 { return c.src.Length() }

// Channels returns 1.
func (c *ChanWrap) Channels() int { return 1 }

// SampleRate returns the inner source's sample rate.
func (c *ChanWrap) SampleRate() int { return c.src.SampleRate() }
