package engine

import (
	"fmt"

	"github.com/cwbudde/algo-convolver/audiosrc"
	"github.com/cwbudde/algo-convolver/conv"
	"github.com/cwbudde/algo-convolver/delay"
	"github.com/cwbudde/algo-convolver/internal/rt"
)

// irChunk is the read granularity when loading impulse data.
const irChunk = 8192

// Convolver is one configured convolution engine: an IR bound to a
// channel routing, a partitioned processor and the time-domain tail
// convolvers. Construction and Reconfigure run off the audio thread;
// the Run methods are the audio-thread surface.
type Convolver struct {
	path     string
	irc      IRChannelConfig
	policy   rt.Policy
	priority int
	procOpts conv.Options
	settings IRSettings
	rate     int

	fs        audiosrc.Readable
	readables []audiosrc.Readable

	proc *conv.Processor

	nSamples   int // quantum
	maxSize    int
	offset     int
	configured bool

	dry       float32
	wet       float32
	dryTarget float32
	wetTarget float32
	alpha     float32

	tdc [4]conv.TimeDomainConvolver
	dly [2]*delay.Line
}

// New loads the IR at path and prepares a convolver for the given
// sample rate. The IR is rejected when it cannot be opened, is longer
// than 2^24 frames, or has no usable channels. Channels whose rate
// differs from sampleRate are resampled.
func New(path string, sampleRate int, opts ...Option) (*Convolver, error) {
	cfg := defaultConvConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	fs, err := cfg.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIRLoad, err)
	}
	if fs.Length() > maxIRLength {
		return nil, fmt.Errorf("%w: IR file too long (%d frames)", ErrIRLoad, fs.Length())
	}

	c := &Convolver{
		path:     path,
		irc:      cfg.irc,
		policy:   cfg.policy,
		priority: cfg.priority,
		procOpts: cfg.procOpts,
		settings: cfg.settings,
		rate:     sampleRate,
		fs:       fs,
		proc:     conv.NewProcessor(),
		dry:      0,
		wet:      1,
		dryTarget: 0,
		wetTarget: 1,
		alpha:    2950.0 / float32(sampleRate), // ~20 Hz for 90%
	}

	for n := 0; n < fs.Channels(); n++ {
		r, err := audiosrc.NewChanWrap(fs, n)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIRLoad, err)
		}
		if r.SampleRate() != sampleRate {
			c.readables = append(c.readables, audiosrc.NewSrcSource(r, sampleRate))
		} else {
			c.readables = append(c.readables, r)
		}
	}
	if len(c.readables) == 0 {
		return nil, fmt.Errorf("%w: no usable audio channels", ErrIRLoad)
	}

	return c, nil
}

// Inputs returns the engine input count.
func (c *Convolver) Inputs() int { return c.irc.Inputs() }

// Outputs returns the engine output count.
func (c *Convolver) Outputs() int { return c.irc.Outputs() }

// Path returns the IR path the convolver was built from.
func (c *Convolver) Path() string { return c.path }

// Settings returns the IR settings.
func (c *Convolver) Settings() IRSettings { return c.settings }

// SumInputs reports whether stereo inputs are summed to mono before
// convolution.
func (c *Convolver) SumInputs() bool { return c.settings.SumInputs }

// Latency returns the engine quantum, which is the latency of the
// buffered run paths.
func (c *Convolver) Latency() int { return c.nSamples }

// ArtificialLatency returns the additional latency declared by the IR
// settings.
func (c *Convolver) ArtificialLatency() int { return c.settings.ArtificialLatency }

// Ready reports whether the engine is configured and processing.
func (c *Convolver) Ready() bool {
	return c.configured && c.proc.State() == conv.StateProc
}

// Reconfigure rebuilds the partition plan for the given nominal block
// size, loads the impulse data into every active (input, output) pair
// and starts the level workers. It must not run on the audio thread.
func (c *Convolver) Reconfigure(blockSize int) error {
	if c.proc.State() == conv.StateProc {
		c.proc.StopProcess()
	}
	c.proc.Cleanup()
	c.proc.SetOptions(c.procOpts)

	quantum := 64
	for quantum < blockSize {
		quantum <<= 1
	}
	c.nSamples = quantum
	c.offset = 0
	c.maxSize = int(c.readables[0].Length())

	nImp := c.Inputs() * c.Outputs()
	nChn := len(c.readables)

	// A 3-channel IR in stereo is used as a stereo file; 1- and
	// 2-channel IRs in stereo run without cross-feed.
	if c.irc == Stereo && nChn == 3 {
		nChn = 2
	}
	if c.irc == Stereo && nChn <= 2 {
		nImp = 2
	}

	// The plan must also cover samples displaced by pre-delay.
	maxDelay := 0
	for i := 0; i < nImp; i++ {
		d := c.settings.PreDelay + c.settings.ChannelDelay[i]
		if d > maxDelay {
			maxDelay = d
		}
	}

	err := c.proc.Configure(c.Inputs(), c.Outputs(), c.maxSize+maxDelay,
		quantum, quantum, conv.MaxPartition, 0)
	if err != nil {
		c.configured = false
		return err
	}

	for i := range c.tdc {
		c.tdc[i].Reset()
	}
	c.dly[0], _ = delay.New(quantum)
	c.dly[1], _ = delay.New(quantum)

	buf := make([]float32, irChunk)
	head := make([]float32, 64)

	for ci := 0; ci < nImp && err == nil; ci++ {
		irC := ci % nChn
		ioO := ci % c.Outputs()
		var ioI int
		if nImp == 2 && c.irc == Stereo {
			// Stereo without cross-feed: L→L, R→R.
			ioI = ci % c.Inputs()
		} else {
			ioI = (ci / c.Outputs()) % c.Inputs()
		}

		r := c.readables[irC]
		chanGain := c.settings.Gain * c.settings.ChannelGain[ci]
		chanDelay := c.settings.PreDelay + c.settings.ChannelDelay[ci]

		// A zero gain skips the pair entirely. This is how true-stereo
		// IRs are downgraded to cheap stereo by zeroing the cross
		// terms.
		if chanGain == 0 {
			continue
		}

		if n, _ := r.Read(head, 0, 0); n > 0 {
			c.tdc[ioI*2+ioO].Configure(head[:n], chanGain, chanDelay)
		}

		pos := 0
		for pos < c.maxSize {
			toRead := irChunk
			if c.maxSize-pos < toRead {
				toRead = c.maxSize - pos
			}
			ns, rerr := r.Read(buf[:toRead], int64(pos), 0)
			if ns == 0 {
				if rerr != nil {
					err = fmt.Errorf("%w: reading IR channel %d: %v", ErrIRLoad, irC, rerr)
				}
				break
			}
			if chanGain != 1 {
				for i := 0; i < ns; i++ {
					buf[i] *= chanGain
				}
			}
			err = c.proc.ImpdataCreate(ioI, ioO, 1, buf[:ns],
				chanDelay+pos, chanDelay+pos+ns)
			if err != nil {
				break
			}
			pos += ns
		}
	}

	if err == nil {
		periodNS := 1e9 * float64(quantum) / float64(c.rate)
		err = c.proc.StartProcess(c.priority, c.policy, periodNS)
	}

	if err != nil {
		if c.proc.State() == conv.StateProc {
			c.proc.StopProcess()
		}
		c.proc.Cleanup()
		c.configured = false
		return err
	}

	c.configured = true
	return nil
}

// Release stops processing and frees the engine's buffers and plans.
func (c *Convolver) Release() {
	if c.proc.State() == conv.StateProc {
		c.proc.StopProcess()
	}
	c.proc.Cleanup()
	c.configured = false
}

// SetOutputGain sets the dry and wet output coefficients. Without
// interpolation the change is immediate; with it, the gains glide with
// the engine's one-pole smoother.
func (c *Convolver) SetOutputGain(dry, wet float32, interpolate bool) {
	c.dryTarget = dry
	c.wetTarget = wet
	if !interpolate {
		c.dry = c.dryTarget
		c.wet = c.wetTarget
	}
}

func (c *Convolver) interpolateGain() {
	if c.dry != c.dryTarget {
		c.dry += c.alpha*(c.dryTarget-c.dry) + 1e-10
		if abs32(c.dry-c.dryTarget) < 1e-5 {
			c.dry = c.dryTarget
		}
	}
	if c.wet != c.wetTarget {
		c.wet += c.alpha*(c.wetTarget-c.wet) + 1e-10
		if abs32(c.wet-c.wetTarget) < 1e-5 {
			c.wet = c.wetTarget
		}
	}
}

// output mixes the convolved samples in src with the dry samples
// already in dst.
func (c *Convolver) output(dst, src []float32) {
	if c.dry == 0 && c.wet == 1 {
		copy(dst, src)
		return
	}
	dry := c.dry
	wet := c.wet
	for i := range dst {
		dst[i] = dry*dst[i] + wet*src[i]
	}
}

// RunBufferedMono processes buf in place with one quantum of latency.
// Any block size works; input is staged until a full quantum is
// available.
func (c *Convolver) RunBufferedMono(buf []float32) {
	done := 0
	remain := len(buf)

	for remain > 0 {
		ns := min(remain, c.nSamples-c.offset)

		in := c.proc.InputData(0)
		out := c.proc.OutputData(0)
		copy(in[c.offset:c.offset+ns], buf[done:done+ns])

		if c.dry == c.dryTarget && c.dry == 0 {
			c.dly[0].Clear()
		} else {
			c.dly[0].Run(buf[done : done+ns])
		}

		c.interpolateGain()
		c.output(buf[done:done+ns], out[c.offset:c.offset+ns])

		c.offset += ns
		done += ns
		remain -= ns

		if c.offset == c.nSamples {
			c.proc.Process()
			c.offset = 0
		}
	}
}

// RunBufferedStereo processes both channels in place with one quantum
// of latency.
func (c *Convolver) RunBufferedStereo(left, right []float32) {
	done := 0
	remain := len(left)

	for remain > 0 {
		ns := min(remain, c.nSamples-c.offset)

		copy(c.proc.InputData(0)[c.offset:c.offset+ns], left[done:done+ns])
		if c.irc >= Stereo {
			copy(c.proc.InputData(1)[c.offset:c.offset+ns], right[done:done+ns])
		}

		if c.dry == c.dryTarget && c.dry == 0 {
			c.dly[0].Clear()
			c.dly[1].Clear()
		} else {
			c.dly[0].Run(left[done : done+ns])
			c.dly[1].Run(right[done : done+ns])
		}

		c.interpolateGain()
		c.output(left[done:done+ns], c.proc.OutputData(0)[c.offset:c.offset+ns])
		c.output(right[done:done+ns], c.proc.OutputData(1)[c.offset:c.offset+ns])

		c.offset += ns
		done += ns
		remain -= ns

		if c.offset == c.nSamples {
			c.proc.Process()
			c.offset = 0
		}
	}
}

// RunMono processes buf in place with zero latency. Partial cycles are
// covered by the pre-computed level tails plus the time-domain head
// convolver.
func (c *Convolver) RunMono(buf []float32) {
	done := 0
	remain := len(buf)

	for remain > 0 {
		ns := min(remain, c.nSamples-c.offset)

		in := c.proc.InputData(0)
		copy(in[c.offset:c.offset+ns], buf[done:done+ns])

		if c.offset+ns == c.nSamples {
			c.proc.Process()
			out := c.proc.OutputData(0)
			c.interpolateGain()
			c.output(buf[done:done+ns], out[c.offset:c.offset+ns])
			c.offset = 0
		} else {
			c.proc.TailOnly(c.offset + ns)
			out := c.proc.OutputData(0)
			c.tdc[0].Run(out[c.offset:c.offset+ns], buf[done:done+ns], ns)
			c.interpolateGain()
			c.output(buf[done:done+ns], out[c.offset:c.offset+ns])
			c.offset += ns
		}
		done += ns
		remain -= ns
	}
}

// RunStereo processes both channels in place with zero latency.
func (c *Convolver) RunStereo(left, right []float32) {
	done := 0
	remain := len(left)

	for remain > 0 {
		ns := min(remain, c.nSamples-c.offset)

		copy(c.proc.InputData(0)[c.offset:c.offset+ns], left[done:done+ns])
		if c.irc >= Stereo {
			copy(c.proc.InputData(1)[c.offset:c.offset+ns], right[done:done+ns])
		}

		if c.offset+ns == c.nSamples {
			c.proc.Process()
			c.interpolateGain()
			c.output(left[done:done+ns], c.proc.OutputData(0)[c.offset:c.offset+ns])
			c.output(right[done:done+ns], c.proc.OutputData(1)[c.offset:c.offset+ns])
			c.offset = 0
		} else {
			c.proc.TailOnly(c.offset + ns)
			outL := c.proc.OutputData(0)[c.offset : c.offset+ns]
			outR := c.proc.OutputData(1)[c.offset : c.offset+ns]

			c.tdc[0].Run(outL, left[done:done+ns], ns)
			c.tdc[1].Run(outR, left[done:done+ns], ns)
			c.tdc[2].Run(outL, right[done:done+ns], ns)
			c.tdc[3].Run(outR, right[done:done+ns], ns)

			c.interpolateGain()
			c.output(left[done:done+ns], outL)
			c.output(right[done:done+ns], outR)
			c.offset += ns
		}
		done += ns
		remain -= ns
	}
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
