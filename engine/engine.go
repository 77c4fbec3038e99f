// Package engine couples impulse response loading to channel routing
// and drives the partitioned convolver from a plug-in style host.
//
// A Convolver is one fully configured convolution engine: it loads an
// IR through the audiosrc layer, maps IR channels onto (input, output)
// pairs, and exposes buffered (one-cycle latency) and zero-latency run
// paths for the audio thread.
//
// An Instance is the host-facing object. It keeps an online/offline
// Convolver pair and swaps them atomically when a new IR has been
// built on the host's worker thread, so the IR can change while audio
// keeps flowing.
package engine

import (
	"errors"

	"github.com/cwbudde/algo-convolver/audiosrc"
	"github.com/cwbudde/algo-convolver/conv"
	"github.com/cwbudde/algo-convolver/internal/rt"
)

// Errors returned by the engine layer.
var (
	ErrIRLoad   = errors.New("engine: IR load failed")
	ErrNoConfig = errors.New("engine: invalid instance configuration")
)

// maxIRLength is the longest accepted impulse response in frames.
const maxIRLength = 1 << 24

// IRChannelConfig selects the channel routing of an engine.
type IRChannelConfig int

const (
	// Mono routes 1 in to 1 out with a 1-channel IR.
	Mono IRChannelConfig = iota

	// MonoToStereo routes 1 in to 2 outs (M→L, M→R).
	MonoToStereo

	// Stereo routes 2 ins to 2 outs. A 4-channel IR adds the L→R and
	// R→L cross terms (true stereo); 1- or 2-channel IRs run without
	// cross-feed.
	Stereo
)

// Inputs returns the engine input count for the configuration.
func (c IRChannelConfig) Inputs() int {
	if c < Stereo {
		return 1
	}
	return 2
}

// Outputs returns the engine output count for the configuration.
func (c IRChannelConfig) Outputs() int {
	if c == Mono {
		return 1
	}
	return 2
}

// IRSettings carries the per-IR parameters. Immutable per engine
// instance.
type IRSettings struct {
	Gain              float32
	PreDelay          int
	ChannelGain       [4]float32
	ChannelDelay      [4]int
	SumInputs         bool
	ArtificialLatency int
}

// DefaultIRSettings returns unity gain, no delays.
func DefaultIRSettings() IRSettings {
	return IRSettings{
		Gain:        1,
		ChannelGain: [4]float32{1, 1, 1, 1},
	}
}

// Option configures a Convolver.
type Option func(*convConfig)

type convConfig struct {
	irc      IRChannelConfig
	settings IRSettings
	policy   rt.Policy
	priority int
	procOpts conv.Options
	open     func(string) (audiosrc.Readable, error)
}

func defaultConvConfig() convConfig {
	return convConfig{
		irc:      Mono,
		settings: DefaultIRSettings(),
		policy:   rt.PolicyFIFO,
		open:     audiosrc.OpenFile,
	}
}

// WithChannelConfig sets the channel routing.
func WithChannelConfig(irc IRChannelConfig) Option {
	return func(c *convConfig) {
		c.irc = irc
	}
}

// WithIRSettings sets the IR parameters.
func WithIRSettings(s IRSettings) Option {
	return func(c *convConfig) {
		c.settings = s
	}
}

// WithSchedule sets the scheduling request for level workers.
func WithSchedule(policy rt.Policy, priority int) Option {
	return func(c *convConfig) {
		c.policy = policy
		c.priority = priority
	}
}

// WithProcessorOptions passes options through to the convolution
// processor.
func WithProcessorOptions(opts conv.Options) Option {
	return func(c *convConfig) {
		c.procOpts = opts
	}
}

// WithOpener replaces the function resolving an IR path to an audio
// source. The default opens files by extension.
func WithOpener(open func(string) (audiosrc.Readable, error)) Option {
	return func(c *convConfig) {
		if open != nil {
			c.open = open
		}
	}
}
