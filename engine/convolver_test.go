package engine

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/cwbudde/algo-convolver/audiosrc"
	"github.com/cwbudde/algo-convolver/internal/rt"
	"github.com/cwbudde/algo-convolver/internal/testutil"
)

// memOpener resolves IR paths from an in-memory table.
func memOpener(rate int, sources map[string][][]float32) func(string) (audiosrc.Readable, error) {
	return func(path string) (audiosrc.Readable, error) {
		data, ok := sources[path]
		if !ok {
			return nil, fmt.Errorf("no such IR: %s", path)
		}
		return audiosrc.NewMemSource(data, rate), nil
	}
}

// newMonoConvolver builds and configures a mono engine around the
// given IR data.
func newMonoConvolver(t *testing.T, ir []float32, rate, blockSize int, opts ...Option) *Convolver {
	t.Helper()

	opener := memOpener(rate, map[string][][]float32{"mem:ir": {ir}})
	opts = append([]Option{
		WithOpener(opener),
		WithSchedule(rt.PolicyOther, 0),
	}, opts...)

	c, err := New("mem:ir", rate, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Reconfigure(blockSize); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !c.Ready() {
		t.Fatal("engine not ready after Reconfigure")
	}
	t.Cleanup(c.Release)
	return c
}

// runMonoBlocks streams input through the zero-latency path in blocks.
func runMonoBlocks(c *Convolver, input []float32, blockSize int) []float32 {
	out := make([]float32, len(input))
	copy(out, input)
	for pos := 0; pos < len(out); pos += blockSize {
		end := min(pos+blockSize, len(out))
		c.RunMono(out[pos:end])
	}
	return out
}

func TestIdentityMonoUnbuffered(t *testing.T) {
	// S1: IR = [1], output equals input with zero latency.
	c := newMonoConvolver(t, []float32{1}, 48000, 128)
	if c.Latency() != 128 {
		t.Fatalf("Latency = %d, want 128", c.Latency())
	}

	input := testutil.DeterministicNoise(1, 1, 1024)
	got := runMonoBlocks(c, input, 128)
	testutil.RequireSliceNearlyEqual(t, got, input, 1e-5)
}

func TestIdentityMonoBuffered(t *testing.T) {
	// S1/P4: the buffered path delays by exactly one quantum; the
	// first quantum after activation is silent.
	c := newMonoConvolver(t, []float32{1}, 48000, 128)

	input := testutil.DeterministicNoise(2, 1, 1024)
	out := make([]float32, len(input))
	copy(out, input)
	for pos := 0; pos < len(out); pos += 128 {
		c.RunBufferedMono(out[pos : pos+128])
	}

	want := make([]float32, len(input))
	copy(want[128:], input)
	testutil.RequireSliceNearlyEqual(t, out, want, 1e-5)
}

func TestDecayPartialBlock(t *testing.T) {
	// S2: a 5-sample partial cycle is covered by the time-domain head.
	c := newMonoConvolver(t, []float32{1, 0.5, 0.25}, 48000, 64)

	buf := []float32{1, 0, 0, 0, 0}
	c.RunMono(buf)
	testutil.RequireSliceNearlyEqual(t, buf, []float32{1, 0.5, 0.25, 0, 0}, 1e-5)
}

func TestSingleSamplePartialCycle(t *testing.T) {
	// Boundary: n = 1 with quantum 64 runs through the TDC.
	c := newMonoConvolver(t, []float32{0.5}, 48000, 64)

	buf := []float32{1}
	c.RunMono(buf)
	testutil.RequireSliceNearlyEqual(t, buf, []float32{0.5}, 1e-5)
}

func TestZeroSamplesIsNoOp(t *testing.T) {
	c := newMonoConvolver(t, []float32{1}, 48000, 64)

	c.RunMono(nil)
	c.RunBufferedMono(nil)

	// State unchanged: a following identity run still lines up.
	input := testutil.DeterministicNoise(3, 1, 256)
	got := runMonoBlocks(c, input, 64)
	testutil.RequireSliceNearlyEqual(t, got, input, 1e-5)
}

func TestIrregularBlockSizesIdentity(t *testing.T) {
	// Partial and full cycles interleaved; with a single-tap IR the
	// time-domain path is exact for every split.
	c := newMonoConvolver(t, []float32{1}, 48000, 128)

	input := testutil.DeterministicNoise(4, 1, 1024)
	out := make([]float32, len(input))
	copy(out, input)

	splits := []int{1, 37, 26, 64, 128, 5, 123, 128, 60, 68, 128}
	pos := 0
	for _, n := range splits {
		c.RunMono(out[pos : pos+n])
		pos += n
	}
	for pos < len(out) {
		end := min(pos+128, len(out))
		c.RunMono(out[pos:end])
		pos = end
	}

	testutil.RequireSliceNearlyEqual(t, out, input, 1e-5)
}

func TestPreDelay(t *testing.T) {
	// S4: pre-delay shifts the response by 100 samples.
	irs := DefaultIRSettings()
	irs.PreDelay = 100
	c := newMonoConvolver(t, []float32{1}, 48000, 128, WithIRSettings(irs))

	input := testutil.Impulse(512, 0)
	got := runMonoBlocks(c, input, 128)

	want := testutil.Impulse(512, 100)
	testutil.RequireSliceNearlyEqual(t, got, want, 1e-5)
}

func TestLongIRAgainstReference(t *testing.T) {
	// A 1000-tap IR (one 64-sample level of 16 partitions) through the
	// full facade path.
	ir := testutil.DeterministicNoise(5, 0.05, 1000)
	c := newMonoConvolver(t, ir, 48000, 64)

	input := testutil.DeterministicNoise(6, 1, 2048)
	got := runMonoBlocks(c, input, 64)

	want := testutil.DirectConvolve(input, ir, len(input))
	testutil.RequireSliceNearlyEqual(t, got, want, 2e-3)
}

// runStereoBlocks streams a stereo pair through the zero-latency path.
func runStereoBlocks(c *Convolver, left, right []float32, blockSize int) ([]float32, []float32) {
	outL := make([]float32, len(left))
	outR := make([]float32, len(right))
	copy(outL, left)
	copy(outR, right)
	for pos := 0; pos < len(outL); pos += blockSize {
		end := min(pos+blockSize, len(outL))
		c.RunStereo(outL[pos:end], outR[pos:end])
	}
	return outL, outR
}

func newStereoConvolver(t *testing.T, ir [][]float32, rate, blockSize int, opts ...Option) *Convolver {
	t.Helper()

	opener := memOpener(rate, map[string][][]float32{"mem:ir": ir})
	opts = append([]Option{
		WithOpener(opener),
		WithSchedule(rt.PolicyOther, 0),
		WithChannelConfig(Stereo),
	}, opts...)

	c, err := New("mem:ir", rate, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Reconfigure(blockSize); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	t.Cleanup(c.Release)
	return c
}

func TestTrueStereoCrossFeed(t *testing.T) {
	// S3: a 4-channel IR forms the pairs L→L, L→R, R→L, R→R in file
	// order. An impulse on the left lights up the direct and the L→R
	// cross tap only.
	ir := [][]float32{{1}, {-0.5}, {0.5}, {1}}
	c := newStereoConvolver(t, ir, 48000, 64)

	left := testutil.Impulse(64, 0)
	right := make([]float32, 64)
	outL, outR := runStereoBlocks(c, left, right, 64)

	wantL := testutil.Impulse(64, 0)
	wantR := make([]float32, 64)
	wantR[0] = -0.5
	testutil.RequireSliceNearlyEqual(t, outL, wantL, 1e-5)
	testutil.RequireSliceNearlyEqual(t, outR, wantR, 1e-5)
}

func TestStereoTwoChannelIRHasNoCrossFeed(t *testing.T) {
	ir := [][]float32{{0.5}, {-0.25}}
	c := newStereoConvolver(t, ir, 48000, 64)

	left := testutil.Impulse(64, 0)
	right := testutil.Impulse(64, 1)
	outL, outR := runStereoBlocks(c, left, right, 64)

	wantL := make([]float32, 64)
	wantL[0] = 0.5
	wantR := make([]float32, 64)
	wantR[1] = -0.25
	testutil.RequireSliceNearlyEqual(t, outL, wantL, 1e-5)
	testutil.RequireSliceNearlyEqual(t, outR, wantR, 1e-5)
}

func TestStereoThreeChannelIRIgnoresThird(t *testing.T) {
	ir := [][]float32{{0.5}, {-0.25}, {99}}
	c := newStereoConvolver(t, ir, 48000, 64)

	left := testutil.Impulse(64, 0)
	right := make([]float32, 64)
	outL, outR := runStereoBlocks(c, left, right, 64)

	wantL := make([]float32, 64)
	wantL[0] = 0.5
	testutil.RequireSliceNearlyEqual(t, outL, wantL, 1e-5)
	testutil.RequireSliceNearlyEqual(t, outR, make([]float32, 64), 1e-5)
}

func TestZeroChannelGainSkipsPair(t *testing.T) {
	// P7: zeroing channel_gain[c] is indistinguishable from an IR
	// whose corresponding channel is silent.
	irFull := [][]float32{{1}, {-0.5}, {0.5}, {1}}
	irZeroed := [][]float32{{1}, {0}, {0.5}, {1}}

	irs := DefaultIRSettings()
	irs.ChannelGain[1] = 0
	gained := newStereoConvolver(t, irFull, 48000, 64, WithIRSettings(irs))
	silent := newStereoConvolver(t, irZeroed, 48000, 64)

	left := testutil.DeterministicNoise(7, 1, 512)
	right := testutil.DeterministicNoise(8, 1, 512)

	gL, gR := runStereoBlocks(gained, left, right, 64)
	sL, sR := runStereoBlocks(silent, left, right, 64)

	testutil.RequireSliceNearlyEqual(t, gL, sL, 1e-7)
	testutil.RequireSliceNearlyEqual(t, gR, sR, 1e-7)
}

func TestResampledIRLoads(t *testing.T) {
	// IR at half the engine rate goes through the resampling adaptor.
	opener := memOpener(24000, map[string][][]float32{"mem:ir": {{1, 0, 0, 0}}})
	c, err := New("mem:ir", 48000, WithOpener(opener), WithSchedule(rt.PolicyOther, 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Reconfigure(64); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	defer c.Release()

	input := testutil.Impulse(64, 0)
	got := runMonoBlocks(c, input, 64)
	if got[0] < 0.9 || got[0] > 1.1 {
		t.Fatalf("resampled IR head = %v, want ~1", got[0])
	}
}

// hugeSource fakes a source longer than the IR limit.
type hugeSource struct{}

func (hugeSource) Read(dst []float32, pos int64, channel int) (int, error) { return 0, io.EOF }
func (hugeSource) Length() int64                                          { return maxIRLength + 1 }
func (hugeSource) Channels() int                                          { return 1 }
func (hugeSource) SampleRate() int                                        { return 48000 }

func TestRejectsOverlongIR(t *testing.T) {
	open := func(string) (audiosrc.Readable, error) { return hugeSource{}, nil }
	_, err := New("huge", 48000, WithOpener(open))
	if !errors.Is(err, ErrIRLoad) {
		t.Fatalf("err = %v, want ErrIRLoad", err)
	}
}

func TestRejectsSourceWithoutChannels(t *testing.T) {
	open := func(string) (audiosrc.Readable, error) {
		return audiosrc.NewMemSource(nil, 48000), nil
	}
	_, err := New("empty", 48000, WithOpener(open))
	if !errors.Is(err, ErrIRLoad) {
		t.Fatalf("err = %v, want ErrIRLoad", err)
	}
}

func TestRejectsUnresolvablePath(t *testing.T) {
	opener := memOpener(48000, nil)
	_, err := New("mem:gone", 48000, WithOpener(opener))
	if !errors.Is(err, ErrIRLoad) {
		t.Fatalf("err = %v, want ErrIRLoad", err)
	}
}

func TestGainInterpolationConverges(t *testing.T) {
	c := newMonoConvolver(t, []float32{1}, 48000, 64)

	// Glide from full wet to half wet.
	c.SetOutputGain(0, 0.5, true)

	input := testutil.DC(1, 64)
	var out []float32
	for i := 0; i < 400; i++ {
		out = make([]float32, 64)
		copy(out, input)
		c.RunMono(out)
	}
	if d := out[63] - 0.5; d > 1e-4 || d < -1e-4 {
		t.Fatalf("wet gain = %v, want 0.5", out[63])
	}
}
