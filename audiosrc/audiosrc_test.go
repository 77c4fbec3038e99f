package audiosrc

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestMemSourceRead(t *testing.T) {
	src := NewMemSource([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}, 48000)

	if src.Length() != 4 || src.Channels() != 2 || src.SampleRate() != 48000 {
		t.Fatalf("unexpected source shape: len=%d chn=%d rate=%d",
			src.Length(), src.Channels(), src.SampleRate())
	}

	dst := make([]float32, 2)
	n, err := src.Read(dst, 1, 1)
	if err != nil || n != 2 {
		t.Fatalf("Read = (%d, %v), want (2, nil)", n, err)
	}
	if dst[0] != 6 || dst[1] != 7 {
		t.Fatalf("read %v, want [6 7]", dst)
	}

	// Partial read at the tail.
	n, err = src.Read(dst, 3, 0)
	if err != nil || n != 1 {
		t.Fatalf("tail read = (%d, %v), want (1, nil)", n, err)
	}

	// Past the end.
	if n, err = src.Read(dst, 4, 0); n != 0 || err != io.EOF {
		t.Fatalf("past-end read = (%d, %v), want (0, EOF)", n, err)
	}

	if _, err := src.Read(dst, 0, 2); err == nil {
		t.Fatal("expected channel range error")
	}
}

func TestChanWrap(t *testing.T) {
	src := NewMemSource([][]float32{{1, 2}, {3, 4}}, 44100)

	c, err := NewChanWrap(src, 1)
	if err != nil {
		t.Fatalf("NewChanWrap: %v", err)
	}
	if c.Channels() != 1 || c.Length() != 2 {
		t.Fatalf("wrap shape: chn=%d len=%d", c.Channels(), c.Length())
	}

	dst := make([]float32, 2)
	if _, err := c.Read(dst, 0, 0); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if dst[0] != 3 || dst[1] != 4 {
		t.Fatalf("read %v, want [3 4]", dst)
	}

	if _, err := NewChanWrap(src, 2); err == nil {
		t.Fatal("expected channel range error")
	}
}

func TestSrcSourceUpsamplesRamp(t *testing.T) {
	// A linear ramp survives cubic interpolation exactly (away from the
	// edges), which makes 2x upsampling easy to check.
	ramp := make([]float32, 64)
	for i := range ramp {
		ramp[i] = float32(i)
	}
	src := NewSrcSource(NewMemSource([][]float32{ramp}, 24000), 48000)

	if src.SampleRate() != 48000 {
		t.Fatalf("rate = %d, want 48000", src.SampleRate())
	}
	wantLen := int64(math.Ceil(64*2.0)) - 1
	if src.Length() != wantLen {
		t.Fatalf("length = %d, want %d", src.Length(), wantLen)
	}

	dst := make([]float32, 100)
	n, err := src.Read(dst, 2, 0)
	if err != nil || n != 100 {
		t.Fatalf("Read = (%d, %v)", n, err)
	}
	for i := 0; i < n; i++ {
		want := float32(2+i) / 2
		if math.Abs(float64(dst[i]-want)) > 1e-4 {
			t.Fatalf("index %d: got %v, want %v", i, dst[i], want)
		}
	}
}

func TestSrcSourceIdentityRatio(t *testing.T) {
	data := []float32{0, 1, 0, -1, 0, 0.5, 0, -0.5}
	src := NewSrcSource(NewMemSource([][]float32{data}, 48000), 48000)

	dst := make([]float32, 4)
	n, err := src.Read(dst, 1, 0)
	if err != nil || n != 4 {
		t.Fatalf("Read = (%d, %v)", n, err)
	}
	for i := range dst {
		if math.Abs(float64(dst[i]-data[1+i])) > 1e-6 {
			t.Fatalf("index %d: got %v, want %v", i, dst[i], data[1+i])
		}
	}
}

func TestOpenFileUnsupported(t *testing.T) {
	if _, err := OpenFile("ir.flac"); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestOpenWavRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ir.wav")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 48000, 16, 1, 1)

	want := []float32{0, 0.5, -0.5, 0.25, -0.25, 1.0 - 1.0/32768}
	ints := make([]int, len(want))
	for i, v := range want {
		ints[i] = int(v * 32768)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 48000},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if src.Channels() != 1 || src.SampleRate() != 48000 {
		t.Fatalf("shape: chn=%d rate=%d", src.Channels(), src.SampleRate())
	}
	if src.Length() != int64(len(want)) {
		t.Fatalf("length = %d, want %d", src.Length(), len(want))
	}

	got := make([]float32, len(want))
	if _, err := src.Read(got, 0, 0); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1.0/32768 {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
