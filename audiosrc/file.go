package audiosrc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// OpenFile opens an IR file as a Readable, decoded fully into memory.
// The format is selected by file extension: .wav, .mp3, .ogg/.oga.
func OpenFile(path string) (Readable, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return openWav(path)
	case ".mp3":
		return openMp3(path)
	case ".ogg", ".oga":
		return openVorbis(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func openWav(path string) (Readable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audiosrc: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("audiosrc: %s is not a valid WAV file", path)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audiosrc: decoding %s: %w", path, err)
	}

	nChn := buf.Format.NumChannels
	if nChn < 1 {
		return nil, ErrNoChannels
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	scale := float32(1.0)
	if bitDepth > 1 {
		scale = 1.0 / float32(int64(1)<<(bitDepth-1))
	}

	frames := len(buf.Data) / nChn
	data := make([][]float32, nChn)
	for c := range data {
		data[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nChn; c++ {
			data[c][i] = float32(buf.Data[i*nChn+c]) * scale
		}
	}

	return NewMemSource(data, buf.Format.SampleRate), nil
}

// deinterleave splits interleaved samples into per-channel slices.
func deinterleave(interleaved []float32, nChn int) [][]float32 {
	frames := len(interleaved) / nChn
	data := make([][]float32, nChn)
	for c := range data {
		data[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nChn; c++ {
			data[c][i] = interleaved[i*nChn+c]
		}
	}
	return data
}
