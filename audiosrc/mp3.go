package audiosrc

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// openMp3 decodes an MP3 file. go-mp3 emits 16-bit little-endian PCM
// with two interleaved channels regardless of the source layout.
func openMp3(path string) (Readable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audiosrc: %w", err)
	}
	defer f.Close()

	d, err := gomp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("audiosrc: decoding %s: %w", path, err)
	}

	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("audiosrc: decoding %s: %w", path, err)
	}

	const nChn = 2
	frames := len(pcm) / (2 * nChn)
	data := make([][]float32, nChn)
	for c := range data {
		data[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nChn; c++ {
			v := int16(binary.LittleEndian.Uint16(pcm[2*(i*nChn+c):]))
			data[c][i] = float32(v) / 32768.0
		}
	}

	return NewMemSource(data, d.SampleRate()), nil
}
