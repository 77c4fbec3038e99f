package audiosrc

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// openVorbis decodes an Ogg Vorbis file.
func openVorbis(path string) (Readable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audiosrc: %w", err)
	}
	defer f.Close()

	r, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("audiosrc: decoding %s: %w", path, err)
	}

	nChn := r.Channels()
	if nChn < 1 {
		return nil, ErrNoChannels
	}

	var interleaved []float32
	buf := make([]float32, 4096*nChn)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			interleaved = append(interleaved, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audiosrc: decoding %s: %w", path, err)
		}
	}

	return NewMemSource(deinterleave(interleaved, nChn), r.SampleRate()), nil
}
