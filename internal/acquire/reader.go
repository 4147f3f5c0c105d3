package acquire

import (
	"bytes"
	"io"

	"github.com/banshee-data/deflection/internal/frame"
)

// frameReader cuts the sensor byte stream into candidate frames. Short reads
// are accumulated until a full frame is buffered. When a second preamble
// appears inside a buffered frame, the bytes before it are a truncated frame
// and are returned on their own so the frame after them is not lost.
type frameReader struct {
	r io.Reader
	// One frame plus the rest of a preamble that starts in its last bytes.
	buf  [frame.Size + frame.PreambleSize - 1]byte
	n    int   // bytes held at the front of buf
	drop int   // bytes of the last candidate still to be discarded
	err  error // read error held back until the buffered candidate is consumed
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r}
}

// next returns the next candidate. The slice is only valid until the next call.
func (fr *frameReader) next() ([]byte, error) {
	if fr.drop > 0 {
		copy(fr.buf[:], fr.buf[fr.drop:fr.n])
		fr.n -= fr.drop
		fr.drop = 0
	}
	if fr.err != nil && fr.n < frame.Size {
		return nil, fr.err
	}
	if err := fr.fill(frame.Size); err != nil {
		return nil, err
	}

	size := frame.Size
	if bytes.Equal(fr.buf[:frame.PreambleSize], frame.Preamble[:]) {
		// A preamble cut off by the end of the window needs its remaining
		// bytes before a truncated frame can be told from a valid one.
		if k := preambleTail(fr.buf[:frame.Size]); k > 0 && fr.err == nil {
			fr.err = fr.fill(frame.Size + frame.PreambleSize - k)
		}
		if i := bytes.Index(fr.buf[frame.PreambleSize:fr.n], frame.Preamble[:]); i >= 0 && frame.PreambleSize+i < frame.Size {
			size = frame.PreambleSize + i
		}
	}
	fr.drop = size
	return fr.buf[:size], nil
}

func (fr *frameReader) fill(want int) error {
	if fr.n >= want {
		return nil
	}
	m, err := io.ReadFull(fr.r, fr.buf[fr.n:want])
	fr.n += m
	return err
}

// preambleTail returns the length of the longest proper preamble prefix that
// ends b, or 0.
func preambleTail(b []byte) int {
	for k := frame.PreambleSize - 1; k > 0; k-- {
		if bytes.HasSuffix(b, frame.Preamble[:k]) {
			return k
		}
	}
	return 0
}

// resync discards the current candidate only up to the next possible preamble
// instead of a whole frame length. It returns the number of bytes skipped.
func (fr *frameReader) resync() int {
	fr.drop = frame.FindPreamble(fr.buf[:fr.n])
	return fr.drop
}

// partial reports how many bytes of an incomplete frame are buffered.
func (fr *frameReader) partial() int {
	return fr.n - fr.drop
}
