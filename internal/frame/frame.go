package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

/*
IF1032/ETH measurement frame

The IF1032/ETH module streams one fixed-size record per measurement over a raw
TCP socket. Records are not delimited beyond their fixed length, so a reader
that loses its place in the stream can only recover by scanning for the next
preamble.

FRAME LAYOUT (44 bytes, all integers little-endian):
├── 0  Preamble            [4]byte  "SAEM"
├── 4  Article number      uint32
├── 8  Serial number       uint32
├── 12 X1 (reserved)       uint64
├── 20 X2 (reserved)       uint16
├── 22 Status              int16
├── 24 Band-pass filter    uint32
├── 28 Measurement counter uint32
├── 32 Channel 1           uint32
├── 36 Channel 2           uint32
└── 40 Channel 3           uint32
*/

const (
	Size         = 44 // Total frame size in bytes
	NumChannels  = 3  // Channel values carried per frame
	PreambleSize = 4

	offArticle = 4
	offSerial  = 8
	offX1      = 12
	offX2      = 20
	offStatus  = 22
	offBPF     = 24
	offCounter = 28
	offCh1     = 32
)

// Preamble is the magic marker that starts every valid frame.
var Preamble = [PreambleSize]byte{'S', 'A', 'E', 'M'}

var (
	// ErrFraming reports a buffer whose length is not exactly Size. The reader
	// should discard it and continue from a fresh frame boundary.
	ErrFraming = errors.New("invalid frame length")
	// ErrPreamble reports a full-length buffer that does not start with
	// Preamble, meaning the stream is desynchronised.
	ErrPreamble = errors.New("invalid frame preamble")
	// ErrChannel reports a channel index outside 1..NumChannels.
	ErrChannel = errors.New("invalid channel")
)

// Frame is one decoded measurement record.
type Frame struct {
	Preamble           [PreambleSize]byte
	Article            uint32 // Article number of the connected sensor
	Serial             uint32 // Serial number of the connected sensor
	X1                 uint64 // Reserved
	X2                 uint16 // Reserved
	Status             int16  // Module status word, passed through to the store
	BandPassFilter     uint32 // Band-pass filter setting
	MeasurementCounter uint32 // Incremented by the module for every measurement
	Channels           [NumChannels]uint32
}

// ValidChannel reports whether n is a usable 1-based channel index.
func ValidChannel(n int) bool {
	return n >= 1 && n <= NumChannels
}

// Decode parses and validates a single frame. It never retains buf.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFraming, len(buf), Size)
	}
	if !bytes.Equal(buf[:PreambleSize], Preamble[:]) {
		return nil, fmt.Errorf("%w: got % X (%q), want %q", ErrPreamble, buf[:PreambleSize], buf[:PreambleSize], Preamble[:])
	}

	f := &Frame{
		Article:            binary.LittleEndian.Uint32(buf[offArticle:]),
		Serial:             binary.LittleEndian.Uint32(buf[offSerial:]),
		X1:                 binary.LittleEndian.Uint64(buf[offX1:]),
		X2:                 binary.LittleEndian.Uint16(buf[offX2:]),
		Status:             int16(binary.LittleEndian.Uint16(buf[offStatus:])),
		BandPassFilter:     binary.LittleEndian.Uint32(buf[offBPF:]),
		MeasurementCounter: binary.LittleEndian.Uint32(buf[offCounter:]),
	}
	copy(f.Preamble[:], buf[:PreambleSize])
	for i := range f.Channels {
		f.Channels[i] = binary.LittleEndian.Uint32(buf[offCh1+4*i:])
	}
	return f, nil
}

// Channel returns the raw value of the 1-based channel n.
func (f *Frame) Channel(n int) (uint32, error) {
	if !ValidChannel(n) {
		return 0, fmt.Errorf("%w: %d (want 1..%d)", ErrChannel, n, NumChannels)
	}
	return f.Channels[n-1], nil
}

// AppendBinary appends the wire encoding of f to b. A zero Preamble is
// written as the standard one.
func (f *Frame) AppendBinary(b []byte) ([]byte, error) {
	preamble := f.Preamble
	if preamble == ([PreambleSize]byte{}) {
		preamble = Preamble
	}
	b = append(b, preamble[:]...)
	b = binary.LittleEndian.AppendUint32(b, f.Article)
	b = binary.LittleEndian.AppendUint32(b, f.Serial)
	b = binary.LittleEndian.AppendUint64(b, f.X1)
	b = binary.LittleEndian.AppendUint16(b, f.X2)
	b = binary.LittleEndian.AppendUint16(b, uint16(f.Status))
	b = binary.LittleEndian.AppendUint32(b, f.BandPassFilter)
	b = binary.LittleEndian.AppendUint32(b, f.MeasurementCounter)
	for _, ch := range f.Channels {
		b = binary.LittleEndian.AppendUint32(b, ch)
	}
	return b, nil
}

// MarshalBinary returns the 44-byte wire encoding of f.
func (f *Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, Size))
}

// String summarises the decoded header for log lines.
func (f *Frame) String() string {
	return fmt.Sprintf("article=%d serial=%d status=%d bpf=%d counter=%d ch=%v",
		f.Article, f.Serial, f.Status, f.BandPassFilter, f.MeasurementCounter, f.Channels)
}

// FindPreamble returns the offset of the first position after index 0 where
// a frame could start: either a full Preamble, or a prefix of it running to
// the end of buf. It returns len(buf) when no such position exists.
func FindPreamble(buf []byte) int {
	for i := 1; i < len(buf); i++ {
		rest := buf[i:]
		if len(rest) >= PreambleSize {
			if bytes.Equal(rest[:PreambleSize], Preamble[:]) {
				return i
			}
			continue
		}
		if bytes.Equal(rest, Preamble[:len(rest)]) {
			return i
		}
	}
	return len(buf)
}
