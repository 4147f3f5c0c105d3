package sensor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// serialPollInterval bounds how long an interrupted serial read can stay blocked.
const serialPollInterval = 100 * time.Millisecond

// SerialPorter is the subset of serial.Port the stream needs.
type SerialPorter interface {
	io.ReadCloser
	SetReadTimeout(timeout time.Duration) error
}

// PortOptions describes the serial line parameters of an RS422 adapter.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the structure go.bug.st/serial expects.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialOpener opens a serial port; replaced in tests.
type SerialOpener func(path string, mode *serial.Mode) (SerialPorter, error)

func openSerial(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// SerialDialer opens a local serial device that carries the frame stream.
type SerialDialer struct {
	Path    string
	Options PortOptions
	Open    SerialOpener
}

func (d *SerialDialer) Dial(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := d.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	open := d.Open
	if open == nil {
		open = openSerial
	}
	port, err := open(d.Path, mode)
	if err != nil {
		return nil, err
	}
	return NewPortStream(port)
}

func (d *SerialDialer) String() string {
	return "serial://" + d.Path
}

// PortStream adapts a serial port to Stream. Reads poll with a short timeout
// so Interrupt is observed without closing the port.
type PortStream struct {
	port        SerialPorter
	interrupted atomic.Bool
}

func NewPortStream(port SerialPorter) (*PortStream, error) {
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}
	return &PortStream{port: port}, nil
}

func (s *PortStream) Read(p []byte) (int, error) {
	for {
		if s.interrupted.Load() {
			return 0, ErrInterrupted
		}
		n, err := s.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		// n == 0 with no error is a read timeout.
	}
}

func (s *PortStream) Interrupt() error {
	s.interrupted.Store(true)
	return nil
}

func (s *PortStream) Close() error {
	return s.port.Close()
}
