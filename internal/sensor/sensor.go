// Package sensor opens the byte stream that carries measurement frames from
// the interface module. The default transport is the IF1032/ETH TCP stream
// server; a directly attached RS422 adapter can be read as a serial port.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"

	// DefaultPort is the IF1032/ETH measurement stream port.
	DefaultPort        = 10001
	DefaultDialTimeout = 5 * time.Second
)

// ErrInterrupted is returned by Read once Interrupt has been called.
var ErrInterrupted = errors.New("sensor stream interrupted")

// Stream is an open sensor connection.
type Stream interface {
	io.ReadCloser
	// Interrupt unblocks a pending Read and makes every later Read return
	// ErrInterrupted. It does not release the connection; Close does.
	Interrupt() error
}

// Dialer opens a Stream. Each call yields an independent connection.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// Endpoint describes where the sensor stream lives.
type Endpoint struct {
	Transport   string
	Host        string
	Port        int
	DialTimeout time.Duration

	SerialPort string
	Serial     PortOptions
}

// NewDialer returns the dialer for e.Transport ("tcp" when empty).
func NewDialer(e Endpoint) (Dialer, error) {
	switch strings.ToLower(strings.TrimSpace(e.Transport)) {
	case "", TransportTCP:
		if strings.TrimSpace(e.Host) == "" {
			return nil, errors.New("sensor host is required for tcp transport")
		}
		port := e.Port
		if port == 0 {
			port = DefaultPort
		}
		if port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid sensor port %d", e.Port)
		}
		timeout := e.DialTimeout
		if timeout <= 0 {
			timeout = DefaultDialTimeout
		}
		return &TCPDialer{Host: e.Host, Port: port, Timeout: timeout}, nil
	case TransportSerial:
		if strings.TrimSpace(e.SerialPort) == "" {
			return nil, errors.New("serial_port is required for serial transport")
		}
		opts, err := e.Serial.Normalize()
		if err != nil {
			return nil, err
		}
		return &SerialDialer{Path: e.SerialPort, Options: opts}, nil
	default:
		return nil, fmt.Errorf("unsupported sensor transport %q: expected %q or %q", e.Transport, TransportTCP, TransportSerial)
	}
}
