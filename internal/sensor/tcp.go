package sensor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// TCPDialer connects to the IF1032/ETH stream server.
type TCPDialer struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (d *TCPDialer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d *TCPDialer) Dial(ctx context.Context) (Stream, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return nil, err
	}
	return NewConnStream(conn), nil
}

func (d *TCPDialer) String() string {
	return "tcp://" + d.Address()
}

// ConnStream adapts a net.Conn to Stream. Interrupt is implemented with an
// immediate read deadline.
type ConnStream struct {
	net.Conn
	interrupted atomic.Bool
}

func NewConnStream(conn net.Conn) *ConnStream {
	return &ConnStream{Conn: conn}
}

func (s *ConnStream) Read(p []byte) (int, error) {
	if s.interrupted.Load() {
		return 0, ErrInterrupted
	}
	n, err := s.Conn.Read(p)
	if err != nil && s.interrupted.Load() {
		return n, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return n, err
}

func (s *ConnStream) Interrupt() error {
	s.interrupted.Store(true)
	return s.Conn.SetReadDeadline(time.Now())
}
