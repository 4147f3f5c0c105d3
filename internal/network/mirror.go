// Package network copies raw sensor frames to a UDP tap so a second consumer
// (a logger, a test bench, a replay recorder) can watch the stream without a
// second TCP connection to the interface module.
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the number of frames buffered for sending.
const DefaultQueueSize = 1000

// FrameMirror sends frames to a UDP address from its own goroutine. Frames
// offered while the queue is full are dropped and counted.
type FrameMirror struct {
	conn        *net.UDPConn
	queue       chan []byte
	logInterval time.Duration
	address     string

	dropped atomic.Int64
	failed  atomic.Int64
	sent    atomic.Int64

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewFrameMirror resolves and dials host:port. Nothing is sent until Start.
func NewFrameMirror(host string, port int, logInterval time.Duration) (*FrameMirror, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mirror address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror connection: %w", err)
	}

	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &FrameMirror{
		conn:        conn,
		queue:       make(chan []byte, DefaultQueueSize),
		logInterval: logInterval,
		address:     address,
		stop:        make(chan struct{}),
	}, nil
}

// Start runs the sender until ctx is done or Close is called. Write errors are
// logged at most once per log interval.
func (m *FrameMirror) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		failures := 0
		var lastErr error
		var reportedDrops int64
		ticker := time.NewTicker(m.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case b := <-m.queue:
				if _, err := m.conn.Write(b); err != nil {
					failures++
					lastErr = err
					m.failed.Add(1)
					continue
				}
				m.sent.Add(1)
			case <-ticker.C:
				dropped := m.dropped.Load()
				if msg := m.summary(failures, lastErr, dropped-reportedDrops); msg != "" {
					log.Print(msg)
				}
				failures = 0
				lastErr = nil
				reportedDrops = dropped
			}
		}
	}()

	log.Printf("Mirroring raw frames to %s", m.address)
}

// summary describes the problems seen in one log interval, or returns "" when
// there were none.
func (m *FrameMirror) summary(failures int, lastErr error, dropped int64) string {
	switch {
	case failures > 0 && dropped > 0:
		return fmt.Sprintf("Mirror %s: %d frames failed (latest: %v), %d dropped on a full queue", m.address, failures, lastErr, dropped)
	case failures > 0:
		return fmt.Sprintf("Mirror %s: %d frames failed (latest: %v)", m.address, failures, lastErr)
	case dropped > 0:
		return fmt.Sprintf("Mirror %s: %d frames dropped on a full queue", m.address, dropped)
	}
	return ""
}

// ForwardAsync queues a copy of frame without blocking.
func (m *FrameMirror) ForwardAsync(frame []byte) {
	b := make([]byte, len(frame))
	copy(b, frame)

	select {
	case m.queue <- b:
	default:
		m.dropped.Add(1)
	}
}

// Counts reports frames sent, dropped on a full queue, and failed to write.
func (m *FrameMirror) Counts() (sent, dropped, failed int64) {
	return m.sent.Load(), m.dropped.Load(), m.failed.Load()
}

func (m *FrameMirror) Address() string {
	return m.address
}

// Close stops the sender and closes the socket. Frames still queued are
// discarded.
func (m *FrameMirror) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return m.conn.Close()
}
