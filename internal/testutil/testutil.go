// Package testutil provides shared test utilities and fixtures: HTTP
// assertions, sensor frame builders and scripted fakes for the stream,
// dialer and publisher seams.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/banshee-data/deflection/internal/frame"
	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/sensor"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// SensorFrame returns a well-formed frame carrying raw on every channel.
func SensorFrame(counter uint32, status int16, raw uint32) *frame.Frame {
	return &frame.Frame{
		Preamble:           frame.Preamble,
		Article:            2420062,
		Serial:             1170123,
		Status:             status,
		MeasurementCounter: counter,
		Channels:           [frame.NumChannels]uint32{raw, raw, raw},
	}
}

// FrameBytes returns the wire encoding of f.
func FrameBytes(t testing.TB, f *frame.Frame) []byte {
	t.Helper()
	b, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

// ScriptedStream is a sensor.Stream that serves queued chunks, one chunk per
// Read at most. Once the chunks run out it returns io.EOF, or with Block set
// it blocks until Interrupt is called.
type ScriptedStream struct {
	Block    bool
	CloseErr error
	Closed   *CloseLog // Optional; records "stream" on Close

	mu          sync.Mutex
	chunks      [][]byte
	closes      int
	interrupted chan struct{}
	drained     chan struct{}
	once        sync.Once
	drainOnce   sync.Once
}

func NewScriptedStream(chunks ...[]byte) *ScriptedStream {
	return &ScriptedStream{
		chunks:      chunks,
		interrupted: make(chan struct{}),
		drained:     make(chan struct{}),
	}
}

func (s *ScriptedStream) Read(p []byte) (int, error) {
	select {
	case <-s.interrupted:
		return 0, sensor.ErrInterrupted
	default:
	}

	s.mu.Lock()
	if len(s.chunks) > 0 {
		n := copy(p, s.chunks[0])
		if n < len(s.chunks[0]) {
			s.chunks[0] = s.chunks[0][n:]
		} else {
			s.chunks = s.chunks[1:]
		}
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	s.drainOnce.Do(func() { close(s.drained) })
	if !s.Block {
		return 0, io.EOF
	}
	<-s.interrupted
	return 0, sensor.ErrInterrupted
}

func (s *ScriptedStream) Interrupt() error {
	s.once.Do(func() { close(s.interrupted) })
	return nil
}

func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.Closed.record("stream")
	return s.CloseErr
}

// Closes reports how many times Close was called.
func (s *ScriptedStream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Drained is closed once every queued chunk has been read.
func (s *ScriptedStream) Drained() <-chan struct{} {
	return s.drained
}

// ScriptedDialer hands out Stream, or fails with Err.
type ScriptedDialer struct {
	Stream sensor.Stream
	Err    error

	mu    sync.Mutex
	dials int
}

func (d *ScriptedDialer) Dial(ctx context.Context) (sensor.Stream, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Stream, nil
}

func (d *ScriptedDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *ScriptedDialer) String() string { return "scripted" }

// RecordingPublisher records published samples. Publish returns the queued
// Errs in order and nil once they run out.
type RecordingPublisher struct {
	Errs     []error
	CloseErr error
	Closed   *CloseLog // Optional; records "publisher" on Close

	mu       sync.Mutex
	samples  []publish.Sample
	attempts int
	closes   int
}

func (p *RecordingPublisher) Publish(s publish.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if len(p.Errs) > 0 {
		err := p.Errs[0]
		p.Errs = p.Errs[1:]
		if err != nil {
			return err
		}
	}
	p.samples = append(p.samples, s)
	return nil
}

func (p *RecordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.Closed.record("publisher")
	return p.CloseErr
}

func (p *RecordingPublisher) Transport() string { return "recording" }

// Samples returns the successfully published samples.
func (p *RecordingPublisher) Samples() []publish.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publish.Sample(nil), p.samples...)
}

func (p *RecordingPublisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *RecordingPublisher) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// CloseLog records the order in which fakes sharing it were closed.
type CloseLog struct {
	mu    sync.Mutex
	names []string
}

func (l *CloseLog) record(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

// Names returns the closed fakes in order.
func (l *CloseLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}
