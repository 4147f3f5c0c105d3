// Package acquire runs the read, decode, convert and publish cycle that turns
// the sensor stream into stored samples.
//
// A Loop owns one sensor stream and one publisher for its whole life. Frame
// level faults (bad length, bad preamble, store errors) are logged and skipped;
// only losing the sensor connection or cancelling the context ends Run. On every
// exit the publisher and then the stream are closed exactly once.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/deflection/internal/calibration"
	"github.com/banshee-data/deflection/internal/frame"
	"github.com/banshee-data/deflection/internal/monitoring"
	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/sensor"
	"github.com/banshee-data/deflection/internal/timeutil"
)

var (
	// ErrConnection reports that the sensor stream could not be opened.
	ErrConnection = errors.New("sensor connection failed")
	// ErrConnectionLost reports that the sensor stream ended or failed while
	// reading. The loop does not reconnect.
	ErrConnectionLost = errors.New("sensor connection lost")
)

// Fault kinds passed to StatsRecorder.AddSkip and FaultRecorder.RecordFault.
const (
	FaultFraming        = "framing"
	FaultPreamble       = "preamble"
	FaultPublish        = "publish"
	FaultConnection     = "connection"
	FaultConnectionLost = "connection_lost"
)

// DefaultChannel is the frame channel carrying the displacement reading.
const DefaultChannel = 3

// StatsRecorder receives acquisition counters.
type StatsRecorder interface {
	AddFrame(bytes int)
	AddSkip(kind string)
	AddSample(value float64)
	AddPublishError()
}

// FrameMirror receives a copy of every valid raw frame. It must not block.
type FrameMirror interface {
	ForwardAsync(frame []byte)
}

// FaultRecorder persists faults for later inspection.
type FaultRecorder interface {
	RecordFault(kind, detail string) error
}

// SampleTap receives every successfully published sample. It must not block.
type SampleTap interface {
	Offer(s publish.Sample)
}

// Config wires a Loop. Dialer, Model and Publisher are required; the rest
// are optional.
type Config struct {
	Dialer    sensor.Dialer
	Channel   int
	Model     *calibration.Model
	Publisher publish.Publisher

	Stats  StatsRecorder
	Mirror FrameMirror
	Faults FaultRecorder
	Tap    SampleTap
	Clock  timeutil.Clock
}

// Loop is a single acquisition run.
type Loop struct {
	dialer    sensor.Dialer
	channel   int
	model     *calibration.Model
	publisher publish.Publisher
	stats     StatsRecorder
	mirror    FrameMirror
	faults    FaultRecorder
	tap       SampleTap
	clock     timeutil.Clock

	state   atomic.Int32
	started atomic.Bool
}

// New validates cfg and returns a Loop ready to Run.
func New(cfg Config) (*Loop, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("acquire: dialer is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("acquire: calibration model is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("acquire: publisher is required")
	}

	channel := cfg.Channel
	if channel == 0 {
		channel = DefaultChannel
	}
	if !frame.ValidChannel(channel) {
		return nil, fmt.Errorf("acquire: %w: %d", frame.ErrChannel, cfg.Channel)
	}

	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Loop{
		dialer:    cfg.Dialer,
		channel:   channel,
		model:     cfg.Model,
		publisher: cfg.Publisher,
		stats:     stats,
		mirror:    cfg.Mirror,
		faults:    cfg.Faults,
		tap:       cfg.Tap,
		clock:     clock,
	}, nil
}

// State returns the loop's current state. It is safe to call from any goroutine.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run connects to the sensor and processes frames until ctx is cancelled or
// the connection is lost. Cancellation is a clean shutdown and returns nil.
// A Loop can only be run once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("acquire: loop already started")
	}
	defer l.setState(StateTerminated)

	stream, err := l.dialer.Dial(ctx)
	if err != nil {
		l.setState(StateClosing)
		l.release(nil)
		if ctx.Err() != nil {
			log.Printf("Acquisition cancelled while connecting: %v", err)
			return nil
		}
		l.recordFault(FaultConnection, err.Error())
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	l.setState(StateConnected)
	log.Printf("Connected to sensor %v, reading channel %d, publishing over %s", l.dialer, l.channel, l.publisher.Transport())

	// The watcher turns cancellation into an interrupted read so a loop
	// blocked on a silent sensor still shuts down.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			if err := stream.Interrupt(); err != nil {
				log.Printf("Failed to interrupt sensor stream: %v", err)
			}
		case <-stop:
		}
	}()

	runErr := l.readLoop(ctx, stream)

	close(stop)
	wg.Wait()

	l.setState(StateClosing)
	l.release(stream)
	return runErr
}

func (l *Loop) readLoop(ctx context.Context, stream sensor.Stream) error {
	fr := newFrameReader(stream)
	for {
		if ctx.Err() != nil {
			log.Print("Acquisition stopping due to context cancellation")
			return nil
		}

		l.setState(StateReading)
		buf, err := fr.next()
		if err != nil {
			if ctx.Err() != nil {
				log.Print("Acquisition stopping due to context cancellation")
				return nil
			}
			if n := fr.partial(); n > 0 {
				log.Printf("Discarding partial frame of %d bytes", n)
			}
			l.recordFault(FaultConnectionLost, err.Error())
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}

		l.handleFrame(buf, fr)
	}
}

// handleFrame decodes, converts and publishes one candidate frame. Every
// failure is logged and the loop carries on.
func (l *Loop) handleFrame(buf []byte, fr *frameReader) {
	l.setState(StateDecoding)
	l.stats.AddFrame(len(buf))

	f, err := frame.Decode(buf)
	switch {
	case errors.Is(err, frame.ErrPreamble):
		skipped := fr.resync()
		log.Printf("Skipping desynchronised frame, resyncing after %d bytes: %v", skipped, err)
		l.stats.AddSkip(FaultPreamble)
		l.recordFault(FaultPreamble, err.Error())
		return
	case err != nil:
		log.Printf("Skipping frame: %v", err)
		l.stats.AddSkip(FaultFraming)
		l.recordFault(FaultFraming, err.Error())
		return
	}

	if l.mirror != nil {
		l.mirror.ForwardAsync(buf)
	}

	raw, err := f.Channel(l.channel)
	if err != nil {
		// Unreachable: the channel is validated in New.
		log.Printf("Skipping frame: %v", err)
		return
	}
	sample := publish.Sample{
		Value:  l.model.Convert(raw),
		Status: f.Status,
		Time:   l.clock.Now(),
	}
	monitoring.Debugf("Frame %s -> %.4f mm", f, sample.Value)

	l.setState(StatePublishing)
	if err := l.publisher.Publish(sample); err != nil {
		log.Printf("Failed to publish sample (value=%.4f status=%d): %v", sample.Value, sample.Status, err)
		l.stats.AddPublishError()
		l.recordFault(FaultPublish, err.Error())
		return
	}
	l.stats.AddSample(sample.Value)
	if l.tap != nil {
		l.tap.Offer(sample)
	}
}

// release closes the publisher and then the stream. Both are attempted even if
// the first fails; failures are logged.
func (l *Loop) release(stream sensor.Stream) {
	if err := l.publisher.Close(); err != nil {
		log.Printf("Failed to close %s publisher: %v", l.publisher.Transport(), err)
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("Failed to close sensor stream: %v", err)
		}
	}
}

func (l *Loop) recordFault(kind, detail string) {
	if l.faults == nil {
		return
	}
	if err := l.faults.RecordFault(kind, detail); err != nil {
		log.Printf("Failed to journal %s fault: %v", kind, err)
	}
}

// noopStats is used when no StatsRecorder is configured.
type noopStats struct{}

func (noopStats) AddFrame(int)      {}
func (noopStats) AddSkip(string)    {}
func (noopStats) AddSample(float64) {}
func (noopStats) AddPublishError()  {}
