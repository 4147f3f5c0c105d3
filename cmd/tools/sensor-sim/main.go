// Command sensor-sim emulates an IF1032/ETH module for bench testing.
//
// It listens on TCP and streams 44-byte measurement frames to every client
// at a fixed rate. The raw value follows a sine wave between -min and -max on
// all three channels. Faults can be injected to exercise the reader's
// recovery paths.
//
// Usage:
//
//	go run ./cmd/tools/sensor-sim [flags]
//
// Flags:
//
//	-addr            Listen address (default: localhost:10001)
//	-rate            Frames per second per client (default: 100)
//	-min, -max       Raw value range (default: 0..20000)
//	-period          Sine period (default: 10s)
//	-truncate-every  Send a truncated frame every N frames (default: 0, off)
//	-garbage-every   Send 3 stray bytes every N frames (default: 0, off)
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/deflection/internal/frame"
	"github.com/banshee-data/deflection/internal/timeutil"
)

const (
	article      = 2420062
	serialNumber = 1170123
	truncatedLen = 20
)

var garbage = []byte{0x00, 0xFF, 0x53}

type simulator struct {
	Rate          float64
	Min, Max      uint32
	Period        time.Duration
	TruncateEvery int
	GarbageEvery  int
	Clock         timeutil.Clock
}

// rawAt returns the sine wave value at elapsed.
func (s *simulator) rawAt(elapsed time.Duration) uint32 {
	if s.Period <= 0 || s.Max <= s.Min {
		return s.Min
	}
	phase := 2 * math.Pi * elapsed.Seconds() / s.Period.Seconds()
	mid := (float64(s.Min) + float64(s.Max)) / 2
	amp := (float64(s.Max) - float64(s.Min)) / 2
	return uint32(math.Round(mid + amp*math.Sin(phase)))
}

// chunk returns the bytes to send for measurement counter n, including any
// injected fault that precedes the frame.
func (s *simulator) chunk(n uint32, elapsed time.Duration) []byte {
	raw := s.rawAt(elapsed)
	f := &frame.Frame{
		Article:            article,
		Serial:             serialNumber,
		MeasurementCounter: n,
		Channels:           [frame.NumChannels]uint32{raw, raw, raw},
	}
	out, _ := f.AppendBinary(nil)

	var prefix []byte
	if s.TruncateEvery > 0 && n > 0 && int(n)%s.TruncateEvery == 0 {
		prefix = append(prefix, out[:truncatedLen]...)
	}
	if s.GarbageEvery > 0 && n > 0 && int(n)%s.GarbageEvery == 0 {
		prefix = append(prefix, garbage...)
	}
	return append(prefix, out...)
}

// stream writes frames to conn until ctx is done or the client goes away.
func (s *simulator) stream(ctx context.Context, conn net.Conn) error {
	interval := time.Duration(float64(time.Second) / s.Rate)
	ticker := s.Clock.NewTicker(interval)
	defer ticker.Stop()

	start := s.Clock.Now()
	var n uint32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := conn.Write(s.chunk(n, s.Clock.Now().Sub(start))); err != nil {
				return err
			}
			n++
		}
	}
}

// Serve accepts clients on ln until ctx is done.
func (s *simulator) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Printf("Client connected: %s", conn.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
			if err := s.stream(ctx, conn); err != nil && ctx.Err() == nil {
				log.Printf("Client %s disconnected: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func main() {
	addr := flag.String("addr", "localhost:10001", "Listen address")
	rate := flag.Float64("rate", 100, "Frames per second per client")
	rawMin := flag.Uint("min", 0, "Minimum raw value")
	rawMax := flag.Uint("max", 20000, "Maximum raw value")
	period := flag.Duration("period", 10*time.Second, "Sine wave period")
	truncateEvery := flag.Int("truncate-every", 0, "Send a truncated frame every N frames (0 disables)")
	garbageEvery := flag.Int("garbage-every", 0, "Send stray bytes every N frames (0 disables)")
	flag.Parse()

	if *rate <= 0 {
		log.Fatal("Error: -rate must be positive")
	}
	if *rawMax > math.MaxUint32 || *rawMin > *rawMax {
		log.Fatal("Error: -min and -max must satisfy 0 <= min <= max <= 4294967295")
	}

	sim := &simulator{
		Rate:          *rate,
		Min:           uint32(*rawMin),
		Max:           uint32(*rawMax),
		Period:        *period,
		TruncateEvery: *truncateEvery,
		GarbageEvery:  *garbageEvery,
		Clock:         timeutil.RealClock{},
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	log.Printf("Simulating IF1032/ETH on %s at %.0f Hz, raw %d..%d", ln.Addr(), *rate, *rawMin, *rawMax)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sim.Serve(ctx, ln); err != nil {
		log.Fatalf("Serve failed: %v", err)
	}
	log.Printf("Shutting down...")
}
