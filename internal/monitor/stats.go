// Package monitor keeps running counters for the acquisition loop and a
// rolling window of recent measurement values.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/deflection/internal/timeutil"
)

// DefaultWindow is the number of recent values kept for the rolling summary.
const DefaultWindow = 1024

// WindowStats summarises the recent values in millimetres.
type WindowStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Last   float64 `json:"last"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	Uptime        time.Duration    `json:"uptime_ns"`
	Frames        int64            `json:"frames"`
	Bytes         int64            `json:"bytes"`
	Published     int64            `json:"published"`
	PublishErrors int64            `json:"publish_errors"`
	Skipped       map[string]int64 `json:"skipped"`
	Window        WindowStats      `json:"window"`
}

// Stats tracks acquisition counters with thread-safe operations.
type Stats struct {
	mu    sync.Mutex
	clock timeutil.Clock

	frames        int64
	bytes         int64
	published     int64
	publishErrors int64
	skipped       map[string]int64

	// counters at the last LogStats call, for per-interval rates
	lastLog       time.Time
	lastFrames    int64
	lastPublished int64

	window []float64
	next   int
	full   bool

	startTime time.Time
}

// NewStats creates a Stats with a rolling window of size values. A nil clock
// uses the real clock and a non-positive size uses DefaultWindow.
func NewStats(clock timeutil.Clock, size int) *Stats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if size <= 0 {
		size = DefaultWindow
	}
	now := clock.Now()
	return &Stats{
		clock:     clock,
		skipped:   make(map[string]int64),
		window:    make([]float64, size),
		lastLog:   now,
		startTime: now,
	}
}

func (s *Stats) AddFrame(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.bytes += int64(bytes)
}

func (s *Stats) AddSkip(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[kind]++
}

// AddSample counts a published sample and adds its value to the window.
func (s *Stats) AddSample(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published++
	s.window[s.next] = value
	s.next++
	if s.next == len(s.window) {
		s.next = 0
		s.full = true
	}
}

func (s *Stats) AddPublishError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishErrors++
}

// Snapshot returns a copy of the totals and the window summary.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	skipped := make(map[string]int64, len(s.skipped))
	for k, v := range s.skipped {
		skipped[k] = v
	}
	return Snapshot{
		Timestamp:     now,
		Uptime:        now.Sub(s.startTime),
		Frames:        s.frames,
		Bytes:         s.bytes,
		Published:     s.published,
		PublishErrors: s.publishErrors,
		Skipped:       skipped,
		Window:        s.windowStats(),
	}
}

// windowStats must be called with s.mu held.
func (s *Stats) windowStats() WindowStats {
	values := s.window[:s.next]
	if s.full {
		values = s.window
	}
	if len(values) == 0 {
		return WindowStats{}
	}

	last := s.next - 1
	if last < 0 {
		last = len(s.window) - 1
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return WindowStats{
		Count:  len(values),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Last:   s.window[last],
	}
}

// LogStats logs the rates since the previous call together with the window
// summary. Nothing is logged when no frame arrived in the interval.
func (s *Stats) LogStats() {
	s.mu.Lock()
	now := s.clock.Now()
	elapsed := now.Sub(s.lastLog).Seconds()
	frames := s.frames - s.lastFrames
	published := s.published - s.lastPublished
	s.lastLog, s.lastFrames, s.lastPublished = now, s.frames, s.published
	totalBytes := s.bytes
	publishErrors := s.publishErrors
	skipped := formatSkipped(s.skipped)
	w := s.windowStats()
	s.mu.Unlock()

	if frames == 0 || elapsed <= 0 {
		return
	}

	msg := fmt.Sprintf("Acquisition stats (/sec): %.1f frames, %.1f published; totals: %s received",
		float64(frames)/elapsed, float64(published)/elapsed, humanize.Bytes(uint64(totalBytes)))
	if w.Count > 0 {
		msg += fmt.Sprintf("; last %s values: mean %.4f mm, sd %.4f, range [%.4f, %.4f]",
			humanize.Comma(int64(w.Count)), w.Mean, w.StdDev, w.Min, w.Max)
	}
	if skipped != "" {
		msg += "; skipped " + skipped
	}
	if publishErrors > 0 {
		msg += fmt.Sprintf("; %s publish errors", humanize.Comma(publishErrors))
	}
	log.Print(msg)
}

func formatSkipped(m map[string]int64) string {
	if len(m) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%s", k, humanize.Comma(m[k])))
	}
	return strings.Join(parts, " ")
}

// Run calls LogStats every interval until ctx is done.
func (s *Stats) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.LogStats()
		}
	}
}
