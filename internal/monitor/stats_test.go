package monitor

import (
	"bytes"
	"context"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deflection/internal/timeutil"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	log.SetOutput(buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return buf
}

func TestStats_Snapshot(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	s := NewStats(clock, 8)

	for _, v := range []float64{24, 25, 26} {
		s.AddFrame(44)
		s.AddSample(v)
	}
	s.AddFrame(20)
	s.AddSkip("framing")
	s.AddPublishError()
	clock.Advance(10 * time.Second)

	want := Snapshot{
		Timestamp:     epoch.Add(10 * time.Second),
		Uptime:        10 * time.Second,
		Frames:        4,
		Bytes:         152,
		Published:     3,
		PublishErrors: 1,
		Skipped:       map[string]int64{"framing": 1},
		Window:        WindowStats{Count: 3, Mean: 25, StdDev: 1, Min: 24, Max: 26, Last: 26},
	}
	got := s.Snapshot()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStats_WindowWraps(t *testing.T) {
	s := NewStats(timeutil.NewMockClock(epoch), 4)
	for i := 1; i <= 10; i++ {
		s.AddSample(float64(i))
	}

	w := s.Snapshot().Window
	assert.Equal(t, 4, w.Count)
	assert.Equal(t, 7.0, w.Min)
	assert.Equal(t, 10.0, w.Max)
	assert.Equal(t, 10.0, w.Last)
	assert.InDelta(t, 8.5, w.Mean, 1e-9)
}

func TestStats_SingleValue(t *testing.T) {
	s := NewStats(nil, 0)
	s.AddSample(3)

	w := s.Snapshot().Window
	assert.Equal(t, 1, w.Count)
	assert.False(t, math.IsNaN(w.StdDev))
	assert.Equal(t, 0.0, w.StdDev)
}

func TestStats_EmptyWindow(t *testing.T) {
	s := NewStats(nil, 0)
	assert.Equal(t, WindowStats{}, s.Snapshot().Window)
}

func TestStats_LogStats(t *testing.T) {
	buf := captureLog(t)
	clock := timeutil.NewMockClock(epoch)
	s := NewStats(clock, 16)

	s.LogStats()
	assert.Empty(t, buf.String(), "no frames, nothing logged")

	for i := 0; i < 20; i++ {
		s.AddFrame(44)
		s.AddSample(25)
	}
	s.AddSkip("preamble")
	s.AddPublishError()
	clock.Advance(10 * time.Second)
	s.LogStats()

	out := buf.String()
	assert.Contains(t, out, "2.0 frames")
	assert.Contains(t, out, "880 B received")
	assert.Contains(t, out, "skipped preamble=1")
	assert.Contains(t, out, "1 publish errors")
}

func TestStats_Run(t *testing.T) {
	buf := captureLog(t)
	clock := timeutil.NewMockClock(epoch)
	s := NewStats(clock, 4)
	s.AddFrame(44)
	s.AddSample(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Minute)
		close(done)
	}()

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return strings.Contains(buf.String(), "Acquisition stats")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestFormatSkipped(t *testing.T) {
	assert.Equal(t, "", formatSkipped(nil))
	assert.Equal(t, "framing=1,200 preamble=3", formatSkipped(map[string]int64{"preamble": 3, "framing": 1200}))
}
