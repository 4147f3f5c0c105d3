package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/deflection/internal/acquire"
	"github.com/banshee-data/deflection/internal/journal"
	"github.com/banshee-data/deflection/internal/monitor"
	"github.com/banshee-data/deflection/internal/publish"
	"github.com/banshee-data/deflection/internal/testutil"
)

type fixedStats monitor.Snapshot

func (f fixedStats) Snapshot() monitor.Snapshot { return monitor.Snapshot(f) }

type fixedState acquire.State

func (f fixedState) State() acquire.State { return acquire.State(f) }

type fakeFaults struct {
	faults   []journal.Fault
	sessions []journal.SessionRecord
	err      error
	limit    int
}

func (f *fakeFaults) RecentFaults(ctx context.Context, limit int) ([]journal.Fault, error) {
	f.limit = limit
	return f.faults, f.err
}

func (f *fakeFaults) Sessions(ctx context.Context, limit int) ([]journal.SessionRecord, error) {
	f.limit = limit
	return f.sessions, f.err
}

func newTestServer(faults FaultSource) *Server {
	return NewServer(Config{
		Info:   Info{Sensor: "tcp://10.0.0.5:10001", Channel: 3, Transport: publish.TransportUDP},
		Stats:  fixedStats{Frames: 12, Published: 10, Skipped: map[string]int64{"framing": 2}},
		Loop:   fixedState(acquire.StateReading),
		Faults: faults,
		Hub:    NewSampleHub(),
	})
}

func TestShowStatus(t *testing.T) {
	s := newTestServer(nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "reading", got["state"])
	assert.Equal(t, "dev", got["version"])

	info := got["info"].(map[string]interface{})
	assert.Equal(t, "udp", info["transport"])
	stats := got["stats"].(map[string]interface{})
	assert.Equal(t, 12.0, stats["frames"])
}

func TestShowStatus_MethodNotAllowed(t *testing.T) {
	s := newTestServer(nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodPost, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestListFaults(t *testing.T) {
	faults := &fakeFaults{faults: []journal.Fault{{ID: 2, Kind: "publish", Detail: "store down"}}}
	s := newTestServer(faults)

	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/faults?limit=5"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 5, faults.limit)

	var got []journal.Fault
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "publish", got[0].Kind)
}

func TestListFaults_Errors(t *testing.T) {
	tests := []struct {
		name   string
		faults FaultSource
		path   string
		want   int
	}{
		{"journal disabled", nil, "/api/faults", http.StatusNotFound},
		{"bad limit", &fakeFaults{}, "/api/faults?limit=x", http.StatusBadRequest},
		{"query failure", &fakeFaults{err: errors.New("disk I/O error")}, "/api/faults", http.StatusInternalServerError},
		{"sessions disabled", nil, "/api/sessions", http.StatusNotFound},
		{"sessions failure", &fakeFaults{err: errors.New("locked")}, "/api/sessions", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestServer(tt.faults).ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, tt.path))
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestListSessions(t *testing.T) {
	faults := &fakeFaults{sessions: []journal.SessionRecord{{ID: "abc", Transport: "http"}}}
	rec := httptest.NewRecorder()
	newTestServer(faults).ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/sessions"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 20, faults.limit)
	assert.Contains(t, rec.Body.String(), `"id":"abc"`)
}

func TestTailSamples(t *testing.T) {
	s := newTestServer(nil)
	srv := httptest.NewServer(http.HandlerFunc(s.tailSamples))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	s.hub.Offer(publish.Sample{Value: 25, Status: 1, Time: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)})

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.JSONEq(t, `{"value":25,"status":1,"time":"2024-03-05T12:00:00Z"}`, strings.TrimPrefix(strings.TrimSpace(line), "data: "))
}

func TestAttachDebugRoutes(t *testing.T) {
	mux := http.NewServeMux()
	newTestServer(nil).AttachDebugRoutes(mux)
	_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, "/debug/tail", nil))
	assert.Equal(t, "/debug/tail", pattern)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, statusCodeColor(http.StatusTeapot), "418")
}

func TestServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_ListenError(t *testing.T) {
	err := Serve(context.Background(), "256.0.0.1:bad", http.NotFoundHandler())
	assert.Error(t, err)
}
