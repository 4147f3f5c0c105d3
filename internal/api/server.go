// Package api serves the read-only diagnostics surface of the acquisition
// service: a status document, the fault journal and a live tail of published
// samples.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/deflection/internal/acquire"
	"github.com/banshee-data/deflection/internal/httputil"
	"github.com/banshee-data/deflection/internal/journal"
	"github.com/banshee-data/deflection/internal/monitor"
	"github.com/banshee-data/deflection/internal/version"
)

// StatsSource provides acquisition counters.
type StatsSource interface {
	Snapshot() monitor.Snapshot
}

// StateSource reports the acquisition loop state.
type StateSource interface {
	State() acquire.State
}

// FaultSource reads the fault journal.
type FaultSource interface {
	RecentFaults(ctx context.Context, limit int) ([]journal.Fault, error)
	Sessions(ctx context.Context, limit int) ([]journal.SessionRecord, error)
}

// Info is static process information included in the status document.
type Info struct {
	Sensor    string `json:"sensor"`
	Channel   int    `json:"channel"`
	Transport string `json:"transport"`
	Session   string `json:"session,omitempty"`
}

// Config wires a Server. Only Stats and Loop are required.
type Config struct {
	Info   Info
	Stats  StatsSource
	Loop   StateSource
	Faults FaultSource
	Hub    *SampleHub
}

type Server struct {
	info   Info
	stats  StatsSource
	loop   StateSource
	faults FaultSource
	hub    *SampleHub
}

func NewServer(cfg Config) *Server {
	return &Server{
		info:   cfg.Info,
		stats:  cfg.Stats,
		loop:   cfg.Loop,
		faults: cfg.Faults,
		hub:    cfg.Hub,
	}
}

// StatusResponse is the /api/status document.
type StatusResponse struct {
	State     acquire.State    `json:"state"`
	Version   string           `json:"version"`
	GitSHA    string           `json:"git_sha"`
	BuildTime string           `json:"build_time"`
	Info      Info             `json:"info"`
	Stats     monitor.Snapshot `json:"stats"`
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/faults", s.listFaults)
	mux.HandleFunc("/api/sessions", s.listSessions)
	return mux
}

// AttachDebugRoutes mounts the live sample tail under /debug/tail. The tsweb
// debugger limits /debug/ to local and tailnet clients.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	if s.hub == nil {
		return
	}
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("tail", s.tailSamples)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, StatusResponse{
		State:     s.loop.State(),
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
		Info:      s.info,
		Stats:     s.stats.Snapshot(),
	})
}

func (s *Server) listFaults(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.faults == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "fault journal is not enabled")
		return
	}
	limit, err := httputil.QueryLimit(r, 100, 1000)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	faults, err := s.faults.RecentFaults(r.Context(), limit)
	if err != nil {
		log.Printf("failed to list faults: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to read fault journal")
		return
	}
	httputil.WriteJSONOK(w, faults)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.faults == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "fault journal is not enabled")
		return
	}
	limit, err := httputil.QueryLimit(r, 20, 200)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.faults.Sessions(r.Context(), limit)
	if err != nil {
		log.Printf("failed to list sessions: %v", err)
		httputil.WriteJSONError(w, http.StatusInternalServerError, "failed to read session journal")
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

// tailSamples streams published samples as server-sent events.
func (s *Server) tailSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case sample, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(tailEvent{
				Value:  sample.Value,
				Status: sample.Status,
				Time:   sample.Time.UTC(),
			})
			if err != nil {
				log.Printf("failed to encode tail event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type tailEvent struct {
	Value  float64   `json:"value"`
	Status int16     `json:"status"`
	Time   time.Time `json:"time"`
}

// Serve runs an HTTP server on addr until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Debug server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("debug server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
