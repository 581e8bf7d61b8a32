// Package api exposes the counting engine's state over HTTP: current counts
// and statistics, persisted crossings and rollups, rendered reports, and a
// WebSocket feed of per-frame updates for visualization sinks.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crosswatch-data/crossing.report/internal/counter"
	"github.com/crosswatch-data/crossing.report/internal/db"
	"github.com/crosswatch-data/crossing.report/internal/geom"
	"github.com/crosswatch-data/crossing.report/internal/httputil"
	"github.com/crosswatch-data/crossing.report/internal/monitoring"
	"github.com/crosswatch-data/crossing.report/internal/report"
	"github.com/crosswatch-data/crossing.report/internal/units"
	"github.com/crosswatch-data/crossing.report/internal/version"
)

// Snapshot is the engine state published after each processed frame. The
// engine itself is single-threaded; the processing loop pushes snapshots here
// so HTTP readers never touch live engine state.
type Snapshot struct {
	RunID        string              `json:"run_id"`
	Line         geom.Line           `json:"line"`
	Counts       counter.Counts      `json:"counts"`
	Stats        counter.RunStats    `json:"stats"`
	Frame        counter.FrameSummary `json:"frame"`
	TrafficLevel units.TrafficLevel  `json:"traffic_level"`
}

// StatusStore holds the latest snapshot behind a lock.
type StatusStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatusStore creates an empty status store.
func NewStatusStore() *StatusStore {
	return &StatusStore{}
}

// Update replaces the published snapshot.
func (s *StatusStore) Update(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// Snapshot returns the latest published snapshot.
func (s *StatusStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Server serves the counting API.
type Server struct {
	status *StatusStore
	db     *db.DB
	hub    *Hub
}

// NewServer creates an API server over the given status store and database.
func NewServer(status *StatusStore, database *db.DB) *Server {
	return &Server{
		status: status,
		db:     database,
		hub:    NewHub(),
	}
}

// Publish updates the status store and pushes the frame summary to live
// WebSocket subscribers. Called by the processing loop after every frame.
func (s *Server) Publish(snap Snapshot) {
	s.status.Update(snap)
	s.hub.Broadcast(snap)
}

// ServeMux returns the API route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/counts", s.showCounts)
	mux.HandleFunc("/crossings", s.listCrossings)
	mux.HandleFunc("/rollup", s.showRollup)
	mux.HandleFunc("/runs", s.listRuns)
	mux.HandleFunc("/config", s.showConfig)
	mux.HandleFunc("/report", s.showReport)
	mux.HandleFunc("/live", s.hub.Handle)
	return mux
}

func (s *Server) showCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status.Snapshot())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.status.Snapshot()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"run_id":  snap.RunID,
		"line":    snap.Line,
		"version": version.String(),
	})
}

// runIDFor resolves the run id from the query, defaulting to the active run.
func (s *Server) runIDFor(r *http.Request) string {
	if id := r.URL.Query().Get("run_id"); id != "" {
		return id
	}
	return s.status.Snapshot().RunID
}

func (s *Server) listCrossings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	runID := s.runIDFor(r)
	if runID == "" {
		httputil.BadRequest(w, "no active run; pass run_id")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	crossings, err := s.db.ListCrossings(runID, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to list crossings: "+err.Error())
		return
	}
	if crossings == nil {
		crossings = []*db.Crossing{}
	}
	httputil.WriteJSONOK(w, crossings)
}

func (s *Server) showRollup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	runID := s.runIDFor(r)
	if runID == "" {
		httputil.BadRequest(w, "no active run; pass run_id")
		return
	}

	buckets, err := s.db.CrossingsPerMinute(runID)
	if err != nil {
		httputil.InternalServerError(w, "failed to roll up crossings: "+err.Error())
		return
	}
	if buckets == nil {
		buckets = []db.MinuteBucket{}
	}
	httputil.WriteJSONOK(w, buckets)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	runID := s.runIDFor(r)
	if runID == "" {
		httputil.BadRequest(w, "no active run; pass run_id")
		return
	}

	rep, err := report.Build(s.db, runID)
	if err != nil {
		httputil.NotFound(w, "failed to build report: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := rep.RenderHTML(w); err != nil {
		monitoring.Logf("failed to render report for run %s: %v", runID, err)
	}
}

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, status, and duration for each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
