package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/flow"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// DefaultAddr is the default listen address of the health endpoints.
const DefaultAddr = ":8000"

// Opts holds API server configuration.
type Opts struct {
	Addr string

	// Flow configuration passed through to the dispatcher.
	Flow flow.Config

	// Session maintenance bounds.
	CleanupInterval time.Duration
	SessionTTL      time.Duration
	SessionCapacity int

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFlowConfig sets the dispatcher's flow configuration.
func WithFlowConfig(cfg flow.Config) Option {
	return func(o *Opts) { o.Flow = cfg }
}

// WithCleanupInterval sets the background maintenance interval.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Opts) { o.CleanupInterval = d }
}

// WithSessionBounds sets the session TTL and capacity.
func WithSessionBounds(ttl time.Duration, capacity int) Option {
	return func(o *Opts) { o.SessionTTL = ttl; o.SessionCapacity = capacity }
}

// WithRateLimit sets the per-actor admission bounds.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(o *Opts) { o.RateLimitRequests = requests; o.RateLimitWindow = window }
}

// DispatchStatus reports whether the update dispatch loop is active. The
// flow.Dispatcher satisfies it.
type DispatchStatus interface {
	Running() bool
}

// Server serves /health and /ready and tracks the background heartbeat.
type Server struct {
	st   store.Store
	disp DispatchStatus

	// readyWindow bounds how stale the heartbeat may be before /ready fails.
	readyWindow time.Duration

	mu       sync.Mutex
	lastBeat time.Time
}

// NewServer creates a health server over the dispatcher and store. interval
// is the maintenance interval; the heartbeat may lag up to three of them.
func NewServer(st store.Store, disp DispatchStatus, interval time.Duration) *Server {
	return &Server{
		st:          st,
		disp:        disp,
		readyWindow: 3 * interval,
		lastBeat:    time.Now(),
	}
}

// Beat records one background loop iteration.
func (s *Server) Beat() {
	s.mu.Lock()
	s.lastBeat = time.Now()
	s.mu.Unlock()
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	return mux
}

// healthHandler reports process liveness only.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"state": "up"}))
}

// readyHandler reports whether the service can do useful work: the dispatch
// loop runs, the store answers, and the background loop has beaten recently.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !s.disp.Running() {
		slog.Warn("Server.readyHandler: dispatcher not running")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("dispatcher not running"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := s.st.GetFlowState(ctx, 0); err != nil {
		slog.Warn("Server.readyHandler: store unreachable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("store unreachable"))
		return
	}

	s.mu.Lock()
	stale := time.Since(s.lastBeat) > s.readyWindow
	s.mu.Unlock()
	if stale {
		slog.Warn("Server.readyHandler: background loop heartbeat stale")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("background loop stalled"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"state": "ready"}))
}
