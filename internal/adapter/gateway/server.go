// Package gateway exposes the orchestrator over HTTP: a streaming
// NDJSON run endpoint, session management, and a websocket firehose of
// process events for dashboards.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"conductor-ai/internal/adapter/history"
	"conductor-ai/internal/domain"
	"conductor-ai/internal/infra/config"
	"conductor-ai/internal/infra/middleware"
	"conductor-ai/internal/usecase/eventbus"
	"conductor-ai/internal/usecase/orchestrate"
)

// Runner starts one orchestration and yields its ordered event stream.
type Runner interface {
	Run(ctx context.Context, history []domain.Message) <-chan domain.RunEvent
}

// HistoryStore is the session transcript persistence the gateway uses
// when a request names a session. nil disables sessions.
type HistoryStore interface {
	CreateSession(ctx context.Context) (string, error)
	Append(ctx context.Context, sessionID string, msgs ...domain.Message) error
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)
	Sessions(ctx context.Context) ([]history.SessionInfo, error)
	Delete(ctx context.Context, sessionID string) error
}

// Server is the HTTP gateway.
type Server struct {
	cfg      config.GatewayConfig
	runner   Runner
	registry *orchestrate.Registry
	history  HistoryStore  // nil = sessions disabled
	bus      *eventbus.Bus // nil = firehose disabled
	logger   *slog.Logger

	httpSrv   *http.Server
	boundAddr atomic.Value // string
	startedAt time.Time

	runsStarted   atomic.Uint64
	runsFailed    atomic.Uint64
	runsCompleted atomic.Uint64
}

// NewServer wires the gateway. history and bus may be nil.
func NewServer(cfg config.GatewayConfig, runner Runner, registry *orchestrate.Registry,
	history HistoryStore, bus *eventbus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		runner:   runner,
		registry: registry,
		history:  history,
		bus:      bus,
		logger:   logger,
	}
}

// Handler builds the routed, middleware-wrapped handler. Exported so
// tests can drive the gateway through httptest.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", s.handleRun)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	var h http.Handler = mux
	h = s.limitBody(h)
	if s.cfg.RequestsPerMin > 0 {
		h = middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)(h)
	}
	h = middleware.SecurityHeaders(h)
	return h
}

// Start listens and serves until ctx is cancelled. Write timeouts are
// intentionally absent: run streams are long-lived.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return domain.WrapOp("gateway.listen", err)
	}
	s.boundAddr.Store(ln.Addr().String())
	s.startedAt = time.Now()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutCtx); err != nil {
			s.logger.Warn("gateway shutdown", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return domain.WrapOp("gateway.serve", err)
	}
	return nil
}

// Addr returns the bound listen address once Start has run.
func (s *Server) Addr() string {
	if v := s.boundAddr.Load(); v != nil {
		return v.(string)
	}
	return s.cfg.Addr
}

// limitBody caps request bodies so a hostile client cannot exhaust
// memory through the JSON decoder.
func (s *Server) limitBody(next http.Handler) http.Handler {
	max := s.cfg.MaxBodyBytes
	if max <= 0 {
		max = 1 << 20
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body with the domain error code.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  domain.ErrorCode(err),
	})
}
