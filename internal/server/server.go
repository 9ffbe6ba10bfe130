// Package server exposes the dispatcher and the experiment over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/dualpath/internal/abtest"
	"github.com/haasonsaas/dualpath/internal/dispatch"
)

const defaultMaxBodyBytes = 1 << 20

// Dispatcher routes operations to a plan.
type Dispatcher interface {
	Operations() []string
	Handle(ctx context.Context, name string, args json.RawMessage) (dispatch.Response, error)
	HandleWithFallback(ctx context.Context, name string, args json.RawMessage) (dispatch.Response, error)
}

// Experiment is the read and reset surface of abtest.Service.
type Experiment interface {
	Config() abtest.Config
	Metrics() abtest.Snapshot
	Analyze() abtest.Analysis
	Export(format abtest.Format) ([]byte, error)
	Reset()
}

// RequestRecorder observes finished HTTP requests.
type RequestRecorder interface {
	RecordHTTPRequest(method, path, statusCode string, duration time.Duration)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server serves the HTTP API.
type Server struct {
	dispatcher Dispatcher
	experiment Experiment

	metrics      http.Handler
	recorder     RequestRecorder
	checks       map[string]HealthCheck
	maxBodyBytes int64
	logger       *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRequestRecorder records request counts and latency.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// WithMaxBodyBytes limits operation request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server.
func New(dispatcher Dispatcher, experiment Experiment, opts ...Option) *Server {
	s := &Server{
		dispatcher:   dispatcher,
		experiment:   experiment,
		checks:       make(map[string]HealthCheck),
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("GET /v1/operations", s.handleListOperations)
	mux.HandleFunc("POST /v1/operations/{name}", s.handleOperation)

	mux.HandleFunc("GET /v1/abtest/metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/abtest/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /v1/abtest/export", s.handleExport)
	mux.HandleFunc("GET /v1/abtest/config", s.handleConfig)
	mux.HandleFunc("POST /v1/abtest/reset", s.handleReset)

	return s.withRequestID(s.withMetrics(mux))
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
