// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

// Package httpapi exposes the member lifecycle as a thin JSON-over-HTTP
// adapter. Handlers only parse parameters and translate error codes to HTTP
// statuses; all semantics live in the member package.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/memberd/memberd/internal/member"
	"github.com/memberd/memberd/internal/observability"
)

// Server serves the member API.
type Server struct {
	addr       string
	svc        *member.LifecycleService
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics enables request and operation counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a member API server.
// addr: listen address in "host:port" format (":8080" for all interfaces).
func NewServer(addr string, svc *member.LifecycleService, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("HTTPAPI_INVALID_DEPS").Errorf("lifecycle service is required")
	}

	s := &Server{
		addr:   addr,
		svc:    svc,
		logger: slog.Default(),
		tracer: otel.Tracer("memberd/httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the complete HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /member/register", s.handleRegister)
	mux.HandleFunc("GET /member/email-auth", s.handleVerifyEmail)
	mux.HandleFunc("POST /member/email-auth/resend", s.handleResendVerification)
	mux.HandleFunc("POST /member/reset/password/request", s.handleResetRequest)
	mux.HandleFunc("GET /member/reset/password", s.handleResetProbe)
	mux.HandleFunc("POST /member/reset/password", s.handleResetPassword)

	return s.instrument(mux)
}

// Start begins serving the member API.
// It returns an error channel that will receive any errors from the HTTP
// server after it starts. The channel is closed when the server stops
// gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("member API server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("member API server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("member API server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the member API server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown member api server").Wrap(err)
		}
	}

	s.logger.Info("member API server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
