// Package gateway serves a namespace over a minimal HTTP/1.1 subset.
//
// Connections are handled one at a time on the accepting goroutine: read
// the request line, headers and body, route, write one response, close.
// There is no keep-alive. Read handlers rebuild a snapshot from the store
// on every request and mutation handlers commit straight to it, so the
// store stays the only source of truth while serving.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/overhuman/kvstore/internal/mutation"
	"github.com/overhuman/kvstore/internal/observability"
	"github.com/overhuman/kvstore/internal/storage"
)

// Config controls one gateway.
type Config struct {
	Addr          string        // host:port for ListenAndServe
	Namespace     string        // shown in the viewer
	MaxBodyBytes  int64         // larger bodies get 413
	SweepInterval time.Duration // minimum time between TTL sweeps
	IOTimeout     time.Duration // per-connection read/write deadline; 0 disables
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:7878",
		MaxBodyBytes:  128 * 1024,
		SweepInterval: time.Hour,
		IOTimeout:     30 * time.Second,
	}
}

// Server is the HTTP gateway.
type Server struct {
	store   storage.Store
	cfg     Config
	log     *observability.Logger
	metrics *observability.MetricsCollector
	mutator *mutation.Mutator
	now     func() time.Time
	routes  map[route]handlerFunc

	lastSweep time.Time
	swept     bool

	mu       sync.Mutex
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics shares a metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now for sweep scheduling and mutations.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a gateway over store.
func New(store storage.Store, cfg Config, logger *observability.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = observability.Discard()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s := &Server{
		store:   store,
		cfg:     cfg,
		log:     logger,
		metrics: observability.NewMetricsCollector(0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mutator = mutation.NewMutator(store, mutation.WithClock(s.now), mutation.WithLogger(logger))
	s.routes = s.routeTable()
	return s
}

// ListenAndServe binds cfg.Addr and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, handling each to
// completion before accepting the next. Accept errors are logged and retried
// after a growing pause.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()
	defer ln.Close()

	s.log.Info("gateway listening", "addr", ln.Addr().String(), "namespace", s.cfg.Namespace)
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("gateway stopped")
				return nil
			}
			delay = acceptBackoff(delay)
			s.log.Warn("failed to accept connection", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.maybeSweep(ctx)
		s.handleConn(ctx, conn)
	}
}

// acceptBackoff returns the pause after a failed Accept: 5ms, doubling up
// to one second.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(2*prev, time.Second)
}

// Addr returns the bound address, or the configured one before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Metrics returns the collector fed by this server.
func (s *Server) Metrics() *observability.MetricsCollector {
	return s.metrics
}

// maybeSweep runs the TTL sweep when the interval has elapsed since the
// last attempt. A failed sweep waits for the next interval like a
// successful one.
func (s *Server) maybeSweep(ctx context.Context) {
	now := s.now()
	if s.swept && now.Sub(s.lastSweep) < s.cfg.SweepInterval {
		return
	}
	s.lastSweep = now
	s.swept = true

	n, err := s.store.SweepExpired(ctx)
	s.metrics.ObserveSweep(n, err)
	if err != nil {
		s.log.Warn("ttl sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("ttl sweep removed expired entries", "count", n)
	}
}
