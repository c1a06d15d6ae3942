// Package server accepts fortune clients over TCP (and, through the gateway,
// WebSocket) and runs the packet protocol for each connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mcoot/fortunegame/internal/services/auth"
	"github.com/mcoot/fortunegame/internal/services/fortune"
	"github.com/mcoot/fortunegame/internal/session"
)

// ErrServerClosed is returned by Serve after Shutdown
var ErrServerClosed = errors.New("server closed")

// Deps holds the services a connection handler dispatches to
type Deps struct {
	Auth     *auth.Service
	Fortunes *fortune.Service
	Registry *session.Registry
}

// Server owns every client connection
type Server struct {
	cfg      Config
	auth     *auth.Service
	fortunes *fortune.Service
	registry *session.Registry
	logger   *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*Conn]struct{}
	closing   bool
	wg        sync.WaitGroup
}

// New creates a Server; call Serve or ListenAndServe to start accepting
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultConfig().MaxLineBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultConfig().SendQueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		auth:      deps.Auth,
		fortunes:  deps.Fortunes,
		registry:  deps.Registry,
		logger:    logger.With(slog.String("component", "server")),
		baseCtx:   ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*Conn]struct{}),
	}
}

// ListenAndServe listens on the configured TCP address and serves until Shutdown
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, handling each on its own goroutine.
// It always returns a non-nil error; after Shutdown it returns ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info("accepting connections", slog.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient failures such as running out of file descriptors
			backoff = min(max(backoff*2, 5*time.Millisecond), time.Second)
			s.logger.Warn("accept failed, retrying",
				slog.Any("error", err),
				slog.Duration("backoff", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		t := newTCPTransport(conn, s.cfg.MaxLineBytes, s.cfg.WriteTimeout)
		go s.ServeTransport(t)
	}
}

// ServeTransport runs the protocol on an established transport and returns
// when the connection ends
func (s *Server) ServeTransport(t Transport) {
	c := newConn(t, s.cfg.SendQueueSize, s.logger)
	if !s.trackConn(c) {
		_ = t.Close()
		return
	}
	defer s.untrackConn(c)

	c.logger.Info("connection accepted")
	go c.writeLoop()
	newHandler(s, c).run(s.baseCtx)
}

// Shutdown stops accepting, closes every connection and waits for handlers
// to finish, bounded by ctx and the configured shutdown timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.mu.Lock()
	s.closing = true
	for ln := range s.listeners {
		_ = ln.Close()
	}
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
		s.logger.Info("server stopped", slog.Int("closed_connections", len(conns)))
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown error: %w", shutdownCtx.Err())
	}
}

// Addr returns the configured TCP listen address
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// ConnectionCount returns the number of live connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) trackConn(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}
