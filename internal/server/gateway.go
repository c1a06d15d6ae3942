package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mcoot/fortunegame/internal/middleware"
)

// Gateway serves the packet protocol to browsers: each WebSocket text frame
// carries one envelope. It also exposes a health endpoint.
type Gateway struct {
	server   *Server
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	http     *http.Server
	logger   *slog.Logger
}

// NewGateway creates a gateway whose connections are handled by srv
func NewGateway(srv *Server, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	g := &Gateway{
		server: srv,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "gateway")),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}
	g.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return g
}

// Handler returns the gateway's routes
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(g.logger))
	r.Use(middleware.Logging(g.logger))

	r.HandleFunc("/ws", g.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves until Shutdown
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.cfg.Addr, err)
	}
	return g.Serve(ln)
}

// Serve serves HTTP on ln until Shutdown
func (g *Gateway) Serve(ln net.Listener) error {
	g.logger.Info("starting gateway", slog.String("addr", ln.Addr().String()))

	if err := g.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP listener. Upgraded connections belong to the
// Server and are closed by its Shutdown.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	timeout := g.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultGatewayConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	g.logger.Info("gateway stopped")
	return nil
}

// Addr returns the gateway's configured listen address
func (g *Gateway) Addr() string {
	return g.http.Addr
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		g.logger.Info("websocket upgrade failed", slog.Any("error", err))
		return
	}

	t := newWSTransport(conn, g.cfg, g.server.cfg.MaxLineBytes, g.server.cfg.WriteTimeout)
	go g.server.ServeTransport(t)
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Sessions:    g.server.registry.Count(),
		Connections: g.server.ConnectionCount(),
	})
}

// checkOrigin builds the upgrader's origin policy. Empty allows same-origin
// requests only; "*" allows everything.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	normalized := make([]string, 0, len(allowed))
	for _, o := range allowed {
		normalized = append(normalized, strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/"))
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin
			return true
		}
		return slices.Contains(normalized, strings.TrimSuffix(strings.ToLower(origin), "/"))
	}
}

// wsTransport carries one packet per WebSocket frame
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(conn *websocket.Conn, cfg GatewayConfig, maxLine int, writeTimeout time.Duration) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: cfg.PingInterval,
		done:         make(chan struct{}),
	}

	conn.SetReadLimit(int64(maxLine))
	if cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		})
	}
	if t.pingInterval > 0 {
		go t.pingLoop()
	}
	return t
}

func (t *wsTransport) ReadLine() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return bytes.TrimRight(data, "\r\n"), nil
	}
}

func (t *wsTransport) WriteLine(line []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, line)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// pingLoop keeps idle connections alive; WriteControl is safe alongside the writer goroutine
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}
