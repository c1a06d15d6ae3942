package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/fortunegame/internal/dependencies/mocks"
	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/protocol"
	"github.com/mcoot/fortunegame/internal/services/auth"
	"github.com/mcoot/fortunegame/internal/services/fortune"
	"github.com/mcoot/fortunegame/internal/session"
	"github.com/mcoot/fortunegame/internal/storage"
	"github.com/mcoot/fortunegame/internal/storage/memory"
	"github.com/mcoot/fortunegame/internal/testutil"
)

type gatewayFixture struct {
	store    *memory.Storage
	registry *session.Registry
	server   *Server
	http     *httptest.Server
	wsURL    string
}

func newGatewayFixture(t *testing.T, cfg GatewayConfig) *gatewayFixture {
	t.Helper()
	storage.HashCost = bcrypt.MinCost

	logger := testutil.NopLogger()
	clock := mocks.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	store := memory.New()
	registry := session.NewRegistry(logger)
	srv := New(Config{RatePerSecond: 1000, RateBurst: 1000}, Deps{
		Auth:     auth.New(store, clock, logger),
		Fortunes: fortune.New(store, mocks.NewMockRandom(), clock, logger),
		Registry: registry,
	}, logger)

	ts := httptest.NewServer(NewGateway(srv, cfg, logger).Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})

	return &gatewayFixture{
		store:    store,
		registry: registry,
		server:   srv,
		http:     ts,
		wsURL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendWS(t *testing.T, conn *websocket.Conn, pt protocol.PacketType, payload any) {
	t.Helper()
	line, err := protocol.Encode(pt, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, line))
}

func awaitWS(t *testing.T, conn *websocket.Conn, pt protocol.PacketType) protocol.Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", pt)
		p, err := protocol.Decode(data)
		require.NoError(t, err)
		if p.Type == pt {
			return p
		}
	}
}

func TestGatewayLoginOverWebSocket(t *testing.T) {
	f := newGatewayFixture(t, DefaultGatewayConfig())
	_, err := f.store.CreateFortune(context.Background(), &model.Fortune{Text: "over the wire", Category: model.CategoryGeneral})
	require.NoError(t, err)

	conn := dialWS(t, f.wsURL)
	creds := protocol.Credentials{Username: "alice", Password: "secret"}

	sendWS(t, conn, protocol.TypeRegister, creds)
	awaitWS(t, conn, protocol.TypeRegisterSuccess)

	sendWS(t, conn, protocol.TypeLogin, creds)
	p := awaitWS(t, conn, protocol.TypeLoginSuccess)
	msg, err := protocol.ExtractPayload[string](p)
	require.NoError(t, err)
	assert.Equal(t, "Welcome back alice", msg)

	p = awaitWS(t, conn, protocol.TypeBroadcast)
	welcome, err := protocol.ExtractPayload[protocol.Fortune](p)
	require.NoError(t, err)
	assert.Equal(t, "over the wire", welcome.Text)
	assert.Equal(t, []string{"alice"}, f.registry.ListActive())
}

func TestGatewayDirectMessageBetweenBrowsers(t *testing.T) {
	f := newGatewayFixture(t, DefaultGatewayConfig())
	ws := dialWS(t, f.wsURL)
	sendWS(t, ws, protocol.TypeRegister, protocol.Credentials{Username: "web", Password: "pw"})
	awaitWS(t, ws, protocol.TypeRegisterSuccess)
	sendWS(t, ws, protocol.TypeLogin, protocol.Credentials{Username: "web", Password: "pw"})
	awaitWS(t, ws, protocol.TypeBroadcast)

	// A second browser session sends a direct message to the first
	other := dialWS(t, f.wsURL)
	sendWS(t, other, protocol.TypeRegister, protocol.Credentials{Username: "other", Password: "pw"})
	awaitWS(t, other, protocol.TypeRegisterSuccess)
	sendWS(t, other, protocol.TypeLogin, protocol.Credentials{Username: "other", Password: "pw"})
	awaitWS(t, other, protocol.TypeBroadcast)
	sendWS(t, other, protocol.TypeDirectMessage, protocol.DirectMessage{ToUser: "web", Message: "hey"})

	p := awaitWS(t, ws, protocol.TypeDirectMessage)
	dm, err := protocol.ExtractPayload[protocol.DirectMessage](p)
	require.NoError(t, err)
	assert.Equal(t, "other", dm.FromUser)
	assert.Equal(t, "hey", dm.Message)
}

func TestGatewayDisconnectUnregisters(t *testing.T) {
	f := newGatewayFixture(t, DefaultGatewayConfig())
	conn := dialWS(t, f.wsURL)
	sendWS(t, conn, protocol.TypeRegister, protocol.Credentials{Username: "alice", Password: "pw"})
	awaitWS(t, conn, protocol.TypeRegisterSuccess)
	sendWS(t, conn, protocol.TypeLogin, protocol.Credentials{Username: "alice", Password: "pw"})
	awaitWS(t, conn, protocol.TypeBroadcast)
	require.Equal(t, 1, f.registry.Count())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return f.registry.Count() == 0 && f.server.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayHealth(t *testing.T) {
	f := newGatewayFixture(t, DefaultGatewayConfig())
	dialWS(t, f.wsURL)
	assert.Eventually(t, func() bool { return f.server.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Sessions)
	assert.Equal(t, 1, body.Connections)
}

func TestGatewayRejectsDisallowedOrigin(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.AllowedOrigins = []string{"https://fortunes.example"}
	f := newGatewayFixture(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://Fortunes.example/"}}
	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = conn.Close()
}

func TestCheckOrigin(t *testing.T) {
	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.Nil(t, checkOrigin(nil), "empty list keeps the same-origin default")

	all := checkOrigin([]string{"*"})
	assert.True(t, all(request("https://anywhere.example")))

	listed := checkOrigin([]string{" https://a.example/ ", "http://localhost:3000"})
	assert.True(t, listed(request("https://a.example")))
	assert.True(t, listed(request("http://LOCALHOST:3000")))
	assert.True(t, listed(request("")), "non-browser clients send no origin")
	assert.False(t, listed(request("https://b.example")))
}

func TestGatewayServeAndShutdown(t *testing.T) {
	logger := testutil.NopLogger()
	srv := New(DefaultConfig(), Deps{Registry: session.NewRegistry(logger)}, logger)
	g := NewGateway(srv, DefaultGatewayConfig(), logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- g.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, g.Shutdown(context.Background()))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
