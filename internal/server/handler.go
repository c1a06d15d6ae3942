package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/protocol"
)

// Replies for failures the client did not cause
const (
	loginUnavailableMessage    = "Login is temporarily unavailable, please try again."
	registerUnavailableMessage = "Registration is temporarily unavailable, please try again."
)

// handler runs the protocol state machine for one connection. A connection
// is unauthenticated until a successful Login sets user; it is closed when
// its read loop ends. All fields are owned by the reader goroutine.
type handler struct {
	server  *Server
	conn    *Conn
	limiter *rate.Limiter
	logger  *slog.Logger

	user *model.User
}

func newHandler(s *Server, c *Conn) *handler {
	limit := rate.Inf
	if s.cfg.RatePerSecond > 0 {
		limit = rate.Limit(s.cfg.RatePerSecond)
	}
	return &handler{
		server:  s,
		conn:    c,
		limiter: rate.NewLimiter(limit, max(s.cfg.RateBurst, 1)),
		logger:  c.logger,
	}
}

// run reads and dispatches packets until the transport fails or ctx ends
func (h *handler) run(ctx context.Context) {
	defer h.close()

	for {
		line, err := h.conn.transport.ReadLine()
		if err != nil {
			select {
			case <-h.conn.Done():
			default:
				h.logger.Info("connection closed by peer", slog.Any("reason", err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if len(line) == 0 {
			continue
		}
		if !h.limiter.Allow() {
			h.logger.Warn("packet dropped - rate limit exceeded")
			continue
		}
		h.dispatch(ctx, line)
	}
}

// close releases the session, if this connection still owns it, then lets
// the writer deliver replies already queued before the connection closes
func (h *handler) close() {
	if h.user != nil {
		h.server.registry.Unregister(h.user.Username, h.conn)
	}

	h.conn.Drain()
	wait := h.server.cfg.WriteTimeout
	if wait <= 0 {
		wait = h.server.cfg.ShutdownTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-h.conn.Done():
	case <-timer.C:
		h.logger.Warn("queued replies not written in time, closing")
		h.conn.Close()
	}
	h.logger.Info("connection finished")
}

func (h *handler) dispatch(ctx context.Context, line []byte) {
	p, err := protocol.Decode(line)
	if err != nil {
		h.logger.Warn("malformed packet skipped", slog.Any("error", err))
		return
	}

	switch p.Type {
	case protocol.TypeLogin:
		h.handleLogin(ctx, p)
	case protocol.TypeRegister:
		h.handleRegister(ctx, p)
	case protocol.TypeGetFortune:
		h.handleGetFortune(ctx, p)
	case protocol.TypeSubmitFortune:
		h.handleSubmitFortune(ctx, p)
	case protocol.TypeGetHistory:
		h.handleGetHistory(ctx)
	case protocol.TypeGetMyFortunes:
		h.handleGetMyFortunes(ctx)
	case protocol.TypeDirectMessage:
		h.handleDirectMessage(p)
	default:
		h.logger.Debug("packet type ignored", slog.String("type", p.Type.String()))
	}
}

func (h *handler) handleLogin(ctx context.Context, p protocol.Packet) {
	creds, err := protocol.ExtractPayload[protocol.Credentials](p)
	if err != nil {
		h.logger.Warn("malformed packet skipped", slog.Any("error", err))
		return
	}

	user, err := h.server.auth.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		reason := protocol.InvalidLoginMessage
		if !errors.Is(err, model.ErrInvalidCredentials) {
			h.logger.Error("login failed", slog.String("username", creds.Username), slog.Any("error", err))
			reason = loginUnavailableMessage
		}
		h.reply(protocol.TypeLoginFailed, reason)
		return
	}

	// Logging in as someone else gives up the previous session
	if h.user != nil && h.user.Username != user.Username {
		h.server.registry.Unregister(h.user.Username, h.conn)
	}
	h.user = user
	h.logger = h.conn.logger.With(slog.String("username", user.Username))
	h.logger.Info("user logged in")

	h.reply(protocol.TypeLoginSuccess, protocol.WelcomeMessage(user.Username))
	h.server.registry.Register(user.Username, h.conn)

	welcome, err := h.server.fortunes.PickRandom(ctx, nil)
	if err != nil {
		h.logger.Error("pick welcome fortune", slog.Any("error", err))
		return
	}
	h.reply(protocol.TypeBroadcast, protocol.FromFortune(welcome))
}

func (h *handler) handleRegister(ctx context.Context, p protocol.Packet) {
	creds, err := protocol.ExtractPayload[protocol.Credentials](p)
	if err != nil {
		h.logger.Warn("malformed packet skipped", slog.Any("error", err))
		return
	}

	_, err = h.server.auth.Register(ctx, creds.Username, creds.Password)
	switch {
	case err == nil:
		h.reply(protocol.TypeRegisterSuccess, protocol.RegisterSuccessMessage)
	case errors.Is(err, model.ErrUsernameTaken):
		h.reply(protocol.TypeRegisterFailed, protocol.UsernameTakenMessage)
	case errors.Is(err, model.ErrMissingCredentials):
		h.reply(protocol.TypeRegisterFailed, protocol.MissingFieldsMessage)
	default:
		h.logger.Error("register failed", slog.String("username", creds.Username), slog.Any("error", err))
		h.reply(protocol.TypeRegisterFailed, registerUnavailableMessage)
	}
}

func (h *handler) handleGetFortune(ctx context.Context, p protocol.Packet) {
	// The filter is optional; anything unreadable means "any category"
	var category *model.Category
	if req, err := protocol.ExtractPayload[protocol.FortuneRequest](p); err == nil {
		category = req.Category
	} else {
		h.logger.Debug("fortune filter ignored", slog.Any("error", err))
	}

	f, err := h.server.fortunes.PickRandom(ctx, category)
	if err != nil {
		h.logger.Error("pick fortune", slog.Any("error", err))
		return
	}

	if h.user != nil {
		if err := h.server.fortunes.RecordDelivery(ctx, h.user.ID, f); err != nil {
			h.logger.Error("record fortune history", slog.Any("error", err))
		}
	}
	h.reply(protocol.TypeFortuneResponse, protocol.FromFortune(f))
}

func (h *handler) handleSubmitFortune(ctx context.Context, p protocol.Packet) {
	sub, err := protocol.ExtractPayload[protocol.FortuneSubmission](p)
	if err != nil {
		h.logger.Warn("malformed packet skipped", slog.Any("error", err))
		return
	}

	var submitter *model.UserID
	if h.user != nil {
		submitter = &h.user.ID
	}
	if _, err := h.server.fortunes.Submit(ctx, sub.Text, sub.Category, submitter); err != nil {
		if errors.Is(err, model.ErrEmptyFortuneText) {
			h.logger.Debug("empty fortune submission ignored")
			return
		}
		h.logger.Error("submit fortune", slog.Any("error", err))
	}
}

func (h *handler) handleGetHistory(ctx context.Context) {
	if h.user == nil {
		return
	}
	records, err := h.server.fortunes.History(ctx, h.user.ID)
	if err != nil {
		h.logger.Error("load history", slog.Any("error", err))
		return
	}
	h.reply(protocol.TypeHistoryResponse, protocol.FromHistory(records))
}

func (h *handler) handleGetMyFortunes(ctx context.Context) {
	if h.user == nil {
		return
	}
	fortunes, err := h.server.fortunes.BySubmitter(ctx, h.user.ID)
	if err != nil {
		h.logger.Error("load submitted fortunes", slog.Any("error", err))
		return
	}
	h.reply(protocol.TypeMyFortunesResponse, protocol.FromFortunes(fortunes))
}

func (h *handler) handleDirectMessage(p protocol.Packet) {
	if h.user == nil {
		return
	}
	dm, err := protocol.ExtractPayload[protocol.DirectMessage](p)
	if err != nil {
		h.logger.Warn("malformed packet skipped", slog.Any("error", err))
		return
	}

	target, ok := h.server.registry.Lookup(dm.ToUser)
	if !ok {
		h.logger.Debug("direct message dropped - recipient offline", slog.String("to", dm.ToUser))
		return
	}

	// The sender is whoever this connection logged in as, whatever the client claims
	dm.FromUser = h.user.Username
	packet, err := protocol.Encode(protocol.TypeDirectMessage, dm)
	if err != nil {
		h.logger.Error("encode direct message", slog.Any("error", err))
		return
	}
	if !target.Send(packet) {
		h.logger.Warn("direct message dropped - recipient not accepting", slog.String("to", dm.ToUser))
	}
}

// reply queues a packet on this connection
func (h *handler) reply(t protocol.PacketType, payload any) {
	packet, err := protocol.Encode(t, payload)
	if err != nil {
		h.logger.Error("encode reply", slog.String("type", t.String()), slog.Any("error", err))
		return
	}
	h.conn.Send(packet)
}
