package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mcoot/fortunegame/internal/session"
)

// Conn is one client connection. Outbound packets go through a bounded queue
// drained by a dedicated writer goroutine, so a slow client never blocks the
// goroutine sending to it.
type Conn struct {
	id        string
	transport Transport
	send      chan []byte
	draining  chan struct{}
	drainOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// Ensure Conn can be held by the session registry
var _ session.Handle = (*Conn)(nil)

func newConn(t Transport, queueSize int, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:        id,
		transport: t,
		send:      make(chan []byte, queueSize),
		draining:  make(chan struct{}),
		done:      make(chan struct{}),
		logger: logger.With(
			slog.String("conn", id),
			slog.String("remote", t.RemoteAddr())),
	}
}

// ID returns the connection's unique id
func (c *Conn) ID() string {
	return c.id
}

// Send queues packet for delivery. It never blocks and returns false when
// the connection is draining, closed, or its queue is full.
func (c *Conn) Send(packet []byte) bool {
	select {
	case <-c.done:
		return false
	case <-c.draining:
		return false
	default:
	}

	select {
	case c.send <- packet:
		return true
	default:
		c.logger.Warn("packet dropped - send queue full")
		return false
	}
}

// Drain stops accepting packets; the writer closes the connection once the
// packets already queued are written
func (c *Conn) Drain() {
	c.drainOnce.Do(func() {
		close(c.draining)
	})
}

// Close shuts the connection down. Packets still queued are discarded.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close", slog.Any("error", err))
		}
	})
}

// Done is closed once the connection has been closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writeLoop writes queued packets until the connection closes or drains.
// A failed write closes the connection, which also ends the reader.
func (c *Conn) writeLoop() {
	defer c.Close()
	for {
		select {
		case packet := <-c.send:
			if !c.write(packet) {
				return
			}
		case <-c.draining:
			c.flush()
			return
		case <-c.done:
			return
		}
	}
}

// flush writes whatever is still queued, stopping early if the connection closes
func (c *Conn) flush() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case packet := <-c.send:
			if !c.write(packet) {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(packet []byte) bool {
	if err := c.transport.WriteLine(packet); err != nil {
		c.logger.Info("write failed, closing connection", slog.Any("error", err))
		return false
	}
	return true
}
