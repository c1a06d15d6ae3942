// Package client talks to a fortune server over its line protocol.
//
// The server rate limits each connection and drops packets over the limit
// without replying, so a request that outruns it surfaces as a context
// deadline in Await rather than as an error reply.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/mcoot/fortunegame/internal/model"
	"github.com/mcoot/fortunegame/internal/protocol"
)

// maxLine matches the server's default inbound limit
const maxLine = 64 * 1024

// ErrClosed is returned once the connection has ended
var ErrClosed = errors.New("connection closed")

// RejectedError is a LoginFailed or RegisterFailed reply
type RejectedError struct {
	Type   protocol.PacketType
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// Client is a connection to a fortune server. Packets are read by a
// background goroutine and consumed with Next or Await; it is safe to call
// Send concurrently with either.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	writer  *bufio.Writer

	packets chan protocol.Packet
	readErr error
}

// Dial connects to addr
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		packets: make(chan protocol.Packet, 64),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.packets)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	for scanner.Scan() {
		p, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			continue
		}
		c.packets <- p
	}
	c.readErr = scanner.Err()
}

// Send writes one packet
func (c *Client) Send(t protocol.PacketType, payload any) error {
	line, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(line); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Next returns the next packet from the server
func (c *Client) Next(ctx context.Context) (protocol.Packet, error) {
	select {
	case p, ok := <-c.packets:
		if !ok {
			// readErr is written before packets is closed
			if c.readErr != nil && !errors.Is(c.readErr, net.ErrClosed) {
				return protocol.Packet{}, fmt.Errorf("%w: %w", ErrClosed, c.readErr)
			}
			return protocol.Packet{}, ErrClosed
		}
		return p, nil
	case <-ctx.Done():
		return protocol.Packet{}, ctx.Err()
	}
}

// Await returns the next packet of one of types. Packets of other types are discarded.
func (c *Client) Await(ctx context.Context, types ...protocol.PacketType) (protocol.Packet, error) {
	for {
		p, err := c.Next(ctx)
		if err != nil {
			return p, err
		}
		if slices.Contains(types, p.Type) {
			return p, nil
		}
	}
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	if err := c.Send(protocol.TypeRegister, protocol.Credentials{Username: username, Password: password}); err != nil {
		return "", err
	}
	return c.awaitVerdict(ctx, protocol.TypeRegisterSuccess, protocol.TypeRegisterFailed)
}

// Login authenticates the connection and returns the welcome message. The
// server follows a successful login with a presence list and a Broadcast
// fortune, which remain queued for Next.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	if err := c.Send(protocol.TypeLogin, protocol.Credentials{Username: username, Password: password}); err != nil {
		return "", err
	}
	return c.awaitVerdict(ctx, protocol.TypeLoginSuccess, protocol.TypeLoginFailed)
}

func (c *Client) awaitVerdict(ctx context.Context, success, failure protocol.PacketType) (string, error) {
	p, err := c.Await(ctx, success, failure)
	if err != nil {
		return "", err
	}
	msg, err := protocol.ExtractPayload[string](p)
	if err != nil {
		return "", err
	}
	if p.Type == failure {
		return "", &RejectedError{Type: failure, Reason: msg}
	}
	return msg, nil
}

// Fortune requests a fortune, from category when it is non-nil
func (c *Client) Fortune(ctx context.Context, category *model.Category) (protocol.Fortune, error) {
	if err := c.Send(protocol.TypeGetFortune, protocol.FortuneRequest{Category: category}); err != nil {
		return protocol.Fortune{}, err
	}
	return awaitPayload[protocol.Fortune](ctx, c, protocol.TypeFortuneResponse)
}

// History returns the fortunes delivered to the logged-in user, newest
// first. The server ignores the request before login, so ctx should carry a deadline.
func (c *Client) History(ctx context.Context) ([]protocol.HistoryItem, error) {
	if err := c.Send(protocol.TypeGetHistory, nil); err != nil {
		return nil, err
	}
	return awaitPayload[[]protocol.HistoryItem](ctx, c, protocol.TypeHistoryResponse)
}

// MyFortunes returns the fortunes the logged-in user submitted, newest
// first. Like History it requires a login.
func (c *Client) MyFortunes(ctx context.Context) ([]protocol.Fortune, error) {
	if err := c.Send(protocol.TypeGetMyFortunes, nil); err != nil {
		return nil, err
	}
	return awaitPayload[[]protocol.Fortune](ctx, c, protocol.TypeMyFortunesResponse)
}

// Submit adds a fortune. The server does not acknowledge submissions.
func (c *Client) Submit(text string, category model.Category) error {
	return c.Send(protocol.TypeSubmitFortune, protocol.FortuneSubmission{Text: text, Category: category})
}

// DirectMessage sends text to another logged-in user. Messages to users who
// are offline are dropped by the server without notice.
func (c *Client) DirectMessage(to, text string) error {
	return c.Send(protocol.TypeDirectMessage, protocol.DirectMessage{ToUser: to, Message: text})
}

// Close ends the connection
func (c *Client) Close() error {
	err := c.conn.Close()
	// Drain so the reader can finish
	go func() {
		for range c.packets {
		}
	}()
	return err
}

func awaitPayload[T any](ctx context.Context, c *Client, t protocol.PacketType) (T, error) {
	var zero T
	p, err := c.Await(ctx, t)
	if err != nil {
		return zero, err
	}
	return protocol.ExtractPayload[T](p)
}
