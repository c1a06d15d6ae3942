package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"

	"github.com/mcoot/fortunegame/internal/protocol"
)

// maxDatagram is the largest UDP payload
const maxDatagram = 65535

// Subscriber receives packets published to a group. A non-multicast address
// is listened on directly, which lets announcements be received over unicast.
type Subscriber struct {
	conn   net.PacketConn
	pc     *ipv4.PacketConn
	group  *net.UDPAddr
	ifi    *net.Interface
	logger *slog.Logger
}

// Listen binds a socket for group and joins it when it is a multicast address.
// iface optionally names the interface to join on.
func Listen(group, iface string, logger *slog.Logger) (*Subscriber, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("resolve group %q: %w", group, err)
	}

	var ifi *net.Interface
	if iface != "" {
		if ifi, err = net.InterfaceByName(iface); err != nil {
			return nil, fmt.Errorf("interface %q: %w", iface, err)
		}
	}

	bind := addr.String()
	if addr.IP.IsMulticast() {
		bind = net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(addr.Port))
	}
	conn, err := net.ListenPacket("udp4", bind)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bind, err)
	}

	s := &Subscriber{
		conn:   conn,
		pc:     ipv4.NewPacketConn(conn),
		group:  addr,
		ifi:    ifi,
		logger: logger.With(slog.String("component", "subscriber")),
	}
	if addr.IP.IsMulticast() {
		if err := s.pc.JoinGroup(ifi, &net.UDPAddr{IP: addr.IP}); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("join group %s: %w", addr.IP, err)
		}
	}
	return s, nil
}

// Addr returns the bound local address
func (s *Subscriber) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Receive delivers every decodable datagram to handler until ctx is cancelled
// or the socket fails. Undecodable datagrams are logged and skipped.
// Receive closes the subscriber when it returns.
func (s *Subscriber) Receive(ctx context.Context, handler func(protocol.Packet)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	defer s.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, _, src, err := s.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		p, err := protocol.Decode(buf[:n])
		if err != nil {
			s.logger.Warn("malformed datagram skipped", slog.Any("error", err), slog.Any("from", src))
			continue
		}
		handler(p)
	}
}

// Close leaves the group and releases the socket
func (s *Subscriber) Close() error {
	if s.group.IP.IsMulticast() {
		_ = s.pc.LeaveGroup(s.ifi, &net.UDPAddr{IP: s.group.IP})
	}
	return s.conn.Close()
}
