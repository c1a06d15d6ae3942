package broadcast

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// Publisher sends one encoded packet to every listener
type Publisher interface {
	Publish(ctx context.Context, packet []byte) error
	Close() error
}

// MulticastPublisher sends each packet as a single UDP datagram to a group
type MulticastPublisher struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	dst  *net.UDPAddr
}

// Ensure MulticastPublisher implements Publisher
var _ Publisher = (*MulticastPublisher)(nil)

// NewMulticastPublisher opens a sending socket for cfg.Group
func NewMulticastPublisher(cfg Config) (*MulticastPublisher, error) {
	dst, err := net.ResolveUDPAddr("udp4", cfg.Group)
	if err != nil {
		return nil, fmt.Errorf("resolve group %q: %w", cfg.Group, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("open broadcast socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := configureMulticast(pc, cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &MulticastPublisher{conn: conn, pc: pc, dst: dst}, nil
}

func configureMulticast(pc *ipv4.PacketConn, cfg Config) error {
	if cfg.TTL > 0 {
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			return fmt.Errorf("set multicast ttl: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return fmt.Errorf("interface %q: %w", cfg.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	return nil
}

// Publish writes packet as one datagram
func (p *MulticastPublisher) Publish(ctx context.Context, packet []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	if _, err := p.pc.WriteTo(packet, nil, p.dst); err != nil {
		return fmt.Errorf("send to %s: %w", p.dst, err)
	}
	return nil
}

// Close releases the socket
func (p *MulticastPublisher) Close() error {
	return p.conn.Close()
}
