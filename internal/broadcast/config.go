package broadcast

import "time"

// Config holds multicast broadcast settings
type Config struct {
	// Enabled turns the periodic broadcaster on
	Enabled bool

	// Group is the multicast destination as host:port
	Group string

	// Interval between broadcasts
	Interval time.Duration

	// TTL is the multicast hop limit; 1 keeps datagrams on the local network
	TTL int

	// Loopback delivers datagrams to listeners on the sending host
	Loopback bool

	// Interface names the network interface to send and join on; empty uses the system default
	Interface string
}

// DefaultConfig returns sensible defaults for the broadcaster
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Group:    "239.0.0.1:5001",
		Interval: 60 * time.Second,
		TTL:      1,
		Loopback: true,
	}
}
