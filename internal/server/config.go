package server

import "time"

// Config holds connection handling settings shared by every transport
type Config struct {
	// Addr is the TCP listen address
	Addr string

	// MaxLineBytes bounds a single inbound packet; longer lines close the connection
	MaxLineBytes int

	// SendQueueSize is the number of outbound packets buffered per connection
	SendQueueSize int

	// WriteTimeout bounds a single outbound write; zero disables it
	WriteTimeout time.Duration

	// RatePerSecond and RateBurst configure the per-connection token bucket.
	// Packets beyond it are dropped without a reply. RatePerSecond <= 0
	// disables rate limiting.
	RatePerSecond float64
	RateBurst     int

	// ShutdownTimeout bounds how long Shutdown waits for handlers to exit
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the TCP server
func DefaultConfig() Config {
	return Config{
		Addr:            ":5000",
		MaxLineBytes:    64 * 1024,
		SendQueueSize:   256,
		WriteTimeout:    10 * time.Second,
		RatePerSecond:   50,
		RateBurst:       500,
		ShutdownTimeout: 10 * time.Second,
	}
}

// GatewayConfig holds settings for the HTTP/WebSocket gateway
type GatewayConfig struct {
	// Addr is the HTTP listen address; empty disables the gateway
	Addr string

	// AllowedOrigins lists origins permitted to open WebSockets. Empty means
	// same-origin only and "*" allows any origin.
	AllowedOrigins []string

	ReadHeaderTimeout time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultGatewayConfig returns sensible defaults for the gateway
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Addr:              "",
		ReadHeaderTimeout: 10 * time.Second,
		PingInterval:      30 * time.Second,
		PongWait:          60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}
