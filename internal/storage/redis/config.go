package redis

import "time"

// Config holds Redis connection settings
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	// KeyPrefix namespaces every key, so several servers can share one database
	KeyPrefix string

	PoolSize     int
	MinIdleConns int

	// PingTimeout bounds the connectivity check in New
	PingTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379",
		KeyPrefix:    "fortune",
		PoolSize:     10,
		MinIdleConns: 2,
		PingTimeout:  5 * time.Second,
	}
}
