package cli

import (
	"os"
	"time"
)

// Config holds CLI configuration
type Config struct {
	Server     string
	GatewayURL string
	User       string
	Password   string
	Output     string
	Timeout    time.Duration
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Server:     getEnvOrDefault("FORTUNE_SERVER", "localhost:5000"),
		GatewayURL: getEnvOrDefault("FORTUNE_GATEWAY", "http://localhost:8080"),
		User:       os.Getenv("FORTUNE_USER"),
		Password:   os.Getenv("FORTUNE_PASSWORD"),
		Output:     "text",
		Timeout:    10 * time.Second,
	}
}

// HasCredentials reports whether a username and password were supplied
func (c *Config) HasCredentials() bool {
	return c.User != "" && c.Password != ""
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
