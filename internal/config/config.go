// Package config loads server settings from defaults, an optional YAML file
// and FORTUNE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mcoot/fortunegame/internal/broadcast"
	"github.com/mcoot/fortunegame/internal/server"
	redisstorage "github.com/mcoot/fortunegame/internal/storage/redis"
)

// EnvPrefix prefixes every environment override, e.g. FORTUNE_SERVER_ADDRESS
const EnvPrefix = "FORTUNE"

// PathEnv names an explicit config file, bypassing the search path
const PathEnv = "FORTUNE_CONFIG"

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config is the complete server configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`

	// Seed loads the built-in catalogue into an empty store at startup
	Seed bool `mapstructure:"seed"`
}

// ServerConfig configures the TCP listener and per-connection limits
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	MaxLineBytes    int           `mapstructure:"maxLineBytes"`
	SendQueueSize   int           `mapstructure:"sendQueueSize"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	RatePerSecond   float64       `mapstructure:"ratePerSecond"`
	RateBurst       int           `mapstructure:"rateBurst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// GatewayConfig configures the optional WebSocket gateway
type GatewayConfig struct {
	Address        string        `mapstructure:"address"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins"`
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	PongWait       time.Duration `mapstructure:"pongWait"`
}

// BroadcastConfig configures the multicast announcer
type BroadcastConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Group     string        `mapstructure:"group"`
	Interval  time.Duration `mapstructure:"interval"`
	TTL       int           `mapstructure:"ttl"`
	Loopback  bool          `mapstructure:"loopback"`
	Interface string        `mapstructure:"interface"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Type     string         `mapstructure:"type"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	KeyPrefix    string `mapstructure:"keyPrefix"`
	PoolSize     int    `mapstructure:"poolSize"`
	MinIdleConns int    `mapstructure:"minIdleConns"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig configures the process logger
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level"`

	// Format is json or text
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("server.address", srv.Addr)
	v.SetDefault("server.maxLineBytes", srv.MaxLineBytes)
	v.SetDefault("server.sendQueueSize", srv.SendQueueSize)
	v.SetDefault("server.writeTimeout", srv.WriteTimeout)
	v.SetDefault("server.ratePerSecond", srv.RatePerSecond)
	v.SetDefault("server.rateBurst", srv.RateBurst)
	v.SetDefault("server.shutdownTimeout", srv.ShutdownTimeout)

	gw := server.DefaultGatewayConfig()
	v.SetDefault("gateway.address", gw.Addr)
	v.SetDefault("gateway.allowedOrigins", []string{})
	v.SetDefault("gateway.pingInterval", gw.PingInterval)
	v.SetDefault("gateway.pongWait", gw.PongWait)

	bc := broadcast.DefaultConfig()
	v.SetDefault("broadcast.enabled", bc.Enabled)
	v.SetDefault("broadcast.group", bc.Group)
	v.SetDefault("broadcast.interval", bc.Interval)
	v.SetDefault("broadcast.ttl", bc.TTL)
	v.SetDefault("broadcast.loopback", bc.Loopback)
	v.SetDefault("broadcast.interface", bc.Interface)

	rc := redisstorage.DefaultConfig()
	v.SetDefault("storage.type", StorageMemory)
	v.SetDefault("storage.redis.url", rc.URL)
	v.SetDefault("storage.redis.keyPrefix", rc.KeyPrefix)
	v.SetDefault("storage.redis.poolSize", rc.PoolSize)
	v.SetDefault("storage.redis.minIdleConns", rc.MinIdleConns)
	v.SetDefault("storage.sqlite.path", "data/fortunes.db")
	v.SetDefault("storage.postgres.dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("seed", true)
}

// Load reads the configuration. path names a YAML file to read; when empty,
// FORTUNE_CONFIG is consulted and then fortune.yaml is searched for in
// ./config and the working directory. A missing searched-for file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fortune")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be corrected with a default
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageMemory, StorageRedis, StorageSQLite:
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage.type %q: must be memory, redis, sqlite or postgres", c.Storage.Type)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format %q: must be json or text", c.Log.Format)
	}
	return nil
}

// ServerSettings converts to the TCP server's configuration
func (c *Config) ServerSettings() server.Config {
	return server.Config{
		Addr:            c.Server.Address,
		MaxLineBytes:    c.Server.MaxLineBytes,
		SendQueueSize:   c.Server.SendQueueSize,
		WriteTimeout:    c.Server.WriteTimeout,
		RatePerSecond:   c.Server.RatePerSecond,
		RateBurst:       c.Server.RateBurst,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// GatewaySettings converts to the gateway's configuration
func (c *Config) GatewaySettings() server.GatewayConfig {
	gw := server.DefaultGatewayConfig()
	gw.Addr = c.Gateway.Address
	gw.AllowedOrigins = c.Gateway.AllowedOrigins
	gw.PingInterval = c.Gateway.PingInterval
	gw.PongWait = c.Gateway.PongWait
	gw.ShutdownTimeout = c.Server.ShutdownTimeout
	return gw
}

// BroadcastSettings converts to the broadcaster's configuration
func (c *Config) BroadcastSettings() broadcast.Config {
	return broadcast.Config{
		Enabled:   c.Broadcast.Enabled,
		Group:     c.Broadcast.Group,
		Interval:  c.Broadcast.Interval,
		TTL:       c.Broadcast.TTL,
		Loopback:  c.Broadcast.Loopback,
		Interface: c.Broadcast.Interface,
	}
}

// RedisSettings converts to the redis backend's configuration
func (c *Config) RedisSettings() redisstorage.Config {
	rc := redisstorage.DefaultConfig()
	rc.URL = c.Storage.Redis.URL
	rc.KeyPrefix = c.Storage.Redis.KeyPrefix
	rc.PoolSize = c.Storage.Redis.PoolSize
	rc.MinIdleConns = c.Storage.Redis.MinIdleConns
	return rc
}

// NewLogger builds the process logger writing to w
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return level, nil
}
