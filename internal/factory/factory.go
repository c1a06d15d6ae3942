package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/mcoot/fortunegame/internal/broadcast"
	"github.com/mcoot/fortunegame/internal/config"
	"github.com/mcoot/fortunegame/internal/dependencies/clock"
	"github.com/mcoot/fortunegame/internal/dependencies/random"
	"github.com/mcoot/fortunegame/internal/seed"
	"github.com/mcoot/fortunegame/internal/server"
	"github.com/mcoot/fortunegame/internal/services/auth"
	"github.com/mcoot/fortunegame/internal/services/fortune"
	"github.com/mcoot/fortunegame/internal/session"
	"github.com/mcoot/fortunegame/internal/storage"
	"github.com/mcoot/fortunegame/internal/storage/memory"
	redisstorage "github.com/mcoot/fortunegame/internal/storage/redis"
	"github.com/mcoot/fortunegame/internal/storage/sqlstore"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	AuthService    *auth.Service
	FortuneService *fortune.Service
	Registry       *session.Registry

	// Transports. Gateway and Broadcaster are nil when disabled.
	Server      *server.Server
	Gateway     *server.Gateway
	Broadcaster *broadcast.Service

	logger *slog.Logger
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger

	// StorageType selects the storage backend: memory, redis, sqlite or postgres.
	// If empty, defaults to memory
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is redis)
	RedisConfig *redisstorage.Config
	// SQLitePath is the database file (required if StorageType is sqlite)
	SQLitePath string
	// PostgresDSN is the connection string (required if StorageType is postgres)
	PostgresDSN string

	Server  server.Config
	Gateway server.GatewayConfig

	// Broadcast configures the multicast announcer; it is skipped unless Enabled
	Broadcast broadcast.Config

	// Seed loads the built-in catalogue into an empty store
	Seed bool
}

// FromSettings builds a factory Config from loaded settings
func FromSettings(s *config.Config, logger *slog.Logger) Config {
	redisCfg := s.RedisSettings()
	return Config{
		Logger:      logger,
		StorageType: s.Storage.Type,
		RedisConfig: &redisCfg,
		SQLitePath:  s.Storage.SQLite.Path,
		PostgresDSN: s.Storage.Postgres.DSN,
		Server:      s.ServerSettings(),
		Gateway:     s.GatewaySettings(),
		Broadcast:   s.BroadcastSettings(),
		Seed:        s.Seed,
	}
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Create external dependencies
	clk := clock.New()
	rnd := random.New()

	if cfg.Seed {
		if _, err := seed.Apply(ctx, store, clk.Now(), logger); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	var publisher broadcast.Publisher
	if cfg.Broadcast.Enabled {
		mp, err := broadcast.NewMulticastPublisher(cfg.Broadcast)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		publisher = mp
	}

	return newWithDependencies(store, clk, rnd, publisher, cfg, logger), nil
}

func openStorage(ctx context.Context, cfg Config) (storage.Storage, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = config.StorageMemory
	}

	switch storageType {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(*cfg.RedisConfig)
	case config.StorageSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLitePath required when StorageType is sqlite")
		}
		return sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("PostgresDSN required when StorageType is postgres")
		}
		return sqlstore.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("invalid StorageType %q: must be memory, redis, sqlite or postgres", storageType)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing).
// A nil publisher disables the broadcaster.
func newWithDependencies(store storage.Storage, clk clock.Clock, rnd random.Random, publisher broadcast.Publisher, cfg Config, logger *slog.Logger) *App {
	// Create services
	authService := auth.New(store, clk, logger)
	fortuneService := fortune.New(store, rnd, clk, logger)
	registry := session.NewRegistry(logger)

	srv := server.New(cfg.Server, server.Deps{
		Auth:     authService,
		Fortunes: fortuneService,
		Registry: registry,
	}, logger)

	app := &App{
		Storage:        store,
		Clock:          clk,
		Random:         rnd,
		AuthService:    authService,
		FortuneService: fortuneService,
		Registry:       registry,
		Server:         srv,
		logger:         logger,
	}
	if cfg.Gateway.Addr != "" {
		app.Gateway = server.NewGateway(srv, cfg.Gateway, logger)
	}
	if publisher != nil {
		app.Broadcaster = broadcast.NewService(fortuneService, publisher, clk, cfg.Broadcast.Interval, logger)
	}
	return app
}

// Run listens on the configured TCP address and serves until ctx is
// cancelled or a transport fails
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the TCP server on ln alongside every enabled transport, then
// shuts everything down once ctx is cancelled or one of them fails
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.Serve(ln); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.Gateway != nil {
		g.Go(a.Gateway.Start)
	}
	if a.Broadcaster != nil {
		g.Go(func() error { return a.Broadcaster.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

// shutdown stops the gateway before the server
func (a *App) shutdown() error {
	a.logger.Info("shutting down")

	var errs []error
	if a.Gateway != nil {
		errs = append(errs, a.Gateway.Shutdown(context.Background()))
	}
	errs = append(errs, a.Server.Shutdown(context.Background()))
	return errors.Join(errs...)
}

// Close releases storage and the broadcast socket
func (a *App) Close() error {
	var errs []error
	if a.Broadcaster != nil {
		errs = append(errs, a.Broadcaster.Close())
	}
	errs = append(errs, a.Storage.Close())
	return errors.Join(errs...)
}
