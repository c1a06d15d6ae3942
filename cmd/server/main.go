package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/fortunegame/internal/config"
	"github.com/mcoot/fortunegame/internal/factory"
)

func main() {
	// Config file path comes from FORTUNE_CONFIG or the default search paths
	settings, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up logging
	logger, err := settings.Log.NewLogger(os.Stdout)
	if err != nil {
		slog.Error("failed to create logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create application factory
	app, err := factory.New(ctx, factory.FromSettings(settings, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("server starting",
		slog.String("addr", app.Server.Addr()),
		slog.String("storage", settings.Storage.Type),
		slog.Bool("gateway", app.Gateway != nil),
		slog.Bool("broadcast", app.Broadcaster != nil),
	)

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		logger.Error("close error", slog.String("error", err.Error()))
	}
	if runErr != nil {
		logger.Error("server error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
