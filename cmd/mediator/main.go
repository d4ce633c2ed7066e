package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mediator/config"
	"mediator/internal/app"
	"mediator/internal/cli"
	"mediator/internal/output"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(load).ExecuteContext(ctx); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

func load(configPath string) (*cli.Dependencies, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Log)

	application, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	logger.Debug("config loaded",
		"path", configPath,
		"speech_provider", cfg.Speech.Provider,
		"model", cfg.Doubao.Model,
		"analysis_configured", cfg.Doubao.APIKey != "",
	)

	return &cli.Dependencies{
		App:    application,
		Config: cfg,
		Logger: logger,
	}, nil
}

// setupLogger writes to stderr so log lines stay out of the interactive
// session output.
func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
