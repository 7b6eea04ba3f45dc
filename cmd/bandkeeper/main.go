// Command bandkeeper is the market-making keeper entry point. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs the keeper until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantshed/bandkeeper/internal/app"
	"github.com/quantshed/bandkeeper/internal/config"
	"github.com/quantshed/bandkeeper/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger until the configured one is available.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("band keeper starting",
		slog.String("config", *configPath),
		slog.String("bands_file", cfg.BandsFile),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("band keeper stopped")
			return
		}
		logger.Error("band keeper exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("band keeper stopped")
}
