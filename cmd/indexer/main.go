package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/config"
	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/processor"
	"github.com/launchpad/indexer/internal/realtime"
	"github.com/launchpad/indexer/internal/scheduler"
)

func main() {
	// Parse command-line flags
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up logger
	logger := setupLogger(cfg.Logging)

	// Log startup information
	logger.Info().
		Str("version", "0.1.0").
		Str("config", configPath).
		Int("chains", len(cfg.Chains)).
		Msg("Starting Launchpad Indexer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(ctx, cfg.Database.ConnectionString(), logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect database")
	}
	defer db.Close()

	// Realtime push is optional; a nil Notifier disables it.
	var notifier processor.Notifier
	if cfg.Realtime.APIURL != "" {
		publisher := realtime.NewPublisher(realtime.PublishConfig{
			APIURL: cfg.Realtime.APIURL,
			APIKey: cfg.Realtime.APIKey,
		}, db.Pool(), logger)
		defer publisher.Close()
		notifier = publisher
	}

	indexer, err := processor.NewIndexer(ctx, cfg, db, notifier, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create indexer")
	}
	indexer.Start(ctx)
	defer indexer.Stop()

	monitor, err := scheduler.NewLagMonitor(indexer, cfg.Processor.LagCheckInterval, cfg.Processor.MaxStallDuration, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create lag monitor")
	}
	if err := monitor.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start lag monitor")
	}
	defer monitor.Stop()

	<-ctx.Done()
	logger.Info().Msg("Shutting down indexer")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	// Configure output format
	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}

	return logger
}
