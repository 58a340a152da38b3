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

	"github.com/launchpad/indexer/internal/api"
	"github.com/launchpad/indexer/internal/config"
	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/processor"
	"github.com/launchpad/indexer/internal/realtime"
	"github.com/launchpad/indexer/internal/scheduler"
)

func main() {
	var configPath string
	var role string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&role, "role", "both", "Role to run: api | worker | both")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("version", "0.1.0").Str("config", configPath).Str("role", role).Msg("Starting Launchpad Server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if role != "api" {
		if err := database.RunMigrations(ctx, cfg.Database.ConnectionString(), logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect database")
	}
	defer db.Close()

	switch role {
	case "api":
		startAPI(ctx, api.NewAPIServer(db, nil, apiOptions(cfg), logger), cfg.Server.Port, logger)
	case "worker":
		w := startWorker(ctx, cfg, db, logger)
		<-ctx.Done()
		w.stop()
	case "both":
		var status api.StatusProvider
		var w *worker
		if cfg.Server.RunIndexer {
			w = startWorker(ctx, cfg, db, logger)
			status = w.indexer
		}
		startAPI(ctx, api.NewAPIServer(db, status, apiOptions(cfg), logger), cfg.Server.Port, logger)
		if w != nil {
			w.stop()
		}
	default:
		logger.Fatal().Str("role", role).Msg("invalid role, use api|worker|both")
	}
	logger.Info().Msg("Shutdown complete")
}

func apiOptions(cfg *config.Config) api.Options {
	return api.Options{SQLTimeout: cfg.Server.SQLTimeout, SQLMaxRows: cfg.Server.SQLMaxRows}
}

func startAPI(ctx context.Context, s *api.APIServer, port int, logger zerolog.Logger) {
	addr := fmt.Sprintf(":%d", port)
	if err := s.Start(ctx, addr); err != nil {
		logger.Fatal().Err(err).Msg("API server failed")
	}
}

type worker struct {
	indexer   *processor.Indexer
	monitor   *scheduler.LagMonitor
	publisher *realtime.Publisher
}

func startWorker(ctx context.Context, cfg *config.Config, db *database.Database, logger zerolog.Logger) *worker {
	w := &worker{}

	var notifier processor.Notifier
	if cfg.Realtime.APIURL != "" {
		w.publisher = realtime.NewPublisher(realtime.PublishConfig{
			APIURL: cfg.Realtime.APIURL,
			APIKey: cfg.Realtime.APIKey,
		}, db.Pool(), logger)
		notifier = w.publisher
	}

	indexer, err := processor.NewIndexer(ctx, cfg, db, notifier, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create indexer")
	}
	w.indexer = indexer
	indexer.Start(ctx)

	monitor, err := scheduler.NewLagMonitor(indexer, cfg.Processor.LagCheckInterval, cfg.Processor.MaxStallDuration, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create lag monitor")
	}
	if err := monitor.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start lag monitor")
	}
	w.monitor = monitor
	return w
}

func (w *worker) stop() {
	w.monitor.Stop()
	w.indexer.Stop()
	if w.publisher != nil {
		_ = w.publisher.Close()
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}
	return logger
}
