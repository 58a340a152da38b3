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
	"github.com/launchpad/indexer/internal/modules/bondingcurve"
)

// verify re-derives every pool's reserves from its stored trade history and
// reports pools whose projected state disagrees.
func main() {
	var configPath string
	var chainID int64
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Int64Var(&chainID, "chain", 0, "Only verify pools of this chain ID")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect database")
	}
	defer db.Close()

	var filter *int64
	if chainID != 0 {
		filter = &chainID
	}

	drifted, checked, err := verifyPools(ctx, db, filter, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Verification aborted")
		db.Close()
		os.Exit(1)
	}

	logger.Info().
		Int("pools", checked).
		Int("drifted", drifted).
		Msg("Verification finished")
	if drifted > 0 {
		db.Close()
		os.Exit(2)
	}
}

func verifyPools(ctx context.Context, db *database.Database, chainID *int64, logger zerolog.Logger) (drifted, checked int, err error) {
	keys, err := db.ListPoolKeys(ctx, chainID)
	if err != nil {
		return 0, 0, err
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return drifted, checked, ctx.Err()
		}

		pool, err := db.GetPool(ctx, key.Address, key.ChainID)
		if err != nil {
			return drifted, checked, fmt.Errorf("load pool %s on chain %d: %w", key.Address, key.ChainID, err)
		}
		trades, err := db.ListPoolTrades(ctx, key.Address, key.ChainID)
		if err != nil {
			return drifted, checked, err
		}

		stored := bondingcurve.ReservesOf(pool)
		// Real reserves start at zero. Virtual reserves are overwritten by
		// every trade, so the stored ones only survive when there are none.
		initial := bondingcurve.Reserves{
			VirtualEth:   stored.VirtualEth,
			VirtualToken: stored.VirtualToken,
		}
		replayed, err := bondingcurve.Replay(initial, trades)
		checked++

		log := logger.With().
			Str("pool", key.Address).
			Int64("chain_id", key.ChainID).
			Int("trades", len(trades)).
			Logger()

		switch {
		case err != nil:
			drifted++
			log.Error().Err(err).Msg("Trade history cannot be replayed")
		case !replayed.Equal(stored):
			drifted++
			log.Warn().
				Str("stored_real_eth", stored.RealEth.String()).
				Str("replayed_real_eth", replayed.RealEth.String()).
				Str("stored_real_token", stored.RealToken.String()).
				Str("replayed_real_token", replayed.RealToken.String()).
				Str("stored_virtual_eth", stored.VirtualEth.String()).
				Str("replayed_virtual_eth", replayed.VirtualEth.String()).
				Msg("Reserve drift")
		default:
			log.Debug().Msg("Pool consistent")
		}
	}
	return drifted, checked, nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		return zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
