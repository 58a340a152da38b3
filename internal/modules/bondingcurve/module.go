package bondingcurve

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/config"
	"github.com/launchpad/indexer/internal/modules/core"
)

//go:embed manifest.yaml
var manifestYAML []byte

// Module projects launchpad events into pools, trades, completions and
// Uniswap openings.
type Module struct {
	manifest *core.Manifest
	decoder  *Decoder
	store    Store
	logger   zerolog.Logger

	feeBasisPoints int64
	totalSupply    *big.Int
	marketCapLimit *big.Int
}

// NewModule loads the embedded manifest and binds it to the launchpad ABI.
func NewModule(store Store, protocol config.ProtocolConfig, logger zerolog.Logger) (*Module, error) {
	manifest, err := core.ParseManifest(manifestYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to load bonding-curve manifest: %w", err)
	}

	decoder, err := NewDecoder(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to bind bonding-curve manifest: %w", err)
	}

	supply, err := protocol.TotalSupply()
	if err != nil {
		return nil, err
	}
	limit, err := protocol.MarketCap()
	if err != nil {
		return nil, err
	}

	return &Module{
		manifest:       manifest,
		decoder:        decoder,
		store:          store,
		logger:         logger.With().Str("module", manifest.Name).Logger(),
		feeBasisPoints: protocol.FeeBasisPoints,
		totalSupply:    supply,
		marketCapLimit: limit,
	}, nil
}

func (m *Module) Name() string { return m.manifest.Name }

func (m *Module) Version() string { return m.manifest.Version }

func (m *Module) Manifest() *core.Manifest { return m.manifest }

func (m *Module) GetEventFilters() []core.EventFilter { return m.decoder.Filters() }

// HandleBlock applies a block's logs in the order given. Logs that cannot be
// decoded are logged and skipped. The first handler error aborts the block so
// the caller can roll back and retry it.
func (m *Module) HandleBlock(ctx context.Context, tx pgx.Tx, block *core.BlockLogs) (*core.BlockResult, error) {
	res := &core.BlockResult{}
	for i := range block.Logs {
		log := &block.Logs[i]
		if log.Removed {
			continue
		}

		ev, err := m.decode(log, block)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Int64("chain_id", block.ChainID).
				Uint64("block", log.BlockNumber).
				Str("tx_hash", log.TxHash.Hex()).
				Uint("log_index", log.Index).
				Msg("Failed to decode log, skipping")
			res.CountSkipped("decode")
			continue
		}

		before := res.Skipped
		if err := m.apply(ctx, tx, ev, res); err != nil {
			return nil, fmt.Errorf("failed to apply %T at block %d log %d: %w", ev, log.BlockNumber, log.Index, err)
		}
		if res.Skipped == before {
			res.CountApplied(eventName(ev))
		}
	}

	return res, nil
}

func (m *Module) decode(log *types.Log, block *core.BlockLogs) (Event, error) {
	parsed, err := m.decoder.parser.ParseEvent(log)
	if err != nil {
		return nil, err
	}
	return m.decoder.Decode(parsed, block.ChainID, block.Timestamp)
}

func eventName(ev Event) string {
	switch ev.(type) {
	case *CreatePool:
		return "CreatePool"
	case *Trade:
		return "Trade"
	case *Complete:
		return "Complete"
	case *OpenTradingOnUniswap:
		return "OpenTradingOnUniswap"
	default:
		return "unknown"
	}
}
