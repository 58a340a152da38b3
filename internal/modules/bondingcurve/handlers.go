package bondingcurve

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/modules/core"
)

// Notification types published after a block commits.
const (
	NotifyPoolCreated   = "pool.created"
	NotifyTrade         = "pool.trade"
	NotifyComplete      = "pool.complete"
	NotifyUniswapOpened = "pool.uniswap_opened"
)

// Store is the write side the handlers need. *database.Database implements it.
type Store interface {
	InsertPool(ctx context.Context, tx pgx.Tx, p *database.Pool) (bool, error)
	LockPool(ctx context.Context, tx pgx.Tx, address string, chainID int64) (*database.Pool, error)
	UpdatePoolReserves(ctx context.Context, tx pgx.Tx, p *database.Pool) error
	InsertTrade(ctx context.Context, tx pgx.Tx, t *database.Trade) (bool, error)
	MarkComplete(ctx context.Context, tx pgx.Tx, c *database.Completion) error
	OpenTrading(ctx context.Context, tx pgx.Tx, o *database.UniswapOpening) (bool, error)
}

// apply dispatches a decoded event to its handler.
func (m *Module) apply(ctx context.Context, tx pgx.Tx, ev Event, res *core.BlockResult) error {
	switch e := ev.(type) {
	case *CreatePool:
		return m.handleCreatePool(ctx, tx, e, res)
	case *Trade:
		return m.handleTrade(ctx, tx, e, res)
	case *Complete:
		return m.handleComplete(ctx, tx, e, res)
	case *OpenTradingOnUniswap:
		return m.handleOpenTradingOnUniswap(ctx, tx, e, res)
	default:
		return fmt.Errorf("%w: %T", ErrUnhandledEvent, ev)
	}
}

func (m *Module) handleCreatePool(ctx context.Context, tx pgx.Tx, e *CreatePool, res *core.BlockResult) error {
	pool := &database.Pool{
		Address:              database.AddressToString(e.AgentAddress),
		ChainID:              e.ChainID,
		CreationTxHash:       database.HashToString(e.TxHash),
		Creator:              database.AddressToString(e.Creator),
		Name:                 e.Name,
		Ticker:               e.Ticker,
		Description:          e.Description,
		ImageURL:             e.ImageURL,
		SocialX:              e.SocialLinks.X,
		SocialYoutube:        e.SocialLinks.Youtube,
		SocialDiscord:        e.SocialLinks.Discord,
		SocialGithub:         e.SocialLinks.Github,
		VirtualEthReserves:   e.VirtualEthReserves,
		VirtualTokenReserves: e.VirtualTokenReserves,
		RealEthReserves:      zero(),
		RealTokenReserves:    zero(),
		TokenTotalSupply:     cloneOrZero(m.totalSupply),
		MarketCapLimit:       cloneOrZero(m.marketCapLimit),
		CreatedAtBlock:       e.BlockNumber,
		CreatedAtTimestamp:   e.BlockTimestamp,
		UpdatedAtBlock:       e.BlockNumber,
		UpdatedAtTimestamp:   e.BlockTimestamp,
	}

	inserted, err := m.store.InsertPool(ctx, tx, pool)
	if err != nil {
		return err
	}
	if !inserted {
		m.logger.Debug().
			Str("pool", pool.Address).
			Int64("chain_id", pool.ChainID).
			Msg("Pool already exists, ignoring CreatePool")
		return nil
	}

	m.logger.Info().
		Str("pool", pool.Address).
		Int64("chain_id", pool.ChainID).
		Str("ticker", pool.Ticker).
		Str("creator", pool.Creator).
		Uint64("block", e.BlockNumber).
		Msg("Pool created")

	res.Touch(pool.Address)
	res.Notifications = append(res.Notifications, core.Notification{
		Pool: pool.Address,
		Type: NotifyPoolCreated,
		Payload: map[string]any{
			"name":    pool.Name,
			"ticker":  pool.Ticker,
			"creator": pool.Creator,
		},
	})
	return nil
}

// handleTrade locks the pool row, records the trade, then moves the reserves.
// A trade row that already exists means the event was applied earlier and the
// reserves are left alone. A failed reserve update rolls the trade row back
// with the rest of the block.
func (m *Module) handleTrade(ctx context.Context, tx pgx.Tx, e *Trade, res *core.BlockResult) error {
	address := database.AddressToString(e.AgentAddress)

	pool, err := m.store.LockPool(ctx, tx, address, e.ChainID)
	if errors.Is(err, database.ErrNotFound) {
		m.logger.Warn().
			Str("pool", address).
			Int64("chain_id", e.ChainID).
			Str("tx_hash", e.TxHash.Hex()).
			Msg("Trade for unknown pool, skipping")
		res.CountSkipped("unknown_pool")
		return nil
	}
	if err != nil {
		return err
	}

	fee, net := ComputeFee(e.EthAmount, m.feeBasisPoints)

	trade := &database.Trade{
		ChainID:              e.ChainID,
		TransactionHash:      database.HashToString(e.TxHash),
		LogIndex:             e.LogIndex,
		PoolAddress:          address,
		UserAddress:          database.AddressToString(e.User),
		EthAmount:            net,
		GrossEthAmount:       new(big.Int).Set(e.EthAmount),
		Fee:                  fee,
		TokenAmount:          new(big.Int).Set(e.TokenAmount),
		IsBuy:                e.IsBuy,
		VirtualEthReserves:   new(big.Int).Set(e.VirtualEthReserves),
		VirtualTokenReserves: new(big.Int).Set(e.VirtualTokenReserves),
		BlockNumber:          e.BlockNumber,
		BlockTimestamp:       e.BlockTimestamp,
	}
	inserted, err := m.store.InsertTrade(ctx, tx, trade)
	if err != nil {
		return err
	}
	if !inserted {
		m.logger.Debug().
			Str("tx_hash", trade.TransactionHash).
			Uint("log_index", trade.LogIndex).
			Msg("Trade already recorded")
		return nil
	}

	next, err := ApplyTrade(ReservesOf(pool), net, e.TokenAmount, e.IsBuy, e.VirtualEthReserves, e.VirtualTokenReserves)
	if err != nil {
		return fmt.Errorf("pool %s tx %s: %w", address, e.TxHash.Hex(), err)
	}
	next.Store(pool)
	pool.UpdatedAtBlock = e.BlockNumber
	pool.UpdatedAtTimestamp = e.BlockTimestamp
	if err := m.store.UpdatePoolReserves(ctx, tx, pool); err != nil {
		return err
	}

	m.logger.Debug().
		Str("pool", address).
		Int64("chain_id", e.ChainID).
		Bool("is_buy", e.IsBuy).
		Str("eth_net", net.String()).
		Str("fee", fee.String()).
		Str("tokens", e.TokenAmount.String()).
		Msg("Trade applied")

	res.Touch(address)
	res.Notifications = append(res.Notifications, core.Notification{
		Pool: address,
		Type: NotifyTrade,
		Payload: map[string]any{
			"txHash":      trade.TransactionHash,
			"user":        trade.UserAddress,
			"isBuy":       trade.IsBuy,
			"ethAmount":   net.String(),
			"fee":         fee.String(),
			"tokenAmount": trade.TokenAmount.String(),
			"timestamp":   trade.BlockTimestamp,
		},
	})
	return nil
}

func (m *Module) handleComplete(ctx context.Context, tx pgx.Tx, e *Complete, res *core.BlockResult) error {
	address := database.AddressToString(e.AgentAddress)
	if err := m.store.MarkComplete(ctx, tx, &database.Completion{
		PoolAddress:     address,
		ChainID:         e.ChainID,
		UserAddress:     database.AddressToString(e.User),
		TransactionHash: database.HashToString(e.TxHash),
		BlockNumber:     e.BlockNumber,
		BlockTimestamp:  e.BlockTimestamp,
	}); err != nil {
		return err
	}

	m.logger.Info().
		Str("pool", address).
		Int64("chain_id", e.ChainID).
		Uint64("block", e.BlockNumber).
		Msg("Pool bonding curve complete")

	res.Touch(address)
	res.Notifications = append(res.Notifications, core.Notification{
		Pool:    address,
		Type:    NotifyComplete,
		Payload: map[string]any{"user": database.AddressToString(e.User)},
	})
	return nil
}

func (m *Module) handleOpenTradingOnUniswap(ctx context.Context, tx pgx.Tx, e *OpenTradingOnUniswap, res *core.BlockResult) error {
	address := database.AddressToString(e.AgentAddress)
	pair := database.AddressToString(e.UniswapV2Pair)

	changed, err := m.store.OpenTrading(ctx, tx, &database.UniswapOpening{
		ChainID:         e.ChainID,
		TransactionHash: database.HashToString(e.TxHash),
		LogIndex:        e.LogIndex,
		PoolAddress:     address,
		PairAddress:     pair,
		BlockNumber:     e.BlockNumber,
		BlockTimestamp:  e.BlockTimestamp,
	})
	if err != nil {
		return err
	}
	if !changed {
		m.logger.Debug().
			Str("pool", address).
			Str("pair", pair).
			Msg("Uniswap pair already set or pool unknown")
		return nil
	}

	m.logger.Info().
		Str("pool", address).
		Int64("chain_id", e.ChainID).
		Str("pair", pair).
		Msg("Trading opened on Uniswap")

	res.Touch(address)
	res.Notifications = append(res.Notifications, core.Notification{
		Pool:    address,
		Type:    NotifyUniswapOpened,
		Payload: map[string]any{"pair": pair},
	})
	return nil
}

func zero() *big.Int { return new(big.Int) }
