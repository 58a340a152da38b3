package database

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
)

// InsertPool creates a pool row keyed on (address, chain_id). An existing row
// is left untouched and the call reports false.
func (db *Database) InsertPool(ctx context.Context, tx pgx.Tx, p *Pool) (bool, error) {
	query := `
		INSERT INTO pools (
			address, chain_id, creation_tx_hash, creator,
			name, ticker, description, image_url,
			social_x, social_youtube, social_discord, social_github,
			virtual_eth_reserves, virtual_token_reserves,
			real_eth_reserves, real_token_reserves,
			token_total_supply, market_cap_limit,
			complete, uniswap_v2_pair,
			created_at_block, created_at_timestamp, updated_at_block, updated_at_timestamp
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13::numeric, $14::numeric,
			$15::numeric, $16::numeric,
			$17::numeric, $18::numeric,
			FALSE, NULL,
			$19, $20, $19, $20
		)
		ON CONFLICT (address, chain_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		p.Address, p.ChainID, p.CreationTxHash, p.Creator,
		p.Name, p.Ticker, p.Description, p.ImageURL,
		p.SocialX, p.SocialYoutube, p.SocialDiscord, p.SocialGithub,
		BigIntToNumeric(p.VirtualEthReserves), BigIntToNumeric(p.VirtualTokenReserves),
		BigIntToNumeric(p.RealEthReserves), BigIntToNumeric(p.RealTokenReserves),
		BigIntToNumeric(p.TokenTotalSupply), BigIntToNumeric(p.MarketCapLimit),
		p.CreatedAtBlock, p.CreatedAtTimestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert pool %s on chain %d: %w", p.Address, p.ChainID, err)
	}

	return tag.RowsAffected() == 1, nil
}

const poolColumns = `
	address, chain_id, creation_tx_hash, creator,
	name, ticker, description, image_url,
	social_x, social_youtube, social_discord, social_github,
	CAST(virtual_eth_reserves AS TEXT), CAST(virtual_token_reserves AS TEXT),
	CAST(real_eth_reserves AS TEXT), CAST(real_token_reserves AS TEXT),
	CAST(token_total_supply AS TEXT), CAST(market_cap_limit AS TEXT),
	complete, uniswap_v2_pair,
	created_at_block, created_at_timestamp, updated_at_block, updated_at_timestamp`

// LockPool loads a pool and holds its row lock until the surrounding
// transaction ends. Concurrent writers for the same key queue behind it.
func (db *Database) LockPool(ctx context.Context, tx pgx.Tx, address string, chainID int64) (*Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE address = $1 AND chain_id = $2 FOR UPDATE`
	return scanPool(tx.QueryRow(ctx, query, address, chainID))
}

// GetPool reads committed pool state without locking.
func (db *Database) GetPool(ctx context.Context, address string, chainID int64) (*Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE address = $1 AND chain_id = $2`
	return scanPool(db.pool.QueryRow(ctx, query, address, chainID))
}

// ListPoolKeys returns every (address, chain_id) pair, optionally limited to one chain.
func (db *Database) ListPoolKeys(ctx context.Context, chainID *int64) ([]Pool, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT address, chain_id FROM pools
		WHERE ($1::bigint IS NULL OR chain_id = $1)
		ORDER BY chain_id, address`, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var keys []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.Address, &p.ChainID); err != nil {
			return nil, err
		}
		keys = append(keys, p)
	}
	return keys, rows.Err()
}

func scanPool(row pgx.Row) (*Pool, error) {
	var p Pool
	var numerics [6]string
	err := row.Scan(
		&p.Address, &p.ChainID, &p.CreationTxHash, &p.Creator,
		&p.Name, &p.Ticker, &p.Description, &p.ImageURL,
		&p.SocialX, &p.SocialYoutube, &p.SocialDiscord, &p.SocialGithub,
		&numerics[0], &numerics[1], &numerics[2], &numerics[3], &numerics[4], &numerics[5],
		&p.Complete, &p.UniswapV2Pair,
		&p.CreatedAtBlock, &p.CreatedAtTimestamp, &p.UpdatedAtBlock, &p.UpdatedAtTimestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan pool: %w", err)
	}

	targets := []**big.Int{
		&p.VirtualEthReserves, &p.VirtualTokenReserves,
		&p.RealEthReserves, &p.RealTokenReserves,
		&p.TokenTotalSupply, &p.MarketCapLimit,
	}
	for i, dst := range targets {
		if *dst, err = NumericToBigInt(numerics[i]); err != nil {
			return nil, err
		}
	}

	return &p, nil
}

// UpdatePoolReserves writes the reserve fields of a pool previously loaded
// with LockPool.
func (db *Database) UpdatePoolReserves(ctx context.Context, tx pgx.Tx, p *Pool) error {
	query := `
		UPDATE pools SET
			virtual_eth_reserves = $3::numeric,
			virtual_token_reserves = $4::numeric,
			real_eth_reserves = $5::numeric,
			real_token_reserves = $6::numeric,
			updated_at_block = $7,
			updated_at_timestamp = $8
		WHERE address = $1 AND chain_id = $2`

	tag, err := tx.Exec(ctx, query,
		p.Address, p.ChainID,
		BigIntToNumeric(p.VirtualEthReserves), BigIntToNumeric(p.VirtualTokenReserves),
		BigIntToNumeric(p.RealEthReserves), BigIntToNumeric(p.RealTokenReserves),
		p.UpdatedAtBlock, p.UpdatedAtTimestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to update reserves of pool %s on chain %d: %w", p.Address, p.ChainID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTrade appends a trade row. It reports false when the row already exists,
// which means the trade has been applied before.
func (db *Database) InsertTrade(ctx context.Context, tx pgx.Tx, t *Trade) (bool, error) {
	query := `
		INSERT INTO trades (
			chain_id, transaction_hash, log_index, pool_address, user_address,
			eth_amount, gross_eth_amount, fee, token_amount, is_buy,
			virtual_eth_reserves, virtual_token_reserves,
			block_number, block_timestamp
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10,
			$11::numeric, $12::numeric,
			$13, $14
		)
		ON CONFLICT (chain_id, transaction_hash, log_index) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		t.ChainID, t.TransactionHash, t.LogIndex, t.PoolAddress, t.UserAddress,
		BigIntToNumeric(t.EthAmount), BigIntToNumeric(t.GrossEthAmount),
		BigIntToNumeric(t.Fee), BigIntToNumeric(t.TokenAmount), t.IsBuy,
		BigIntToNumeric(t.VirtualEthReserves), BigIntToNumeric(t.VirtualTokenReserves),
		t.BlockNumber, t.BlockTimestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert trade %s: %w", t.TransactionHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkComplete records the completion event and flips the pool flag. The flag
// is only ever written to true.
func (db *Database) MarkComplete(ctx context.Context, tx pgx.Tx, c *Completion) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO completions (pool_address, chain_id, user_address, transaction_hash, block_number, block_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool_address, chain_id, user_address) DO NOTHING`,
		c.PoolAddress, c.ChainID, c.UserAddress, c.TransactionHash, c.BlockNumber, c.BlockTimestamp,
	); err != nil {
		return fmt.Errorf("failed to insert completion for pool %s: %w", c.PoolAddress, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pools SET
			complete = TRUE,
			updated_at_block = GREATEST(updated_at_block, $3),
			updated_at_timestamp = GREATEST(updated_at_timestamp, $4)
		WHERE address = $1 AND chain_id = $2 AND complete = FALSE`,
		c.PoolAddress, c.ChainID, c.BlockNumber, c.BlockTimestamp,
	); err != nil {
		return fmt.Errorf("failed to mark pool %s complete: %w", c.PoolAddress, err)
	}

	return nil
}

// OpenTrading records the migration to the secondary AMM and sets the pool's
// pair address if it has none yet. It reports whether the pool row changed.
func (db *Database) OpenTrading(ctx context.Context, tx pgx.Tx, o *UniswapOpening) (bool, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO uniswap_openings (chain_id, transaction_hash, log_index, pool_address, pair_address, block_number, block_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain_id, transaction_hash, log_index) DO NOTHING`,
		o.ChainID, o.TransactionHash, o.LogIndex, o.PoolAddress, o.PairAddress, o.BlockNumber, o.BlockTimestamp,
	); err != nil {
		return false, fmt.Errorf("failed to insert uniswap opening for pool %s: %w", o.PoolAddress, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pools SET
			uniswap_v2_pair = $3,
			updated_at_block = GREATEST(updated_at_block, $4),
			updated_at_timestamp = GREATEST(updated_at_timestamp, $5)
		WHERE address = $1 AND chain_id = $2 AND uniswap_v2_pair IS NULL`,
		o.PoolAddress, o.ChainID, o.PairAddress, o.BlockNumber, o.BlockTimestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set uniswap pair for pool %s: %w", o.PoolAddress, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPoolTrades returns a pool's trades in chain order.
func (db *Database) ListPoolTrades(ctx context.Context, address string, chainID int64) ([]Trade, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT chain_id, transaction_hash, log_index, pool_address, user_address,
		       CAST(eth_amount AS TEXT), CAST(gross_eth_amount AS TEXT), CAST(fee AS TEXT),
		       CAST(token_amount AS TEXT), is_buy,
		       CAST(virtual_eth_reserves AS TEXT), CAST(virtual_token_reserves AS TEXT),
		       block_number, block_timestamp
		FROM trades
		WHERE pool_address = $1 AND chain_id = $2
		ORDER BY block_number, log_index`, address, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades of pool %s: %w", address, err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var numerics [6]string
		if err := rows.Scan(
			&t.ChainID, &t.TransactionHash, &t.LogIndex, &t.PoolAddress, &t.UserAddress,
			&numerics[0], &numerics[1], &numerics[2], &numerics[3], &t.IsBuy,
			&numerics[4], &numerics[5],
			&t.BlockNumber, &t.BlockTimestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		targets := []**big.Int{
			&t.EthAmount, &t.GrossEthAmount, &t.Fee, &t.TokenAmount,
			&t.VirtualEthReserves, &t.VirtualTokenReserves,
		}
		for i, dst := range targets {
			if *dst, err = NumericToBigInt(numerics[i]); err != nil {
				return nil, err
			}
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
