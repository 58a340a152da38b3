package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DTOs for API responses (lightweight, no ORM tags)
type PoolDTO struct {
	Address              string  `json:"address"`
	ChainID              int64   `json:"chain_id"`
	Creator              string  `json:"creator"`
	CreationTxHash       string  `json:"creation_tx_hash"`
	Name                 string  `json:"name"`
	Ticker               string  `json:"ticker"`
	Description          string  `json:"description,omitempty"`
	ImageURL             string  `json:"image_url,omitempty"`
	SocialLinks          Socials `json:"social_links"`
	VirtualEthReserves   string  `json:"virtual_eth_reserves"`
	VirtualTokenReserves string  `json:"virtual_token_reserves"`
	RealEthReserves      string  `json:"real_eth_reserves"`
	RealTokenReserves    string  `json:"real_token_reserves"`
	TokenTotalSupply     string  `json:"token_total_supply"`
	MarketCapLimit       string  `json:"market_cap_limit"`
	Complete             bool    `json:"complete"`
	UniswapV2Pair        *string `json:"uniswap_v2_pair"`
	CreatedAtBlock       int64   `json:"created_at_block"`
	CreatedAtTimestamp   int64   `json:"created_at_timestamp"`
	TradeCount           int64   `json:"trade_count"`

	// Filled by the API from the raw reserves.
	Price          string `json:"price,omitempty"`
	PriceWei       string `json:"price_wei,omitempty"`
	MarketCap      string `json:"market_cap,omitempty"`
	MarketCapWei   string `json:"market_cap_wei,omitempty"`
	BondingPercent string `json:"bonding_percent,omitempty"`
}

type Socials struct {
	X       string `json:"x,omitempty"`
	Youtube string `json:"youtube,omitempty"`
	Discord string `json:"discord,omitempty"`
	Github  string `json:"github,omitempty"`
}

type TradeDTO struct {
	ChainID              int64  `json:"chain_id"`
	TransactionHash      string `json:"transaction_hash"`
	LogIndex             int32  `json:"log_index"`
	PoolAddress          string `json:"pool_address"`
	UserAddress          string `json:"user_address"`
	EthAmount            string `json:"eth_amount"`
	Fee                  string `json:"fee"`
	TokenAmount          string `json:"token_amount"`
	IsBuy                bool   `json:"is_buy"`
	VirtualEthReserves   string `json:"virtual_eth_reserves"`
	VirtualTokenReserves string `json:"virtual_token_reserves"`
	BlockNumber          int64  `json:"block_number"`
	BlockTimestamp       int64  `json:"block_timestamp"`
}

type PoolFilter struct {
	ChainID   *int64
	Address   *string
	Addresses []string
	Creator   *string
	Complete  *bool
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

type TradeFilter struct {
	ChainID *int64
	Pool    *string
	User    *string
	Limit   int
	Offset  int
}

// Price and market cap are ordered with exact NUMERIC integer division at 1e18 scale.
const (
	priceExpr     = `CASE WHEN p.virtual_token_reserves = 0 THEN 0 ELSE div(p.virtual_eth_reserves * 1000000000000000000, p.virtual_token_reserves) END`
	marketCapExpr = `CASE WHEN p.virtual_token_reserves = 0 THEN 0 ELSE div(p.token_total_supply * p.virtual_eth_reserves, p.virtual_token_reserves) END`
)

var poolSortColumns = map[string]string{
	"market_cap": marketCapExpr,
	"price":      priceExpr,
	"created":    "p.created_at_block",
	"real_eth":   "p.real_eth_reserves",
	"trades":     "trade_count",
}

func ListPools(ctx context.Context, pool *pgxpool.Pool, f PoolFilter) ([]PoolDTO, error) {
	sortExpr, ok := poolSortColumns[f.SortBy]
	if !ok {
		sortExpr = poolSortColumns["created"]
	}
	order := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		order = "ASC"
	}

	var where []string
	var args []any
	if f.ChainID != nil {
		args = append(args, *f.ChainID)
		where = append(where, fmt.Sprintf("p.chain_id = $%d", len(args)))
	}
	if f.Address != nil {
		args = append(args, NormalizeAddress(*f.Address))
		where = append(where, fmt.Sprintf("p.address = $%d", len(args)))
	}
	if len(f.Addresses) > 0 {
		normalized := make([]string, len(f.Addresses))
		for i, a := range f.Addresses {
			normalized[i] = NormalizeAddress(a)
		}
		args = append(args, normalized)
		where = append(where, fmt.Sprintf("p.address = ANY($%d)", len(args)))
	}
	if f.Creator != nil {
		args = append(args, NormalizeAddress(*f.Creator))
		where = append(where, fmt.Sprintf("p.creator = $%d", len(args)))
	}
	if f.Complete != nil {
		args = append(args, *f.Complete)
		where = append(where, fmt.Sprintf("p.complete = $%d", len(args)))
	}

	q := `
		SELECT p.address, p.chain_id, p.creator, p.creation_tx_hash,
		       p.name, p.ticker, p.description, p.image_url,
		       p.social_x, p.social_youtube, p.social_discord, p.social_github,
		       CAST(p.virtual_eth_reserves AS TEXT), CAST(p.virtual_token_reserves AS TEXT),
		       CAST(p.real_eth_reserves AS TEXT), CAST(p.real_token_reserves AS TEXT),
		       CAST(p.token_total_supply AS TEXT), CAST(p.market_cap_limit AS TEXT),
		       p.complete, p.uniswap_v2_pair, p.created_at_block, p.created_at_timestamp,
		       (SELECT COUNT(*) FROM trades t WHERE t.pool_address = p.address AND t.chain_id = p.chain_id) AS trade_count
		FROM pools p`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY %s %s, p.chain_id, p.address LIMIT $%d OFFSET $%d", sortExpr, order, len(args)-1, len(args))

	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	var items []PoolDTO
	for rows.Next() {
		var d PoolDTO
		if err := rows.Scan(
			&d.Address, &d.ChainID, &d.Creator, &d.CreationTxHash,
			&d.Name, &d.Ticker, &d.Description, &d.ImageURL,
			&d.SocialLinks.X, &d.SocialLinks.Youtube, &d.SocialLinks.Discord, &d.SocialLinks.Github,
			&d.VirtualEthReserves, &d.VirtualTokenReserves,
			&d.RealEthReserves, &d.RealTokenReserves,
			&d.TokenTotalSupply, &d.MarketCapLimit,
			&d.Complete, &d.UniswapV2Pair, &d.CreatedAtBlock, &d.CreatedAtTimestamp,
			&d.TradeCount,
		); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// GetPoolsByAddresses loads the current state of several pools on one chain.
func GetPoolsByAddresses(ctx context.Context, pool *pgxpool.Pool, chainID int64, addresses []string) ([]PoolDTO, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	return ListPools(ctx, pool, PoolFilter{ChainID: &chainID, Addresses: addresses, Limit: len(addresses)})
}

func ListTrades(ctx context.Context, pool *pgxpool.Pool, f TradeFilter) ([]TradeDTO, error) {
	var where []string
	var args []any
	if f.ChainID != nil {
		args = append(args, *f.ChainID)
		where = append(where, fmt.Sprintf("chain_id = $%d", len(args)))
	}
	if f.Pool != nil {
		args = append(args, NormalizeAddress(*f.Pool))
		where = append(where, fmt.Sprintf("pool_address = $%d", len(args)))
	}
	if f.User != nil {
		args = append(args, NormalizeAddress(*f.User))
		where = append(where, fmt.Sprintf("user_address = $%d", len(args)))
	}

	q := `
		SELECT chain_id, transaction_hash, log_index, pool_address, user_address,
		       CAST(eth_amount AS TEXT), CAST(fee AS TEXT), CAST(token_amount AS TEXT), is_buy,
		       CAST(virtual_eth_reserves AS TEXT), CAST(virtual_token_reserves AS TEXT),
		       block_number, block_timestamp
		FROM trades`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY block_number DESC, log_index DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var items []TradeDTO
	for rows.Next() {
		var d TradeDTO
		if err := rows.Scan(
			&d.ChainID, &d.TransactionHash, &d.LogIndex, &d.PoolAddress, &d.UserAddress,
			&d.EthAmount, &d.Fee, &d.TokenAmount, &d.IsBuy,
			&d.VirtualEthReserves, &d.VirtualTokenReserves,
			&d.BlockNumber, &d.BlockTimestamp,
		); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// QueryResult is the tabular output of an ad-hoc read-only query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated,omitempty"`
}

// ExecuteReadOnly runs an ad-hoc query inside a READ ONLY transaction with a
// statement timeout, so it can only observe committed state and cannot write.
func ExecuteReadOnly(ctx context.Context, pool *pgxpool.Pool, sql string, maxRows int, timeout time.Duration) (*QueryResult, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &QueryResult{
		Columns: make([]string, len(fields)),
		Rows:    make([][]any, 0),
	}
	for i, fd := range fields {
		result.Columns[i] = fd.Name
	}

	for rows.Next() {
		if len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = jsonValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// jsonValue converts driver values that do not marshal cleanly. NUMERIC columns
// are rendered as exact decimal strings.
func jsonValue(v any) any {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case []byte:
		return string(x)
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return nil
		}
		return val
	default:
		return v
	}
}
