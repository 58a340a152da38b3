package database

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolA = "0x00000000000000000000000000000000000000aa"

func testPool(address string, chainID int64) *Pool {
	return &Pool{
		Address:              address,
		ChainID:              chainID,
		CreationTxHash:       "0x01",
		Creator:              "0x00000000000000000000000000000000000000c1",
		Name:                 "Test",
		Ticker:               "TST",
		SocialX:              "https://x.com/test",
		VirtualEthReserves:   big.NewInt(1000),
		VirtualTokenReserves: big.NewInt(1000000),
		RealEthReserves:      big.NewInt(0),
		RealTokenReserves:    big.NewInt(0),
		TokenTotalSupply:     big.NewInt(1000000),
		MarketCapLimit:       big.NewInt(5000),
		CreatedAtBlock:       10,
		CreatedAtTimestamp:   1_700_000_010,
	}
}

func insertPool(t *testing.T, db *Database, p *Pool) bool {
	t.Helper()
	var created bool
	require.NoError(t, db.Transaction(context.Background(), func(tx pgx.Tx) error {
		var err error
		created, err = db.InsertPool(context.Background(), tx, p)
		return err
	}))
	return created
}

func TestStore_Integration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("insert pool is idempotent", func(t *testing.T) {
		assert.True(t, insertPool(t, db, testPool(poolA, 10143)))

		dup := testPool(poolA, 10143)
		dup.Name = "Other"
		dup.VirtualEthReserves = big.NewInt(1)
		assert.False(t, insertPool(t, db, dup))

		got, err := db.GetPool(ctx, poolA, 10143)
		require.NoError(t, err)
		assert.Equal(t, "Test", got.Name)
		assert.Equal(t, "1000", got.VirtualEthReserves.String())
		assert.Equal(t, "https://x.com/test", got.SocialX)
		assert.False(t, got.Complete)
		assert.Nil(t, got.UniswapV2Pair)
	})

	t.Run("same address on another chain is independent", func(t *testing.T) {
		assert.True(t, insertPool(t, db, testPool(poolA, 1)))

		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			p, err := db.LockPool(ctx, tx, poolA, 1)
			if err != nil {
				return err
			}
			p.RealEthReserves = big.NewInt(77)
			return db.UpdatePoolReserves(ctx, tx, p)
		}))

		other, err := db.GetPool(ctx, poolA, 10143)
		require.NoError(t, err)
		assert.Equal(t, "0", other.RealEthReserves.String())

		keys, err := db.ListPoolKeys(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		chain := int64(1)
		keys, err = db.ListPoolKeys(ctx, &chain)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, int64(1), keys[0].ChainID)
	})

	t.Run("missing pool", func(t *testing.T) {
		_, err := db.GetPool(ctx, "0x00000000000000000000000000000000000000ff", 10143)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("trade insert reports duplicates", func(t *testing.T) {
		trade := &Trade{
			ChainID: 10143, TransactionHash: "0xt1", LogIndex: 3,
			PoolAddress: poolA, UserAddress: "0x00000000000000000000000000000000000000b0",
			EthAmount: big.NewInt(99), GrossEthAmount: big.NewInt(100), Fee: big.NewInt(1),
			TokenAmount: big.NewInt(50000), IsBuy: true,
			VirtualEthReserves: big.NewInt(1100), VirtualTokenReserves: big.NewInt(950000),
			BlockNumber: 11, BlockTimestamp: 1_700_000_011,
		}
		var first, second bool
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			var err error
			first, err = db.InsertTrade(ctx, tx, trade)
			return err
		}))
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			var err error
			second, err = db.InsertTrade(ctx, tx, trade)
			return err
		}))
		assert.True(t, first)
		assert.False(t, second)

		trades, err := db.ListPoolTrades(ctx, poolA, 10143)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "99", trades[0].EthAmount.String())
		assert.Equal(t, uint(3), trades[0].LogIndex)
	})

	t.Run("complete is monotonic and pair is set once", func(t *testing.T) {
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			return db.MarkComplete(ctx, tx, &Completion{
				PoolAddress: poolA, ChainID: 10143, UserAddress: "0xu", TransactionHash: "0xc", BlockNumber: 12, BlockTimestamp: 1,
			})
		}))
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			return db.MarkComplete(ctx, tx, &Completion{
				PoolAddress: poolA, ChainID: 10143, UserAddress: "0xu", TransactionHash: "0xc", BlockNumber: 12, BlockTimestamp: 1,
			})
		}))

		var changed []bool
		for i, pair := range []string{"0xpair1", "0xpair2"} {
			require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
				ok, err := db.OpenTrading(ctx, tx, &UniswapOpening{
					ChainID: 10143, TransactionHash: "0xo", LogIndex: uint(i),
					PoolAddress: poolA, PairAddress: pair, BlockNumber: 13, BlockTimestamp: 2,
				})
				changed = append(changed, ok)
				return err
			}))
		}
		assert.Equal(t, []bool{true, false}, changed)

		p, err := db.GetPool(ctx, poolA, 10143)
		require.NoError(t, err)
		assert.True(t, p.Complete)
		require.NotNil(t, p.UniswapV2Pair)
		assert.Equal(t, "0xpair1", *p.UniswapV2Pair)

		var openings int
		require.NoError(t, db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM uniswap_openings`).Scan(&openings))
		assert.Equal(t, 2, openings)
	})

	t.Run("row lock serializes writers of one pool", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
					p, err := db.LockPool(ctx, tx, poolA, 1)
					if err != nil {
						return err
					}
					p.RealTokenReserves = new(big.Int).Add(p.RealTokenReserves, big.NewInt(1))
					return db.UpdatePoolReserves(ctx, tx, p)
				}))
			}()
		}
		wg.Wait()

		p, err := db.GetPool(ctx, poolA, 1)
		require.NoError(t, err)
		assert.Equal(t, "8", p.RealTokenReserves.String())
	})

	t.Run("cursor", func(t *testing.T) {
		_, ok, err := db.GetCursor(ctx, 10143)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, db.UpdateCursor(ctx, nil, 10143, 100, "0xabc"))

		states, err := db.ListCursors(ctx)
		require.NoError(t, err)
		require.Len(t, states, 1)
		require.NotNil(t, states[0].LastBlockHash)
		assert.Equal(t, "0xabc", *states[0].LastBlockHash)

		// Moving to a block without a known hash drops the stale one.
		require.NoError(t, db.UpdateCursor(ctx, nil, 10143, 150, ""))

		cursor, ok, err := db.GetCursor(ctx, 10143)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(150), cursor)

		states, err = db.ListCursors(ctx)
		require.NoError(t, err)
		require.Len(t, states, 1)
		assert.Nil(t, states[0].LastBlockHash)
	})

	t.Run("cursor write rolls back with the transaction", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := db.UpdateCursor(ctx, tx, 10143, 999, ""); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		cursor, _, err := db.GetCursor(ctx, 10143)
		require.NoError(t, err)
		assert.Equal(t, uint64(150), cursor)
	})

	t.Run("list pools and trades", func(t *testing.T) {
		chain := int64(10143)
		pools, err := ListPools(ctx, db.Pool(), PoolFilter{ChainID: &chain, SortBy: "market_cap", Limit: 10})
		require.NoError(t, err)
		require.Len(t, pools, 1)
		assert.Equal(t, int64(1), pools[0].TradeCount)
		assert.Equal(t, "https://x.com/test", pools[0].SocialLinks.X)

		byAddr, err := GetPoolsByAddresses(ctx, db.Pool(), 1, []string{"0x00000000000000000000000000000000000000AA"})
		require.NoError(t, err)
		require.Len(t, byAddr, 1)
		assert.Equal(t, int64(1), byAddr[0].ChainID)

		pool := poolA
		trades, err := ListTrades(ctx, db.Pool(), TradeFilter{ChainID: &chain, Pool: &pool, Limit: 10})
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, "1", trades[0].Fee)
	})

	t.Run("read-only queries cannot write", func(t *testing.T) {
		res, err := ExecuteReadOnly(ctx, db.Pool(), `SELECT address, chain_id, real_eth_reserves FROM pools ORDER BY chain_id`, 10, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []string{"address", "chain_id", "real_eth_reserves"}, res.Columns)
		require.Equal(t, 2, res.RowCount)
		assert.Equal(t, "77", res.Rows[0][2])

		res, err = ExecuteReadOnly(ctx, db.Pool(), `SELECT generate_series(1, 50)`, 5, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 5, res.RowCount)
		assert.True(t, res.Truncated)

		_, err = ExecuteReadOnly(ctx, db.Pool(), `DELETE FROM trades`, 10, time.Second)
		require.Error(t, err)

		trades, err := db.ListPoolTrades(ctx, poolA, 10143)
		require.NoError(t, err)
		assert.Len(t, trades, 1)
	})
}
