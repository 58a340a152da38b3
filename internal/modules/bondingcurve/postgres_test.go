package bondingcurve

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/modules/core"
)

func setupPostgres(t *testing.T) *database.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("launchpad"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(ctx, dsn, zerolog.Nop()))

	db, err := database.Connect(ctx, dsn, 4, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func applyBlock(t *testing.T, db *database.Database, m *Module, block *core.BlockLogs) error {
	t.Helper()
	return db.Transaction(context.Background(), func(tx pgx.Tx) error {
		_, err := m.HandleBlock(context.Background(), tx, block)
		return err
	})
}

func TestPostgres_ScenarioAndReplay(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	m := newTestModule(t, db, 100)
	b := newLogBuilder(t)
	addr := database.AddressToString(agentA)

	require.NoError(t, applyBlock(t, db, m, blockOf(testChain, 100, b.createPool(agentA, creator, 1000, 1_000_000))))

	b.block = 101
	trade := blockOf(testChain, 101, b.trade(agentA, trader, 100, 50_000, true, 1099, 950_000))
	require.NoError(t, applyBlock(t, db, m, trade))

	pool, err := db.GetPool(ctx, addr, testChain)
	require.NoError(t, err)
	assert.Equal(t, "99", pool.RealEthReserves.String())
	assert.Equal(t, "50000", pool.RealTokenReserves.String())
	assert.Equal(t, "1099", pool.VirtualEthReserves.String())
	assert.Equal(t, "x.com/agt", pool.SocialX)

	// Re-applying a committed block leaves state unchanged.
	require.NoError(t, applyBlock(t, db, m, trade))
	pool, err = db.GetPool(ctx, addr, testChain)
	require.NoError(t, err)
	assert.Equal(t, "99", pool.RealEthReserves.String())

	b.block = 102
	require.NoError(t, applyBlock(t, db, m, blockOf(testChain, 102, b.complete(trader, agentA))))

	b.block = 103
	require.NoError(t, applyBlock(t, db, m, blockOf(testChain, 103, b.trade(agentA, trader, 50, 10_000, false, 1049, 960_000))))

	pool, err = db.GetPool(ctx, addr, testChain)
	require.NoError(t, err)
	assert.True(t, pool.Complete)
	assert.Equal(t, "49", pool.RealEthReserves.String())
	assert.Equal(t, "40000", pool.RealTokenReserves.String())

	trades, err := db.ListPoolTrades(ctx, addr, testChain)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	replayed, err := Replay(Reserves{VirtualEth: pool.VirtualEthReserves, VirtualToken: pool.VirtualTokenReserves}, trades)
	require.NoError(t, err)
	assert.True(t, replayed.Equal(ReservesOf(pool)))
}

func TestPostgres_FailedBlockRollsBack(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	m := newTestModule(t, db, 0)
	b := newLogBuilder(t)
	addr := database.AddressToString(agentA)

	require.NoError(t, applyBlock(t, db, m, blockOf(testChain, 100, b.createPool(agentA, creator, 1000, 1_000_000))))

	// A valid buy followed by a sell larger than the pool holds fails the
	// whole block, including the buy and its trade row.
	b.block = 101
	err := applyBlock(t, db, m, blockOf(testChain, 101,
		b.trade(agentA, trader, 10, 100, true, 1010, 999_900),
		b.trade(agentA, trader, 500, 100, false, 510, 1_000_000),
	))
	require.ErrorIs(t, err, ErrNegativeReserves)

	pool, err := db.GetPool(ctx, addr, testChain)
	require.NoError(t, err)
	assert.Equal(t, "0", pool.RealEthReserves.String())
	assert.Equal(t, "1000", pool.VirtualEthReserves.String())

	trades, err := db.ListPoolTrades(ctx, addr, testChain)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
