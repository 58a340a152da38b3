package bondingcurve

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/indexer/internal/config"
	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/modules/core"
)

type poolKey struct {
	address string
	chainID int64
}

type tradeKey struct {
	chainID  int64
	txHash   string
	logIndex uint
}

// memStore is an in-memory Store with the same insert-or-ignore semantics as
// the Postgres implementation.
type memStore struct {
	pools       map[poolKey]database.Pool
	trades      map[tradeKey]database.Trade
	tradeOrder  []tradeKey
	completions map[string]database.Completion
	openings    map[tradeKey]database.UniswapOpening
}

func newMemStore() *memStore {
	return &memStore{
		pools:       make(map[poolKey]database.Pool),
		trades:      make(map[tradeKey]database.Trade),
		completions: make(map[string]database.Completion),
		openings:    make(map[tradeKey]database.UniswapOpening),
	}
}

func (s *memStore) InsertPool(_ context.Context, _ pgx.Tx, p *database.Pool) (bool, error) {
	k := poolKey{p.Address, p.ChainID}
	if _, ok := s.pools[k]; ok {
		return false, nil
	}
	s.pools[k] = *p
	return true, nil
}

func (s *memStore) LockPool(_ context.Context, _ pgx.Tx, address string, chainID int64) (*database.Pool, error) {
	p, ok := s.pools[poolKey{address, chainID}]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) UpdatePoolReserves(_ context.Context, _ pgx.Tx, p *database.Pool) error {
	k := poolKey{p.Address, p.ChainID}
	cur, ok := s.pools[k]
	if !ok {
		return database.ErrNotFound
	}
	cur.VirtualEthReserves = p.VirtualEthReserves
	cur.VirtualTokenReserves = p.VirtualTokenReserves
	cur.RealEthReserves = p.RealEthReserves
	cur.RealTokenReserves = p.RealTokenReserves
	cur.UpdatedAtBlock = p.UpdatedAtBlock
	cur.UpdatedAtTimestamp = p.UpdatedAtTimestamp
	s.pools[k] = cur
	return nil
}

func (s *memStore) InsertTrade(_ context.Context, _ pgx.Tx, t *database.Trade) (bool, error) {
	k := tradeKey{t.ChainID, t.TransactionHash, t.LogIndex}
	if _, ok := s.trades[k]; ok {
		return false, nil
	}
	s.trades[k] = *t
	s.tradeOrder = append(s.tradeOrder, k)
	return true, nil
}

func (s *memStore) MarkComplete(_ context.Context, _ pgx.Tx, c *database.Completion) error {
	ck := c.PoolAddress + "/" + c.UserAddress
	if _, ok := s.completions[ck]; !ok {
		s.completions[ck] = *c
	}
	k := poolKey{c.PoolAddress, c.ChainID}
	if p, ok := s.pools[k]; ok && !p.Complete {
		p.Complete = true
		s.pools[k] = p
	}
	return nil
}

func (s *memStore) OpenTrading(_ context.Context, _ pgx.Tx, o *database.UniswapOpening) (bool, error) {
	k := tradeKey{o.ChainID, o.TransactionHash, o.LogIndex}
	if _, ok := s.openings[k]; !ok {
		s.openings[k] = *o
	}
	pk := poolKey{o.PoolAddress, o.ChainID}
	p, ok := s.pools[pk]
	if !ok || p.UniswapV2Pair != nil {
		return false, nil
	}
	pair := o.PairAddress
	p.UniswapV2Pair = &pair
	s.pools[pk] = p
	return true, nil
}

func (s *memStore) pool(t *testing.T, addr common.Address, chainID int64) database.Pool {
	t.Helper()
	p, ok := s.pools[poolKey{database.AddressToString(addr), chainID}]
	require.True(t, ok, "pool %s on chain %d not found", addr.Hex(), chainID)
	return p
}

func (s *memStore) tradesOf(addr common.Address, chainID int64) []database.Trade {
	var out []database.Trade
	for _, k := range s.tradeOrder {
		tr := s.trades[k]
		if tr.PoolAddress == database.AddressToString(addr) && tr.ChainID == chainID {
			out = append(out, tr)
		}
	}
	return out
}

func newTestModule(t *testing.T, store Store, feeBP int64) *Module {
	t.Helper()
	m, err := NewModule(store, config.ProtocolConfig{
		FeeBasisPoints:   feeBP,
		TokenTotalSupply: config.DefaultTokenTotalSupply,
		MarketCapLimit:   config.DefaultMarketCapLimit,
	}, zerolog.Nop())
	require.NoError(t, err)
	return m
}

// logBuilder packs launchpad events the way the contract emits them.
type logBuilder struct {
	t        *testing.T
	contract common.Address
	block    uint64
	index    uint
	tx       int64
}

func newLogBuilder(t *testing.T) *logBuilder {
	return &logBuilder{t: t, contract: common.HexToAddress("0x00000000000000000000000000000000000c0de1"), block: 100}
}

func (b *logBuilder) build(name string, indexed []common.Address, data ...interface{}) types.Log {
	b.t.Helper()
	contractABI, err := LaunchpadABI()
	require.NoError(b.t, err)
	ev := contractABI.Events[name]

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(b.t, err)

	topics := []common.Hash{ev.ID}
	for _, a := range indexed {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}

	b.tx++
	l := types.Log{
		Address:     b.contract,
		Topics:      topics,
		Data:        packed,
		BlockNumber: b.block,
		TxHash:      common.BigToHash(big.NewInt(b.tx)),
		Index:       b.index,
	}
	b.index++
	return l
}

func (b *logBuilder) createPool(agent, creator common.Address, vEth, vToken int64) types.Log {
	return b.build("CreatePool", []common.Address{agent, creator},
		"Agent", "AGT", "an agent", "https://img.example/agt.png",
		SocialLinks{X: "x.com/agt", Youtube: "yt/agt", Discord: "discord/agt", Github: "gh/agt"},
		big.NewInt(vEth), big.NewInt(vToken),
	)
}

func (b *logBuilder) trade(agent, user common.Address, eth, tokens int64, isBuy bool, vEth, vToken int64) types.Log {
	return b.build("Trade", []common.Address{agent, user},
		big.NewInt(eth), big.NewInt(tokens), isBuy, big.NewInt(vEth), big.NewInt(vToken),
	)
}

func (b *logBuilder) complete(user, agent common.Address) types.Log {
	return b.build("Complete", []common.Address{user, agent})
}

func (b *logBuilder) openTrading(agent, pair common.Address) types.Log {
	return b.build("OpenTradingOnUniswap", []common.Address{agent, pair})
}

func blockOf(chainID int64, number uint64, logs ...types.Log) *core.BlockLogs {
	return &core.BlockLogs{
		ChainID:   chainID,
		Number:    number,
		Timestamp: 1_700_000_000 + number,
		Logs:      logs,
	}
}
