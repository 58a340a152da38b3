package processor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/config"
	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/metrics"
	"github.com/launchpad/indexer/internal/modules/core"
	"github.com/launchpad/indexer/internal/rpc"
)

// LogSource is the chain access a ChainIndexer needs. *rpc.Client implements it.
type LogSource interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error)
	GetBlockHeaders(ctx context.Context, numbers []uint64) (map[uint64]rpc.BlockHeader, error)
}

// Store holds the cursor and the transaction boundary. *database.Database implements it.
type Store interface {
	GetCursor(ctx context.Context, chainID int64) (uint64, bool, error)
	UpdateCursor(ctx context.Context, q database.Querier, chainID int64, blockNumber uint64, blockHash string) error
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// Notifier receives the result of every committed block.
type Notifier interface {
	Publish(ctx context.Context, chainID int64, result *core.BlockResult)
}

// ChainStatus is a snapshot of one chain's progress.
type ChainStatus struct {
	Name         string    `json:"name"`
	ChainID      int64     `json:"chainId"`
	Cursor       uint64    `json:"cursor"`
	Head         uint64    `json:"head"`
	Lag          uint64    `json:"lag"`
	Syncing      bool      `json:"syncing"`
	LastError    string    `json:"lastError,omitempty"`
	LastProgress time.Time `json:"lastProgress"`
}

// ChainIndexer polls one chain and applies its logs in (block, log index) order.
type ChainIndexer struct {
	cfg          config.ChainConfig
	blockTimeout time.Duration
	source       LogSource
	store        Store
	module       core.Module
	notifier     Notifier
	logger       zerolog.Logger

	addresses []common.Address
	topics    []common.Hash
	label     string

	mu     sync.RWMutex
	status ChainStatus
}

// NewChainIndexer wires one chain. notifier may be nil.
func NewChainIndexer(cfg config.ChainConfig, blockTimeout time.Duration, source LogSource, store Store, module core.Module, notifier Notifier, logger zerolog.Logger) *ChainIndexer {
	addresses := make([]common.Address, 0, len(cfg.Contracts))
	for _, a := range cfg.Contracts {
		addresses = append(addresses, common.HexToAddress(a))
	}

	filters := module.GetEventFilters()
	topics := make([]common.Hash, 0, len(filters))
	for _, f := range filters {
		topics = append(topics, f.Topic0)
	}

	if blockTimeout <= 0 {
		blockTimeout = 30 * time.Second
	}

	return &ChainIndexer{
		cfg:          cfg,
		blockTimeout: blockTimeout,
		source:       source,
		store:        store,
		module:       module,
		notifier:     notifier,
		logger: logger.With().
			Str("chain", cfg.Name).
			Int64("chain_id", cfg.ChainID).
			Logger(),
		addresses: addresses,
		topics:    topics,
		label:     strconv.FormatInt(cfg.ChainID, 10),
		status:    ChainStatus{Name: cfg.Name, ChainID: cfg.ChainID},
	}
}

// Run polls until ctx is cancelled. Errors are logged and the cycle retried
// on the next tick; the cursor only moves past work that committed.
func (c *ChainIndexer) Run(ctx context.Context) {
	c.logger.Info().
		Dur("poll_interval", c.cfg.PollInterval).
		Int("contracts", len(c.addresses)).
		Msg("Starting chain indexer")

	for {
		caughtUp, err := c.Cycle(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Indexing cycle failed")
		}

		// Keep going without sleeping while there is a backlog.
		if err == nil && !caughtUp && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Chain indexer stopped")
			return
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// Cycle processes at most one block range. It reports whether the chain head
// was reached.
func (c *ChainIndexer) Cycle(ctx context.Context) (bool, error) {
	cursor, err := c.startCursor(ctx)
	if err != nil {
		return false, c.fail("cursor", err)
	}

	head, err := c.source.GetLatestBlockNumber(ctx)
	if err != nil {
		return false, c.fail("head", err)
	}
	metrics.ChainHeadBlock.WithLabelValues(c.label).Set(float64(head))
	c.setProgress(cursor, head, false)

	if cursor >= head {
		c.logger.Debug().
			Uint64("cursor", cursor).
			Uint64("head", head).
			Msg("Caught up with chain")
		return true, nil
	}

	from := cursor + 1
	to := head
	if c.cfg.MaxBlockRange > 0 && to-from+1 > c.cfg.MaxBlockRange {
		to = from + c.cfg.MaxBlockRange - 1
	}

	if err := c.ProcessRange(ctx, from, to); err != nil {
		return false, err
	}
	c.setProgress(to, head, true)
	return to >= head, nil
}

// ProcessRange applies every matching log in [from, to] and leaves the cursor at to.
func (c *ChainIndexer) ProcessRange(ctx context.Context, from, to uint64) error {
	logs, err := c.source.GetLogs(ctx, from, to, c.addresses, c.topics)
	if err != nil {
		return c.fail("logs", err)
	}

	blocks := groupByBlock(logs)
	if len(blocks) > 0 {
		numbers := make([]uint64, len(blocks))
		for i, b := range blocks {
			numbers[i] = b.Number
		}
		headers, err := c.source.GetBlockHeaders(ctx, numbers)
		if err != nil {
			return c.fail("headers", err)
		}

		for _, b := range blocks {
			h, ok := headers[b.Number]
			if !ok {
				return c.fail("headers", fmt.Errorf("missing header for block %d", b.Number))
			}
			b.ChainID = c.cfg.ChainID
			b.Timestamp = uint64(h.Timestamp)
			if err := c.applyBlock(ctx, b); err != nil {
				return c.fail("apply", err)
			}
			c.setProgress(b.Number, 0, true)
		}
	}

	// The last applied block already moved the cursor to to along with its hash.
	if len(blocks) == 0 || blocks[len(blocks)-1].Number != to {
		if err := c.store.UpdateCursor(ctx, nil, c.cfg.ChainID, to, ""); err != nil {
			return c.fail("cursor", err)
		}
	}
	metrics.CursorBlock.WithLabelValues(c.label).Set(float64(to))

	c.logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("logs", len(logs)).
		Int("blocks", len(blocks)).
		Msg("Block range indexed")
	return nil
}

// applyBlock runs the module and moves the cursor to the block in one transaction.
func (c *ChainIndexer) applyBlock(ctx context.Context, block *core.BlockLogs) error {
	blockCtx, cancel := context.WithTimeout(ctx, c.blockTimeout)
	defer cancel()

	start := time.Now()
	var result *core.BlockResult
	err := c.store.Transaction(blockCtx, func(tx pgx.Tx) error {
		res, err := c.module.HandleBlock(blockCtx, tx, block)
		if err != nil {
			return err
		}
		if err := c.store.UpdateCursor(blockCtx, tx, c.cfg.ChainID, block.Number, block.Hash.Hex()); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return fmt.Errorf("block %d: %w", block.Number, err)
	}

	elapsed := time.Since(start)
	metrics.BlockApplyDuration.WithLabelValues(c.label).Observe(elapsed.Seconds())
	metrics.CursorBlock.WithLabelValues(c.label).Set(float64(block.Number))
	for event, n := range result.AppliedByEvent {
		metrics.EventsApplied.WithLabelValues(c.label, event).Add(float64(n))
	}
	for reason, n := range result.SkippedByReason {
		metrics.EventsSkipped.WithLabelValues(c.label, reason).Add(float64(n))
	}

	c.logger.Debug().
		Uint64("block", block.Number).
		Int("logs", len(block.Logs)).
		Int("applied", result.Applied).
		Int("skipped", result.Skipped).
		Dur("duration", elapsed).
		Msg("Block applied")

	if c.notifier != nil && len(result.Notifications) > 0 {
		c.notifier.Publish(ctx, c.cfg.ChainID, result)
	}
	return nil
}

// startCursor returns the last processed block. A chain seen for the first
// time starts just before start_block, or at the current head when none is set.
func (c *ChainIndexer) startCursor(ctx context.Context) (uint64, error) {
	cursor, ok, err := c.store.GetCursor(ctx, c.cfg.ChainID)
	if err != nil {
		return 0, err
	}
	if ok {
		return cursor, nil
	}

	if c.cfg.StartBlock > 0 {
		c.logger.Info().Uint64("block", c.cfg.StartBlock).Msg("Starting from configured block")
		return c.cfg.StartBlock - 1, nil
	}

	head, err := c.source.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.store.UpdateCursor(ctx, nil, c.cfg.ChainID, head, ""); err != nil {
		return 0, err
	}
	c.logger.Info().Uint64("block", head).Msg("Starting from latest block")
	return head, nil
}

func (c *ChainIndexer) fail(stage string, err error) error {
	metrics.CycleErrors.WithLabelValues(c.label, stage).Inc()
	c.mu.Lock()
	c.status.LastError = err.Error()
	c.mu.Unlock()
	return err
}

func (c *ChainIndexer) setProgress(cursor, head uint64, advanced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if advanced || cursor > c.status.Cursor {
		c.status.Cursor = cursor
	}
	if head > 0 {
		c.status.Head = head
	}
	if advanced {
		c.status.LastError = ""
		c.status.LastProgress = time.Now()
	}
	if c.status.LastProgress.IsZero() {
		c.status.LastProgress = time.Now()
	}
	if c.status.Head > c.status.Cursor {
		c.status.Lag = c.status.Head - c.status.Cursor
	} else {
		c.status.Lag = 0
	}
	c.status.Syncing = c.status.Lag > 0
}

// Status returns the latest progress snapshot.
func (c *ChainIndexer) Status() ChainStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// groupByBlock orders logs by (block, log index) and splits them per block.
func groupByBlock(logs []types.Log) []*core.BlockLogs {
	sorted := make([]types.Log, len(logs))
	copy(sorted, logs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		return sorted[i].Index < sorted[j].Index
	})

	var blocks []*core.BlockLogs
	for _, l := range sorted {
		if l.Removed {
			continue
		}
		if len(blocks) == 0 || blocks[len(blocks)-1].Number != l.BlockNumber {
			blocks = append(blocks, &core.BlockLogs{Number: l.BlockNumber, Hash: l.BlockHash})
		}
		last := blocks[len(blocks)-1]
		last.Logs = append(last.Logs, l)
	}
	return blocks
}
