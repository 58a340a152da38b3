package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/gocent/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/modules/core"
	"github.com/launchpad/indexer/internal/prices"
)

// Broadcaster is the subset of the Centrifugo API client the publisher uses.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, data []byte, opts ...gocent.PublishOption) (gocent.PublishResult, error)
}

// PoolLoader returns the current state of pools on one chain.
type PoolLoader func(ctx context.Context, chainID int64, addresses []string) ([]database.PoolDTO, error)

type PublishConfig struct {
	APIURL        string
	APIKey        string
	FlushInterval time.Duration
}

// PoolChannel is the per-pool channel name.
func PoolChannel(chainID int64, address string) string {
	return fmt.Sprintf("launchpad.pool.%d.%s", chainID, strings.ToLower(address))
}

// PoolsChannel carries batched updates for every pool of a chain.
func PoolsChannel(chainID int64) string {
	return fmt.Sprintf("launchpad.pools.%d", chainID)
}

// Publisher pushes committed pool changes to Centrifugo. Event notifications
// go out as they arrive; full pool snapshots are coalesced and flushed on a timer.
type Publisher struct {
	gc     Broadcaster
	load   PoolLoader
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[int64]map[string]struct{}
	flushCh chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration
}

// NewPublisher builds a publisher backed by the pool table.
func NewPublisher(config PublishConfig, db *pgxpool.Pool, logger zerolog.Logger) *Publisher {
	gc := gocent.New(gocent.Config{
		Addr: config.APIURL,
		Key:  config.APIKey,
	})
	load := func(ctx context.Context, chainID int64, addresses []string) ([]database.PoolDTO, error) {
		return database.GetPoolsByAddresses(ctx, db, chainID, addresses)
	}
	return newPublisher(gc, load, config.FlushInterval, logger)
}

func newPublisher(gc Broadcaster, load PoolLoader, interval time.Duration, logger zerolog.Logger) *Publisher {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		gc:       gc,
		load:     load,
		logger:   logger.With().Str("component", "realtime-publisher").Logger(),
		pending:  make(map[int64]map[string]struct{}),
		flushCh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
	}

	p.startFlusher()
	return p
}

func (p *Publisher) startFlusher() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				p.logger.Info().Msg("Stopping publisher flusher")
				return
			case <-ticker.C:
				p.flush(p.ctx)
			case <-p.flushCh:
				p.flush(p.ctx)
			}
		}
	}()
}

// Publish receives a committed block's result.
func (p *Publisher) Publish(_ context.Context, chainID int64, result *core.BlockResult) {
	for _, n := range result.Notifications {
		p.PublishEvent(chainID, n)
	}
	for _, addr := range result.TouchedPools {
		p.EnqueuePoolChanged(chainID, addr)
	}
}

// EnqueuePoolChanged schedules a snapshot of the pool for the next flush.
func (p *Publisher) EnqueuePoolChanged(chainID int64, address string) {
	addr := strings.ToLower(address)
	p.mu.Lock()
	set, ok := p.pending[chainID]
	if !ok {
		set = make(map[string]struct{})
		p.pending[chainID] = set
	}
	set[addr] = struct{}{}
	p.mu.Unlock()

	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// PublishEvent sends one event notification to the pool's channel.
func (p *Publisher) PublishEvent(chainID int64, n core.Notification) {
	payload := map[string]any{
		"type":     "pool.event",
		"event":    n.Type,
		"chain_id": chainID,
		"pool":     n.Pool,
		"data":     n.Payload,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal event payload")
		return
	}

	channel := PoolChannel(chainID, n.Pool)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.gc.Publish(p.ctx, channel, payloadBytes); err != nil {
			// Ignore errors if context is cancelled (shutting down)
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Warn().
				Err(err).
				Str("pool", n.Pool).
				Str("channel", channel).
				Msg("Failed to publish pool event")
		}
	}()
}

func (p *Publisher) Flush() {
	p.flush(p.ctx)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.pending
	p.pending = make(map[int64]map[string]struct{})
	p.mu.Unlock()

	for chainID, set := range batch {
		addrs := make([]string, 0, len(set))
		for addr := range set {
			addrs = append(addrs, addr)
		}
		p.flushChain(ctx, chainID, addrs)
	}
}

func (p *Publisher) flushChain(ctx context.Context, chainID int64, addrs []string) {
	p.logger.Debug().
		Int64("chain_id", chainID).
		Int("count", len(addrs)).
		Msg("Flushing pool updates")

	pools, err := p.load(ctx, chainID, addrs)
	if err != nil {
		p.logger.Error().Err(err).Int64("chain_id", chainID).Msg("Failed to fetch pool snapshots")
		return
	}
	if len(pools) == 0 {
		return
	}
	prices.EnrichPools(pools)

	timestamp := time.Now().UTC().Unix()
	for _, pool := range pools {
		payloadBytes, err := json.Marshal(map[string]any{
			"type": "pool.update",
			"ts":   timestamp,
			"pool": pool,
		})
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to marshal pool payload")
			continue
		}

		channel := PoolChannel(chainID, pool.Address)
		if _, err := p.gc.Publish(ctx, channel, payloadBytes); err != nil {
			p.logger.Warn().
				Err(err).
				Str("pool", pool.Address).
				Str("channel", channel).
				Msg("Failed to publish pool update")
		}
	}

	batchPayloadBytes, err := json.Marshal(map[string]any{
		"type":  "pool.batch",
		"ts":    timestamp,
		"items": pools,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal batch payload")
		return
	}

	if _, err := p.gc.Publish(ctx, PoolsChannel(chainID), batchPayloadBytes); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to publish batch update")
	} else {
		p.logger.Debug().
			Int64("chain_id", chainID).
			Int("count", len(pools)).
			Msg("Published batch update")
	}
}

func (p *Publisher) Close() error {
	p.logger.Info().Msg("Closing publisher")
	p.cancel()
	p.wg.Wait()
	return nil
}
