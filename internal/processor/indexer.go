package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/config"
	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/modules/bondingcurve"
	"github.com/launchpad/indexer/internal/rpc"
)

// ErrNoChains is returned when an Indexer is built without chains.
var ErrNoChains = errors.New("no chains configured")

// Indexer runs one ChainIndexer per configured chain. Chains progress
// independently; within a chain, blocks are applied strictly in order.
type Indexer struct {
	chains  []*ChainIndexer
	clients []*rpc.Client
	logger  zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewIndexer dials every chain's RPC endpoint and binds the bonding-curve
// module to the shared database.
func NewIndexer(ctx context.Context, cfg *config.Config, db *database.Database, notifier Notifier, logger zerolog.Logger) (*Indexer, error) {
	if len(cfg.Chains) == 0 {
		return nil, ErrNoChains
	}

	module, err := bondingcurve.NewModule(db, cfg.Protocol, logger)
	if err != nil {
		return nil, err
	}

	idx := &Indexer{logger: logger.With().Str("component", "indexer").Logger()}
	for _, chain := range cfg.Chains {
		client, err := rpc.NewClient(ctx, chain.RPCEndpoint, chain.ChainID, chain.RequestsPerSecond, logger)
		if err != nil {
			idx.closeClients()
			return nil, fmt.Errorf("chain %s: %w", chain.Name, err)
		}
		client.SetHeaderWorkers(cfg.Processor.TimestampWorkers)
		idx.clients = append(idx.clients, client)
		idx.chains = append(idx.chains, NewChainIndexer(chain, cfg.Processor.BlockTimeout, client, db, module, notifier, logger))
	}

	idx.logger.Info().
		Int("chains", len(idx.chains)).
		Str("module", module.Name()).
		Str("version", module.Version()).
		Msg("Indexer configured")
	return idx, nil
}

// NewIndexerWithChains assembles an Indexer from already built chain indexers.
func NewIndexerWithChains(chains []*ChainIndexer, logger zerolog.Logger) *Indexer {
	return &Indexer{chains: chains, logger: logger.With().Str("component", "indexer").Logger()}
}

// Start launches every chain loop and returns immediately.
func (i *Indexer) Start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	for _, c := range i.chains {
		i.wg.Add(1)
		go func(c *ChainIndexer) {
			defer i.wg.Done()
			c.Run(ctx)
		}(c)
	}
	i.logger.Info().Msg("Indexer started")
}

// Stop cancels the chain loops, waits for in-flight blocks and closes RPC clients.
func (i *Indexer) Stop() {
	i.logger.Info().Msg("Stopping indexer")
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
	i.closeClients()
	i.logger.Info().Msg("Indexer stopped")
}

func (i *Indexer) closeClients() {
	for _, c := range i.clients {
		c.Close()
	}
	i.clients = nil
}

// Status returns every chain's progress ordered by chain ID.
func (i *Indexer) Status() []ChainStatus {
	out := make([]ChainStatus, 0, len(i.chains))
	for _, c := range i.chains {
		out = append(out, c.Status())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ChainID < out[b].ChainID })
	return out
}
