package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/launchpad/indexer/internal/metrics"
)

const (
	headerBatchSize   = 50
	headerConcurrency = 4
	defaultTimeout    = 30 * time.Second
	headRetries       = 3
)

// Client is a rate-limited JSON-RPC client for one EVM chain.
type Client struct {
	client  *ethclient.Client
	raw     *rpc.Client
	chainID int64
	chain   string
	limiter *rate.Limiter
	logger  zerolog.Logger

	headerWorkers int64
}

// BlockHeader is the part of a block header the indexer needs.
type BlockHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// NewClient dials the endpoint and checks the reported chain ID.
func NewClient(ctx context.Context, endpoint string, chainID int64, requestsPerSecond float64, logger zerolog.Logger) (*Client, error) {
	httpClient := &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	rpcClient, err := rpc.DialHTTPWithClient(endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	c := &Client{
		client:  ethclient.NewClient(rpcClient),
		raw:     rpcClient,
		chainID: chainID,
		chain:   strconv.FormatInt(chainID, 10),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Int64("chain_id", chainID).Logger(),

		headerWorkers: headerConcurrency,
	}

	verifyCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := c.wait(verifyCtx, "eth_chainId"); err != nil {
		rpcClient.Close()
		return nil, err
	}
	networkID, err := c.client.ChainID(verifyCtx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to verify chain ID, continuing anyway")
	} else if networkID.Cmp(big.NewInt(chainID)) != 0 {
		rpcClient.Close()
		return nil, fmt.Errorf("chain ID mismatch for %s: configured %d, endpoint reports %s", endpoint, chainID, networkID)
	}

	c.logger.Info().
		Str("endpoint", endpoint).
		Float64("rps", requestsPerSecond).
		Msg("Connected to RPC endpoint")

	return c, nil
}

// Close closes the RPC client connection
func (c *Client) Close() {
	c.client.Close()
	c.logger.Info().Msg("RPC client connection closed")
}

// SetHeaderWorkers bounds how many header batches are in flight at once.
func (c *Client) SetHeaderWorkers(n int64) {
	if n > 0 {
		c.headerWorkers = n
	}
}

// ChainID returns the configured chain ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// wait blocks until the rate limiter admits one request.
func (c *Client) wait(ctx context.Context, method string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	metrics.RPCRequests.WithLabelValues(c.chain, method).Inc()
	return nil
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// GetLatestBlockNumber returns the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var blockNumber uint64
	err := c.Retry(ctx, func() error {
		if err := c.wait(ctx, "eth_blockNumber"); err != nil {
			return err
		}
		n, err := c.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		blockNumber = n
		return nil
	}, headRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// GetLogs fetches logs emitted by addresses with any of the given topic0
// values in [fromBlock, toBlock].
func (c *Client) GetLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}

	if err := c.wait(ctx, "eth_getLogs"); err != nil {
		return nil, err
	}
	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs %d-%d: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

// GetBlockHeaders fetches headers for the given block numbers using batched
// eth_getBlockByNumber calls, a few batches at a time.
func (c *Client) GetBlockHeaders(ctx context.Context, numbers []uint64) (map[uint64]BlockHeader, error) {
	headers := make(map[uint64]BlockHeader, len(numbers))
	if len(numbers) == 0 {
		return headers, nil
	}

	sem := semaphore.NewWeighted(c.headerWorkers)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fetchErr error
	)

	for start := 0; start < len(numbers); start += headerBatchSize {
		end := start + headerBatchSize
		if end > len(numbers) {
			end = len(numbers)
		}
		chunk := numbers[start:end]

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if fetchErr == nil {
				fetchErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(chunk []uint64) {
			defer wg.Done()
			defer sem.Release(1)

			got, err := c.fetchHeaderBatch(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if fetchErr == nil {
					fetchErr = err
				}
				return
			}
			for _, h := range got {
				headers[uint64(h.Number)] = h
			}
		}(chunk)
	}

	wg.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}
	return headers, nil
}

func (c *Client) fetchHeaderBatch(ctx context.Context, numbers []uint64) ([]BlockHeader, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	results := make([]BlockHeader, len(numbers))
	batch := make([]rpc.BatchElem, len(numbers))
	for i, n := range numbers {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(n), false},
			Result: &results[i],
		}
	}

	if err := c.wait(ctx, "eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	if err := c.raw.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to fetch block headers: %w", err)
	}
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", numbers[i], elem.Error)
		}
		if results[i].Hash == (common.Hash{}) {
			return nil, fmt.Errorf("block %d not found", numbers[i])
		}
	}

	c.logger.Debug().
		Int("blocks", len(numbers)).
		Uint64("first", numbers[0]).
		Msg("Fetched block headers")
	return results, nil
}

// Retry wraps a function with retry logic
func (c *Client) Retry(ctx context.Context, fn func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			c.logger.Warn().
				Err(err).
				Int("attempt", i+1).
				Dur("wait", waitTime).
				Msg("Retrying RPC call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
				continue
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}
