package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/centrifugal/gocent/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/modules/core"
)

type published struct {
	channel string
	payload map[string]any
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []published
}

func (b *recordingBroadcaster) Publish(_ context.Context, channel string, data []byte, _ ...gocent.PublishOption) (gocent.PublishResult, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return gocent.PublishResult{}, err
	}
	b.mu.Lock()
	b.msgs = append(b.msgs, published{channel, payload})
	b.mu.Unlock()
	return gocent.PublishResult{}, nil
}

func (b *recordingBroadcaster) byChannel(channel string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, m := range b.msgs {
		if m.channel == channel {
			out = append(out, m.payload)
		}
	}
	return out
}

func TestPoolChannel(t *testing.T) {
	assert.Equal(t, "launchpad.pool.10143.0xabc", PoolChannel(10143, "0xABC"))
	assert.Equal(t, "launchpad.pools.1", PoolsChannel(1))
}

func TestPublisher_PublishesEventsAndSnapshots(t *testing.T) {
	gc := &recordingBroadcaster{}
	var loads []int64
	var loadMu sync.Mutex
	load := func(_ context.Context, chainID int64, addrs []string) ([]database.PoolDTO, error) {
		loadMu.Lock()
		loads = append(loads, chainID)
		loadMu.Unlock()
		out := make([]database.PoolDTO, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, database.PoolDTO{
				Address:              a,
				ChainID:              chainID,
				VirtualEthReserves:   "1000",
				VirtualTokenReserves: "1000000",
				TokenTotalSupply:     "1000000000000000000000000000",
				MarketCapLimit:       "25000000000000000000",
			})
		}
		return out, nil
	}

	p := newPublisher(gc, load, time.Hour, zerolog.Nop())
	p.Publish(context.Background(), 10143, &core.BlockResult{
		TouchedPools: []string{"0xAA"},
		Notifications: []core.Notification{
			{Pool: "0xaa", Type: "pool.trade", Payload: map[string]any{"isBuy": true}},
		},
	})

	require.Eventually(t, func() bool {
		return len(gc.byChannel(PoolsChannel(10143))) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())

	msgs := gc.byChannel(PoolChannel(10143, "0xaa"))
	require.Len(t, msgs, 2)

	types := []any{msgs[0]["type"], msgs[1]["type"]}
	assert.ElementsMatch(t, []any{"pool.event", "pool.update"}, types)
	for _, m := range msgs {
		if m["type"] == "pool.update" {
			pool := m["pool"].(map[string]any)
			assert.Equal(t, "0.001", pool["price"])
		}
	}
	assert.Equal(t, []int64{10143}, loads)
}

func TestPublisher_LoaderErrorDropsBatch(t *testing.T) {
	gc := &recordingBroadcaster{}
	load := func(context.Context, int64, []string) ([]database.PoolDTO, error) {
		return nil, errors.New("db down")
	}
	p := newPublisher(gc, load, time.Hour, zerolog.Nop())
	defer p.Close()

	p.EnqueuePoolChanged(1, "0x01")
	p.Flush()
	p.Flush()
	assert.Empty(t, gc.byChannel(PoolsChannel(1)))
}
