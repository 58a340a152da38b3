package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/indexer/internal/metrics"
	"github.com/launchpad/indexer/internal/processor"
)

type staticStatus []processor.ChainStatus

func (s staticStatus) Status() []processor.ChainStatus { return s }

func TestLagMonitor_Check(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source := staticStatus{
		{Name: "monad", ChainID: 10143, Cursor: 90, Head: 100, Lag: 10, Syncing: true, LastProgress: now.Add(-10 * time.Minute)},
		{Name: "base", ChainID: 8453, Cursor: 500, Head: 500, LastProgress: now.Add(-time.Hour)},
		{Name: "busy", ChainID: 1, Cursor: 10, Head: 2000, Lag: 1990, Syncing: true, LastProgress: now.Add(-time.Second)},
	}

	m, err := NewLagMonitor(source, time.Minute, 5*time.Minute, zerolog.Nop())
	require.NoError(t, err)
	m.now = func() time.Time { return now }

	stalled := m.Check(context.Background())
	assert.Equal(t, []int64{10143}, stalled)
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.ChainLag.WithLabelValues("10143")))
	assert.Equal(t, float64(1990), testutil.ToFloat64(metrics.ChainLag.WithLabelValues("1")))
	assert.Equal(t, float64(500), testutil.ToFloat64(metrics.ChainHeadBlock.WithLabelValues("8453")))
}

func TestLagMonitor_StartStop(t *testing.T) {
	m, err := NewLagMonitor(staticStatus{}, 10*time.Millisecond, 0, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}
