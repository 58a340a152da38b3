package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/metrics"
	"github.com/launchpad/indexer/internal/processor"
)

// StatusSource reports per-chain progress. *processor.Indexer implements it.
type StatusSource interface {
	Status() []processor.ChainStatus
}

// LagMonitor periodically exports chain lag and warns about chains whose
// cursor has not moved for longer than the stall threshold.
type LagMonitor struct {
	source    StatusSource
	scheduler gocron.Scheduler
	interval  time.Duration
	maxStall  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewLagMonitor(source StatusSource, interval, maxStall time.Duration, logger zerolog.Logger) (*LagMonitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &LagMonitor{
		source:    source,
		scheduler: s,
		interval:  interval,
		maxStall:  maxStall,
		logger:    logger.With().Str("component", "lag-monitor").Logger(),
		now:       time.Now,
	}, nil
}

func (m *LagMonitor) Start(ctx context.Context) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(m.Check, ctx),
		gocron.WithName("chain-lag-monitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	m.logger.Info().Dur("interval", m.interval).Msg("Lag monitor started")
	m.scheduler.Start()
	return nil
}

func (m *LagMonitor) Stop() {
	m.logger.Info().Msg("Stopping lag monitor")
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

// Check exports the current lag of every chain and returns the chains that
// are considered stalled.
func (m *LagMonitor) Check(ctx context.Context) []int64 {
	if ctx.Err() != nil {
		return nil
	}

	var stalled []int64
	for _, st := range m.source.Status() {
		label := strconv.FormatInt(st.ChainID, 10)
		metrics.ChainLag.WithLabelValues(label).Set(float64(st.Lag))
		if st.Head > 0 {
			metrics.ChainHeadBlock.WithLabelValues(label).Set(float64(st.Head))
		}

		event := m.logger.Debug()
		idle := m.now().Sub(st.LastProgress)
		if m.maxStall > 0 && st.Syncing && !st.LastProgress.IsZero() && idle > m.maxStall {
			stalled = append(stalled, st.ChainID)
			event = m.logger.Warn().Dur("idle", idle).Str("last_error", st.LastError)
		}
		event.
			Str("chain", st.Name).
			Int64("chain_id", st.ChainID).
			Uint64("cursor", st.Cursor).
			Uint64("head", st.Head).
			Uint64("lag", st.Lag).
			Msg("Chain lag")
	}
	return stalled
}
