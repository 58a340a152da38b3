package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
)

// Module projects the logs of one contract family into the store.
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// Version returns the module version
	Version() string

	// Manifest returns the module's manifest configuration
	Manifest() *Manifest

	// GetEventFilters returns the topics this module wants delivered
	GetEventFilters() []EventFilter

	// HandleBlock applies one block's logs, in log order, inside tx.
	// Logs that fail to decode are skipped; any other error aborts the block.
	HandleBlock(ctx context.Context, tx pgx.Tx, block *BlockLogs) (*BlockResult, error)
}

// BlockLogs is the slice of a block that matched a chain's filters.
type BlockLogs struct {
	ChainID   int64
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	Logs      []types.Log
}

// BlockResult summarises what a module did with a block.
type BlockResult struct {
	Applied int
	Skipped int

	// Per event name and per skip reason; exported as metrics after commit.
	AppliedByEvent  map[string]int
	SkippedByReason map[string]int

	// Lower-case addresses of pools whose row changed.
	TouchedPools []string

	// Events to fan out once the block is committed.
	Notifications []Notification
}

// Notification is a post-commit message about a single pool.
type Notification struct {
	Pool    string
	Type    string
	Payload any
}

// CountApplied records one applied event.
func (r *BlockResult) CountApplied(event string) {
	if r.AppliedByEvent == nil {
		r.AppliedByEvent = make(map[string]int)
	}
	r.AppliedByEvent[event]++
	r.Applied++
}

// CountSkipped records one skipped log.
func (r *BlockResult) CountSkipped(reason string) {
	if r.SkippedByReason == nil {
		r.SkippedByReason = make(map[string]int)
	}
	r.SkippedByReason[reason]++
	r.Skipped++
}

// Touch records a changed pool once.
func (r *BlockResult) Touch(pool string) {
	for _, p := range r.TouchedPools {
		if p == pool {
			return
		}
	}
	r.TouchedPools = append(r.TouchedPools, pool)
}

// EventFilter defines what events a module wants to receive
type EventFilter struct {
	// Topic0 is the event signature hash
	Topic0 common.Hash

	// Name is the ABI event name
	Name string
}
