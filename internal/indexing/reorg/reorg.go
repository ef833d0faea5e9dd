// Package reorg re-verifies recently mirrored rows against the canonical chain.
//
// # Detection
//
// Every packet and confirmed claim records the (block number, block hash) of the log it
// came from. Each cycle the detector lists the distinct pairs recorded within the last
// CheckDepth blocks and fetches the canonical hash once per block number. A pair whose
// hash differs is orphaned.
//
// # Rollback Process
//
//  1. Affected packets = packets recorded in orphaned blocks + packets owning orphaned claims
//  2. Delete all claims of affected packets and every orphaned claim, then the packets
//  3. Rewind every source cursor to the block before the lowest deleted row
//  4. Emit packet.rolled_back notifications
//
// The detector never writes corrected data: the poller re-reads the rewound range and
// recreates rows from canonical events.
//
// # Usage
//
//	handler := reorg.NewHandler(store, cursorMgr, sources, dispatcher)
//	detector := reorg.NewDetector(reorg.Config{CheckDepth: 64, Interval: 30 * time.Second}, adapter, store, handler)
//	go detector.Run(ctx)
package reorg

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// HashFetcher returns the canonical hash of a block.
type HashFetcher interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
	GetBlockHash(ctx context.Context, blockNumber uint64) (string, error)
}

// Config holds configuration for reorg detection.
type Config struct {
	Interval   time.Duration // Time between cycles (default: 30s)
	CheckDepth uint64        // Blocks behind head to re-verify (default: 64)
}

// NewDetector creates a new reorg detector.
func NewDetector(config Config, chain HashFetcher, store storage.Store, handler *Handler) *Detector {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.CheckDepth == 0 {
		config.CheckDepth = 64
	}
	return &Detector{
		config:  config,
		chain:   chain,
		store:   store,
		handler: handler,
		log:     slog.Default().With("component", "reorg"),
	}
}

// NewHandler creates a new reorg handler. sources are the cursor keys rewound after a
// rollback; sink may be nil.
func NewHandler(store storage.Store, cursorMgr cursor.Manager, sources []string, sink notify.Sink) *Handler {
	return &Handler{
		store:     store,
		cursorMgr: cursorMgr,
		sources:   sources,
		sink:      sink,
		log:       slog.Default().With("component", "reorg"),
	}
}
