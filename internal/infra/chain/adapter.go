package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
)

// Adapter is the chain surface the indexer consumes.
type Adapter interface {
	// GetLatestBlock returns the newest block the indexer may read, already reduced by
	// the configured confirmation depth.
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetBlockHash returns the canonical hash of a block.
	GetBlockHash(ctx context.Context, blockNumber uint64) (string, error)

	// FilterLogs returns the packet contract logs of one event kind in [from, to].
	FilterLogs(ctx context.Context, kind domain.EventKind, from, to uint64) ([]types.Log, error)
}
