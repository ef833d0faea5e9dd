// Package listener follows the packet contract on chain.
//
// The Poller owns one Watcher per event kind. Watchers run concurrently, each with its
// own cursor ("<contract>:<kind>"), and process their batches sequentially:
//
//	head = latest block - confirmations
//	from = cursor + 1 (or the start block)
//	for each chunk of MaxBlockRange blocks up to head:
//	    fetch logs -> normalize -> apply in (block, logIndex) order -> advance cursor
//
// Delivery is at-least-once: a failed chunk leaves the cursor where it was and the next
// tick reads it again. An event whose packet isn't mirrored yet (the Created watcher is
// behind) holds the cursor right before it until the packet lands. A hold older than
// StallAfter is reported as stalled; the event is never skipped.
package listener

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/recovery"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/throttle"
)

// ErrAlreadyRunning is returned by Start on a running poller.
var ErrAlreadyRunning = errors.New("poller already running")

// Decoder turns raw logs into sorted events, dropping malformed ones.
type Decoder interface {
	DecodeAll(ctx context.Context, kind domain.EventKind, logs []types.Log) []domain.Event
}

// Applier applies one event idempotently.
type Applier interface {
	Apply(ctx context.Context, ev domain.Event) (applier.Outcome, error)
}

// Config holds poller settings.
type Config struct {
	Contract      string
	StartBlock    uint64
	MaxBlockRange uint64
	Interval      time.Duration
	StallAfter    time.Duration
	Throttle      throttle.Config
	Backoff       recovery.RetryStrategy
}

func (c *Config) setDefaults() {
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = 2000
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	if c.StallAfter == 0 {
		c.StallAfter = 10 * time.Minute
	}
	if c.Backoff == nil {
		c.Backoff = recovery.DefaultBackoff(nil)
	}
}
