// Package backfill replays historical contract events for an explicit block range.
//
// # Causal order
//
// Each chunk of the range fetches all event kinds first, then applies them kind by kind
// so that every Claimed, VrfRequested, RandomReady and Refunded event finds its packet:
//
//	Created -> Refunded -> VrfRequested -> RandomReady -> Claimed
//
// Within a kind events are applied by (block, logIndex). Backfill never touches cursors
// and relies on applier idempotence, so overlapping or repeated ranges are safe.
//
// # Usage
//
//	processor := backfill.NewProcessor(backfill.Config{MaxBlockRange: 2000}, adapter, normalizer, applier)
//	result, err := processor.Run(ctx, 18_000_000, 18_050_000)
package backfill

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
)

// LogFetcher returns the contract logs of one event kind in [from, to].
type LogFetcher interface {
	FilterLogs(ctx context.Context, kind domain.EventKind, from, to uint64) ([]types.Log, error)
}

// Decoder turns raw logs into sorted events, dropping malformed ones.
type Decoder interface {
	DecodeAll(ctx context.Context, kind domain.EventKind, logs []types.Log) []domain.Event
}

// Applier applies one event idempotently.
type Applier interface {
	Apply(ctx context.Context, ev domain.Event) (applier.Outcome, error)
}

// Config configures range chunking.
type Config struct {
	MaxBlockRange uint64 // Max blocks per log query (default: 2000)
}

// Result summarises a replay.
type Result struct {
	FromBlock  uint64
	ToBlock    uint64
	Chunks     int
	Events     map[domain.EventKind]int
	Applied    int
	Duplicates int
	// Deferred events reference packets created before FromBlock and not mirrored yet.
	Deferred int
	Duration time.Duration
}

func newResult(from, to uint64) *Result {
	return &Result{
		FromBlock: from,
		ToBlock:   to,
		Events:    make(map[domain.EventKind]int, len(domain.EventKinds)),
	}
}

func (r *Result) record(o applier.Outcome) {
	switch o {
	case applier.OutcomeApplied:
		r.Applied++
	case applier.OutcomeDuplicate:
		r.Duplicates++
	case applier.OutcomeDeferred:
		r.Deferred++
	}
}

func (r *Result) merge(other *Result) {
	r.Chunks += other.Chunks
	for k, n := range other.Events {
		r.Events[k] += n
	}
	r.Applied += other.Applied
	r.Duplicates += other.Duplicates
	r.Deferred += other.Deferred
}
