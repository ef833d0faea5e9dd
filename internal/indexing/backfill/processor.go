package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
)

const defaultMaxBlockRange = 2000

// Processor replays block ranges in causal order.
type Processor struct {
	config  Config
	fetcher LogFetcher
	decoder Decoder
	applier Applier
	log     *slog.Logger
}

// NewProcessor creates a new processor with the given configuration.
func NewProcessor(config Config, fetcher LogFetcher, decoder Decoder, app Applier) *Processor {
	if config.MaxBlockRange == 0 {
		config.MaxBlockRange = defaultMaxBlockRange
	}
	return &Processor{
		config:  config,
		fetcher: fetcher,
		decoder: decoder,
		applier: app,
		log:     slog.Default(),
	}
}

// Run replays [from, to] chunk by chunk. It stops at the first fetch or store error;
// chunks before it stay applied.
func (p *Processor) Run(ctx context.Context, from, to uint64) (*Result, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range [%d, %d]", from, to)
	}
	start := time.Now()
	total := newResult(from, to)

	p.log.Info("Backfill started", "from", from, "to", to, "chunk", p.config.MaxBlockRange)
	for chunkFrom := from; chunkFrom <= to; {
		chunkTo := to
		if to-chunkFrom >= p.config.MaxBlockRange {
			chunkTo = chunkFrom + p.config.MaxBlockRange - 1
		}

		res, err := p.ProcessRange(ctx, chunkFrom, chunkTo)
		if err != nil {
			total.Duration = time.Since(start)
			return total, err
		}
		total.merge(res)

		if chunkTo == to {
			break
		}
		chunkFrom = chunkTo + 1
	}
	total.Duration = time.Since(start)

	p.log.Info("Backfill completed",
		"from", from,
		"to", to,
		"chunks", total.Chunks,
		"applied", total.Applied,
		"duplicates", total.Duplicates,
		"deferred", total.Deferred,
		"duration", total.Duration,
	)
	return total, nil
}

// ProcessRange replays a single range without chunking: every kind is fetched before
// anything is applied.
func (p *Processor) ProcessRange(ctx context.Context, from, to uint64) (*Result, error) {
	res := newResult(from, to)
	res.Chunks = 1

	batches := make(map[domain.EventKind][]domain.Event, len(domain.EventKinds))
	for _, kind := range domain.EventKinds {
		logs, err := p.fetcher.FilterLogs(ctx, kind, from, to)
		if err != nil {
			return res, fmt.Errorf("fetch %s logs [%d, %d]: %w", kind, from, to, err)
		}
		batches[kind] = p.decoder.DecodeAll(ctx, kind, logs)
	}

	for _, kind := range domain.EventKinds {
		for _, ev := range batches[kind] {
			outcome, err := p.applier.Apply(ctx, ev)
			if err != nil {
				return res, err
			}
			res.Events[kind]++
			res.record(outcome)
			metrics.BackfillEvents.WithLabelValues(string(kind)).Inc()

			if outcome == applier.OutcomeDeferred {
				meta := ev.Meta()
				p.log.Warn("Backfill event references unknown packet",
					"kind", kind,
					"packet_id", ev.Packet(),
					"block", meta.BlockNumber,
					"tx", meta.TxHash,
				)
			}
		}
	}
	return res, nil
}
