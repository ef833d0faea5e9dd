package worker

import (
	"context"
	"log/slog"
	"time"
)

// Prunable holds entries that expire and can be dropped in bulk.
type Prunable interface {
	Prune(now time.Time) int
}

// Pruner periodically drops expired entries from in-process stores.
type Pruner struct {
	interval time.Duration
	targets  map[string]Prunable
	now      func() time.Time
	log      *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(interval time.Duration, targets map[string]Prunable, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		interval: interval,
		targets:  targets,
		now:      time.Now,
		log:      log.With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 || len(p.targets) == 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Prune runs one pass and returns the number of entries dropped.
func (p *Pruner) Prune() int {
	now := p.now()
	total := 0
	for name, t := range p.targets {
		n := t.Prune(now)
		if n > 0 {
			p.log.Debug("Pruned expired entries", "store", name, "count", n)
		}
		total += n
	}
	return total
}
