package listener

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/backfill"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/chain"
)

// Poller runs the per-kind watchers.
type Poller struct {
	cfg      Config
	watchers []*Watcher
	replay   *backfill.Processor
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewPoller creates a poller with one watcher per event kind.
func NewPoller(cfg Config, adapter chain.Adapter, cursors cursor.Manager, decoder Decoder, app Applier, log *slog.Logger) *Poller {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "poller")

	p := &Poller{
		cfg:    cfg,
		replay: backfill.NewProcessor(backfill.Config{MaxBlockRange: cfg.MaxBlockRange}, adapter, decoder, app),
		log:    log,
	}
	for _, kind := range domain.EventKinds {
		p.watchers = append(p.watchers, newWatcher(kind, cfg, adapter, cursors, decoder, app, log))
	}
	return p
}

// Start launches the watchers in the background.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go func() {
		defer close(done)
		err := p.Run(runCtx)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
	p.log.Info("Poller started", "watchers", len(p.watchers), "contract", p.cfg.Contract)
	return nil
}

// Stop cancels the watchers and waits for their in-flight batches, bounded by ctx.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel, p.done = nil, nil
	p.log.Info("Poller stopped")
	return p.err
}

// Run blocks until ctx is cancelled or a watcher fails.
func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.watchers {
		w := w
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}

// ProcessRange replays [from, to] in causal order without reading or moving cursors.
func (p *Poller) ProcessRange(ctx context.Context, from, to uint64) (*backfill.Result, error) {
	return p.replay.Run(ctx, from, to)
}

// Watchers returns the per-kind watchers in causal order.
func (p *Poller) Watchers() []*Watcher {
	return p.watchers
}

// Status returns a snapshot of every watcher.
func (p *Poller) Status() []WatcherStatus {
	out := make([]WatcherStatus, 0, len(p.watchers))
	for _, w := range p.watchers {
		out = append(out, w.Status())
	}
	return out
}
