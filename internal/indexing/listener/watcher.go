package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/recovery"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/throttle"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/chain"
)

// WatcherStatus is a snapshot of one watcher.
type WatcherStatus struct {
	Kind      domain.EventKind `json:"kind"`
	Source    string           `json:"source"`
	LastTick  time.Time        `json:"last_tick"`
	LastError string           `json:"last_error,omitempty"`
	Failures  int              `json:"consecutive_failures"`
	Lag       int64            `json:"lag"`
	Interval  time.Duration    `json:"interval"`

	// HeldAt is the block of the deferred event holding the cursor, 0 when not held.
	HeldAt        uint64     `json:"held_at,omitempty"`
	DeferredSince *time.Time `json:"deferred_since,omitempty"`
	Stalled       bool       `json:"stalled"`
}

// deferral is the event currently holding the cursor.
type deferral struct {
	key    string
	block  uint64
	packet string
	since  time.Time
	warned bool
}

// Watcher follows the logs of one event kind. Its batches run sequentially.
type Watcher struct {
	kind    domain.EventKind
	source  string
	cfg     Config
	chain   chain.Adapter
	cursors cursor.Manager
	decoder Decoder
	applier Applier
	backoff recovery.RetryStrategy
	pacer   *throttle.Controller
	log     *slog.Logger

	held *deferral
	now  func() time.Time

	mu     sync.RWMutex
	status WatcherStatus
}

func newWatcher(kind domain.EventKind, cfg Config, adapter chain.Adapter, cursors cursor.Manager, decoder Decoder, app Applier, log *slog.Logger) *Watcher {
	source := domain.SourceName(cfg.Contract, kind)
	return &Watcher{
		kind:      kind,
		source:    source,
		cfg:       cfg,
		chain:     adapter,
		cursors:   cursors,
		decoder:   decoder,
		applier:   app,
		backoff:   cfg.Backoff,
		pacer:     throttle.NewController(cfg.Interval, cfg.Throttle),
		log:       log.With("kind", kind),
		now:       time.Now,
		status:    WatcherStatus{Kind: kind, Source: source, Interval: cfg.Interval},
	}
}

// Source returns the cursor key of the watcher.
func (w *Watcher) Source() string { return w.source }

// Status returns a snapshot of the watcher.
func (w *Watcher) Status() WatcherStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Run ticks until ctx is cancelled. A tick in progress finishes its current batch
// before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("Watcher started", "source", w.source, "interval", w.cfg.Interval)
	defer w.log.Info("Watcher stopped", "source", w.source)

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		lag, held, err := w.tick(context.WithoutCancel(ctx))
		next := w.pacer.ComputeInterval(lag)
		if held {
			// Bursting can't help until the Created watcher catches up.
			next = w.cfg.Interval
		}
		if err != nil {
			failures++
			metrics.PollErrors.WithLabelValues(string(w.kind)).Inc()
			w.log.Error("Poll tick failed", "failures", failures, "error", err)
			next = w.backoff.GetDelay(failures - 1)
		} else {
			failures = 0
		}
		w.setStatus(func(s *WatcherStatus) {
			s.LastTick = time.Now()
			s.Failures = failures
			s.Lag = lag
			s.Interval = next
			s.HeldAt, s.DeferredSince, s.Stalled = 0, nil, false
			if d := w.held; d != nil {
				since := d.since
				s.HeldAt = d.block
				s.DeferredSince = &since
				s.Stalled = d.warned
			}
			s.LastError = ""
			if err != nil {
				s.LastError = err.Error()
			}
		})
		timer.Reset(next)
	}
}

// Tick processes every block between the cursor and the safe head, chunked by
// MaxBlockRange. It returns the remaining lag in blocks. On error the cursor stays at
// the last fully applied chunk.
func (w *Watcher) Tick(ctx context.Context) (int64, error) {
	lag, _, err := w.tick(ctx)
	return lag, err
}

func (w *Watcher) tick(ctx context.Context) (int64, bool, error) {
	head, err := w.chain.GetLatestBlock(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("get head: %w", err)
	}

	current, found, err := w.cursors.Get(ctx, w.source)
	if err != nil {
		return 0, false, err
	}
	from := w.cfg.StartBlock
	if found {
		from = current + 1
	}

	for from <= head {
		to := head
		if head-from >= w.cfg.MaxBlockRange {
			to = from + w.cfg.MaxBlockRange - 1
		}

		held, heldAt, err := w.processChunk(ctx, from, to)
		if err != nil {
			return int64(head - from + 1), false, err
		}
		advanceTo := to
		if held {
			if heldAt <= from {
				// The deferred event sits on the first block of the chunk.
				return int64(head - from + 1), true, nil
			}
			advanceTo = heldAt - 1
		}
		if err := w.cursors.Advance(ctx, w.source, from, advanceTo); err != nil {
			if errors.Is(err, cursor.ErrCursorMoved) {
				// Rewound by the reorg detector; the next tick restarts from the new cursor.
				w.log.Info("Cursor moved during tick, restarting", "from", from, "to", advanceTo)
				return int64(head - from + 1), false, nil
			}
			return int64(head - from + 1), false, err
		}
		if held {
			return int64(head - advanceTo), true, nil
		}
		from = to + 1
	}
	w.release()
	return 0, false, nil
}

// processChunk applies [from, to]. When a deferred event stops the chunk early, held is
// set and heldAt is its block: the cursor must stay before it, however long the packet
// takes to appear.
func (w *Watcher) processChunk(ctx context.Context, from, to uint64) (held bool, heldAt uint64, err error) {
	logs, err := w.chain.FilterLogs(ctx, w.kind, from, to)
	if err != nil {
		return false, 0, err
	}
	events := w.decoder.DecodeAll(ctx, w.kind, logs)

	for _, ev := range events {
		outcome, err := w.applier.Apply(ctx, ev)
		if err != nil {
			return false, 0, err
		}
		if outcome == applier.OutcomeDeferred {
			w.hold(ev)
			return true, ev.Meta().BlockNumber, nil
		}
	}
	return false, 0, nil
}

// hold records the deferred event holding the cursor and reports it once it has held
// longer than StallAfter.
func (w *Watcher) hold(ev domain.Event) {
	meta := ev.Meta()
	key := fmt.Sprintf("%s:%d", meta.TxHash, meta.LogIndex)
	now := w.now()
	if w.held == nil || w.held.key != key {
		w.held = &deferral{key: key, block: meta.BlockNumber, packet: ev.Packet(), since: now}
		metrics.DeferredHold.WithLabelValues(string(w.kind)).Set(float64(meta.BlockNumber))
	}

	d := w.held
	waited := now.Sub(d.since)
	if !d.warned && waited >= w.cfg.StallAfter {
		d.warned = true
		metrics.WatcherStalled.WithLabelValues(string(w.kind)).Set(1)
		w.log.Error("Event still references unknown packet, cursor stalled",
			"packet_id", d.packet,
			"block", d.block,
			"tx", meta.TxHash,
			"waited", waited,
		)
		return
	}
	w.log.Warn("Event references unknown packet, holding cursor",
		"packet_id", d.packet,
		"block", d.block,
		"tx", meta.TxHash,
		"waited", waited,
	)
}

// release clears the hold after a tick reached the head without deferring.
func (w *Watcher) release() {
	if w.held == nil {
		return
	}
	if w.held.warned {
		w.log.Info("Stalled event applied, cursor released", "block", w.held.block, "waited", w.now().Sub(w.held.since))
	}
	w.held = nil
	metrics.DeferredHold.WithLabelValues(string(w.kind)).Set(0)
	metrics.WatcherStalled.WithLabelValues(string(w.kind)).Set(0)
}

func (w *Watcher) setStatus(fn func(s *WatcherStatus)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.status)
}
