package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
)

const (
	defaultBuffer  = 1024
	maxAttempts    = 3
	publishTimeout = 5 * time.Second
	defaultBackoff = 200 * time.Millisecond
)

// Dispatcher decouples committed state changes from message delivery. Notify never
// blocks: when the buffer is full the message is dropped and counted.
type Dispatcher struct {
	pub     Publisher
	queue   chan Message
	backoff time.Duration
	log     *slog.Logger

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher delivering to pub.
func NewDispatcher(pub Publisher, buffer int, log *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		pub:     pub,
		queue:   make(chan Message, buffer),
		backoff: defaultBackoff,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Notify enqueues a message. Messages sent after Stop are dropped.
func (d *Dispatcher) Notify(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.Notifications.WithLabelValues(msg.Event, "dropped").Inc()
		return
	}
	select {
	case d.queue <- msg:
		metrics.Notifications.WithLabelValues(msg.Event, "queued").Inc()
	default:
		metrics.Notifications.WithLabelValues(msg.Event, "dropped").Inc()
		d.log.Warn("Notification buffer full, dropping message", "event", msg.Event, "packet_id", msg.PacketID)
	}
}

// Start runs the delivery worker until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Stop flushes queued messages and waits for the worker, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.Start(ctx)
	select {
	case <-d.done:
		return d.pub.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case msg, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, msg)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

// drain publishes whatever is still queued once the run context is gone.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case msg, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = d.pub.Publish(pctx, msg)
		cancel()
		if err == nil {
			metrics.Notifications.WithLabelValues(msg.Event, "published").Inc()
			return
		}
		if attempt == maxAttempts || !d.wait(ctx, d.backoff*time.Duration(attempt)) {
			break
		}
	}
	metrics.Notifications.WithLabelValues(msg.Event, "failed").Inc()
	d.log.Error("Notification delivery failed", "event", msg.Event, "packet_id", msg.PacketID, "error", err)
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
