package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/metrics"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

var (
	// ErrCursorMoved is returned by Advance when the cursor no longer sits right before
	// the range the caller processed.
	ErrCursorMoved = errors.New("cursor moved")

	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New("invalid block range")
)

// Manager handles cursor operations.
type Manager interface {
	// Get returns the last processed block of a source and whether a cursor exists.
	Get(ctx context.Context, source string) (uint64, bool, error)

	// Advance moves the cursor from from-1 to to after [from, to] is processed.
	// to == from-1 is a no-op. A missing cursor is created.
	Advance(ctx context.Context, source string, from, to uint64) error

	// Rewind moves the cursor back to block. It never moves a cursor forward and
	// creates a missing one so an in-flight first range can't skip the rewound blocks.
	Rewind(ctx context.Context, source string, block uint64) error

	// Reset sets the cursor to any block.
	Reset(ctx context.Context, source string, block uint64) error

	// List returns every stored cursor.
	List(ctx context.Context) ([]*domain.Cursor, error)

	// GetLag returns blocks behind the given chain head.
	GetLag(ctx context.Context, source string, latestBlock uint64) (int64, error)

	// GetMetrics returns throughput metrics of a source.
	GetMetrics(source string) Metrics
}

// DefaultManager implements Manager. Read-modify-write cycles are serialized by a
// mutex, so all writers of a source must share one manager.
type DefaultManager struct {
	repo       storage.CursorRepository
	mu         sync.Mutex
	throughput map[string]*MetricsCollector
}

func (m *DefaultManager) Get(ctx context.Context, source string) (uint64, bool, error) {
	c, err := m.repo.Get(ctx, source)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor: %w", err)
	}
	return c.BlockNumber, true, nil
}

func (m *DefaultManager) Advance(ctx context.Context, source string, from, to uint64) error {
	if from > 0 && to == from-1 {
		return nil
	}
	if to < from {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, found, err := m.Get(ctx, source)
	if err != nil {
		return err
	}
	if found && current+1 != from {
		return fmt.Errorf("%w: %s at %d, range starts at %d", ErrCursorMoved, source, current, from)
	}

	if err := m.save(ctx, source, to); err != nil {
		return err
	}
	m.collector(source).RecordBlock(to, time.Now())
	return nil
}

func (m *DefaultManager) Rewind(ctx context.Context, source string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, found, err := m.Get(ctx, source)
	if err != nil {
		return err
	}
	if found && current <= block {
		return nil
	}
	if err := m.save(ctx, source, block); err != nil {
		return err
	}
	m.collector(source).RecordRewind(time.Now())
	return nil
}

func (m *DefaultManager) Reset(ctx context.Context, source string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(ctx, source, block)
}

func (m *DefaultManager) List(ctx context.Context) ([]*domain.Cursor, error) {
	return m.repo.List(ctx)
}

// GetLag returns how many blocks behind the chain tip. A missing cursor lags by the
// whole chain.
func (m *DefaultManager) GetLag(ctx context.Context, source string, latestBlock uint64) (int64, error) {
	current, found, err := m.Get(ctx, source)
	if err != nil {
		return 0, err
	}
	if !found {
		return int64(latestBlock), nil
	}
	return int64(latestBlock) - int64(current), nil
}

func (m *DefaultManager) GetMetrics(source string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.throughput[source]; ok {
		return c.GetMetrics()
	}
	return Metrics{}
}

func (m *DefaultManager) save(ctx context.Context, source string, block uint64) error {
	err := m.repo.Save(ctx, &domain.Cursor{
		Source:      source,
		BlockNumber: block,
		UpdatedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	metrics.CursorBlock.WithLabelValues(source).Set(float64(block))
	return nil
}

// collector must be called with mu held.
func (m *DefaultManager) collector(source string) *MetricsCollector {
	c, ok := m.throughput[source]
	if !ok {
		c = NewMetricsCollector(100)
		m.throughput[source] = c
	}
	return c
}
