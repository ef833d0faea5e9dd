// Package cursor tracks the indexing position of each event source.
//
// A source is one event kind of the packet contract ("<contract>:<kind>"). Its cursor is
// the last block whose logs of that kind are fully applied.
//
// Advance is a compare-and-set: it only succeeds when the stored block is still the one
// the caller started its range from. The reorg detector rewinds cursors concurrently
// with the watchers, and a watcher finishing an old range must not skip the rewound
// blocks:
//
//	manager.Advance(ctx, src, 101, 200)  // cursor 100 -> 200
//	manager.Rewind(ctx, src, 150)        // reorg: cursor 200 -> 150
//	manager.Advance(ctx, src, 201, 300)  // ErrCursorMoved, next tick restarts at 151
package cursor

import (
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
)

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:       repo,
		throughput: make(map[string]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		records:    make([]blockRecord, 0, windowSize),
	}
}
