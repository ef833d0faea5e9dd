package cursor

import (
	"time"
)

// blockRecord holds timing data for an advance.
type blockRecord struct {
	BlockNumber uint64
	ProcessedAt time.Time
}

// Metrics holds cursor performance data.
type Metrics struct {
	BlocksPerSecond float64
	LastAdvanceAt   time.Time
	LastRewindAt    *time.Time
}

// MetricsCollector tracks cursor throughput over a sliding window of advances.
type MetricsCollector struct {
	windowSize   int
	records      []blockRecord // ring buffer
	lastRewindAt *time.Time
}

// RecordBlock records the block a cursor advanced to.
func (mc *MetricsCollector) RecordBlock(blockNumber uint64, processedAt time.Time) {
	record := blockRecord{
		BlockNumber: blockNumber,
		ProcessedAt: processedAt,
	}

	if len(mc.records) >= mc.windowSize {
		copy(mc.records, mc.records[1:])
		mc.records[len(mc.records)-1] = record
	} else {
		mc.records = append(mc.records, record)
	}
}

// RecordRewind records a reorg rewind. Throughput before it is meaningless.
func (mc *MetricsCollector) RecordRewind(at time.Time) {
	mc.records = mc.records[:0]
	mc.lastRewindAt = &at
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{LastRewindAt: mc.lastRewindAt}
	if len(mc.records) == 0 {
		return m
	}
	first := mc.records[0]
	last := mc.records[len(mc.records)-1]
	m.LastAdvanceAt = last.ProcessedAt

	duration := last.ProcessedAt.Sub(first.ProcessedAt)
	if duration > 0 && last.BlockNumber > first.BlockNumber {
		m.BlocksPerSecond = float64(last.BlockNumber-first.BlockNumber) / duration.Seconds()
	}
	return m
}
