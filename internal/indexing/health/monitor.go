package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/listener"
)

// HeadFetcher fetches the latest block the indexer may read.
type HeadFetcher interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
}

// Pinger is a dependency whose reachability is part of liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WatcherSource reports the state of running watchers.
type WatcherSource interface {
	Status() []listener.WatcherStatus
}

// ReorgClock reports the last completed reorg check.
type ReorgClock interface {
	LastCheck() time.Time
}

// Thresholds are block lags at which a source degrades.
type Thresholds struct {
	DegradedLag uint64
	CriticalLag uint64
}

// DefaultThresholds returns lag thresholds for a chain with second-scale blocks.
func DefaultThresholds() Thresholds {
	return Thresholds{DegradedLag: 50, CriticalLag: 500}
}

const cacheFor = 10 * time.Second

// Monitor aggregates health status from various system components.
type Monitor struct {
	sources    []string
	cursorMgr  cursor.Manager
	head       HeadFetcher
	components map[string]Pinger
	watchers   WatcherSource
	reorg      ReorgClock
	thresholds Thresholds

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(sources []string, cursorMgr cursor.Manager, head HeadFetcher, thresholds Thresholds) *Monitor {
	return &Monitor{
		sources:    sources,
		cursorMgr:  cursorMgr,
		head:       head,
		components: make(map[string]Pinger),
		thresholds: thresholds,
	}
}

// AddComponent registers a dependency checked by Ping. Call before serving.
func (m *Monitor) AddComponent(name string, p Pinger) {
	m.components[name] = p
}

// SetWatchers attaches the watcher status source.
func (m *Monitor) SetWatchers(w WatcherSource) { m.watchers = w }

// SetReorgClock attaches the reorg detector.
func (m *Monitor) SetReorgClock(r ReorgClock) { m.reorg = r }

// Ping checks every registered component. The returned map holds "ok" or the error.
func (m *Monitor) Ping(ctx context.Context) (SystemStatus, map[string]string) {
	status := StatusHealthy
	out := make(map[string]string, len(m.components))
	for name, p := range m.components {
		if err := p.Ping(ctx); err != nil {
			out[name] = err.Error()
			status = StatusCritical
			continue
		}
		out[name] = "ok"
	}
	return status, out
}

// CheckHealth builds the detailed report. Results are cached briefly so probes do not
// hammer the RPC endpoint.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < cacheFor {
		return m.lastReport
	}

	report := &HealthReport{Sources: make(map[string]SourceHealth), CheckedAt: time.Now().UTC()}
	report.SystemStatus, report.Components = m.Ping(ctx)

	latest, headErr := m.head.GetLatestBlock(ctx)
	if headErr != nil {
		report.Components["chain"] = headErr.Error()
		report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
	} else {
		report.Head = latest
		report.Components["chain"] = "ok"
	}

	for _, source := range m.sources {
		sh := SourceHealth{Source: source, Status: StatusHealthy}
		if block, found, err := m.cursorMgr.Get(ctx, source); err == nil && found {
			sh.Cursor = block
		}
		if headErr == nil {
			lag, _ := m.cursorMgr.GetLag(ctx, source, latest)
			if lag > 0 {
				sh.BlockLag = uint64(lag)
			}
		}
		sh.BlocksPerSecond = m.cursorMgr.GetMetrics(source).BlocksPerSecond

		switch {
		case sh.BlockLag > m.thresholds.CriticalLag:
			sh.Status = StatusCritical
		case sh.BlockLag > m.thresholds.DegradedLag:
			sh.Status = StatusDegraded
		}
		report.SystemStatus = worse(report.SystemStatus, sh.Status)
		report.Sources[source] = sh
	}

	if m.watchers != nil {
		report.Watchers = m.watchers.Status()
		sort.Slice(report.Watchers, func(i, j int) bool {
			return report.Watchers[i].Source < report.Watchers[j].Source
		})
		for _, w := range report.Watchers {
			if w.Stalled {
				report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
			}
		}
	}
	if m.reorg != nil {
		if t := m.reorg.LastCheck(); !t.IsZero() {
			report.LastReorgCheck = &t
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
