// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/listener"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SourceHealth contains health metrics of one event source.
type SourceHealth struct {
	Source          string       `json:"source"`
	Status          SystemStatus `json:"status"`
	Cursor          uint64       `json:"cursor"`
	BlockLag        uint64       `json:"block_lag"`
	BlocksPerSecond float64      `json:"blocks_per_second"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus   SystemStatus             `json:"system_status"`
	Head           uint64                   `json:"head,omitempty"`
	Components     map[string]string        `json:"components"`
	Sources        map[string]SourceHealth  `json:"sources"`
	Watchers       []listener.WatcherStatus `json:"watchers,omitempty"`
	LastReorgCheck *time.Time               `json:"last_reorg_check,omitempty"`
	CheckedAt      time.Time                `json:"checked_at"`
}

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
