// Package health provides agent health reporting over HTTP.
package health

import (
	"time"

	"github.com/vietddude/resilient/internal/infra/request/transport"
)

// SystemStatus represents the overall health state of the agent.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// NetworkHealth describes reachability.
type NetworkHealth struct {
	Online      bool       `json:"online"`
	LastOnline  *time.Time `json:"last_online,omitempty"`
	LastOffline *time.Time `json:"last_offline,omitempty"`
}

// RequestHealth describes the dispatcher.
type RequestHealth struct {
	InFlight      int `json:"in_flight"`
	CachedEntries int `json:"cached_entries"`
}

// Report contains the full health report.
type Report struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Network      NetworkHealth           `json:"network"`
	Requests     RequestHealth           `json:"requests"`
	PendingQueue int                     `json:"pending_queue"`
	Transport    *transport.HealthStatus `json:"transport,omitempty"`
	CheckedAt    time.Time               `json:"checked_at"`
}
