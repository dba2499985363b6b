package transport

import (
	"sync"
	"time"
)

// HealthStatus is a snapshot of transport health.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	Requests      int           `json:"requests"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at,omitempty"`
}

// Health tracks transport outcomes.
type Health struct {
	mu           sync.RWMutex
	status       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
}

// NewHealth creates a tracker that starts available.
func NewHealth() *Health {
	return &Health{
		status: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
}

// Status returns the current snapshot.
func (h *Health) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Health) RecordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.successCount++
	h.status.Requests++
	h.totalLatency += latency
	h.status.LastSuccessAt = time.Now()
	h.status.Available = true

	h.status.ErrorRate = float64(h.failureCount) / float64(h.status.Requests)
	h.status.Latency = h.totalLatency / time.Duration(h.successCount)
}

func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failureCount++
	h.status.Requests++
	h.status.LastFailureAt = time.Now()

	h.status.ErrorRate = float64(h.failureCount) / float64(h.status.Requests)
	if h.status.ErrorRate > 0.5 {
		h.status.Available = false
	}
}
