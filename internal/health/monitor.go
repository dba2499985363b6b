package health

import (
	"time"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/request/transport"
)

// NetworkSource reports network state.
type NetworkSource interface {
	State() domain.NetworkState
}

// QueueSource reports offline queue depth.
type QueueSource interface {
	Len() int
}

// RequestSource reports dispatcher activity.
type RequestSource interface {
	InFlight() int
	CachedEntries() int
}

// TransportSource reports transport health.
type TransportSource interface {
	Status() transport.HealthStatus
}

// DegradedErrorRate is the transport error rate at which the agent reports degraded.
const DegradedErrorRate = 0.5

// Monitor assembles health reports. Nil sources are skipped.
type Monitor struct {
	network   NetworkSource
	queue     QueueSource
	requests  RequestSource
	transport TransportSource
	now       func() time.Time
}

// NewMonitor creates a health monitor.
func NewMonitor(network NetworkSource, queue QueueSource, requests RequestSource, tr TransportSource) *Monitor {
	return &Monitor{
		network:   network,
		queue:     queue,
		requests:  requests,
		transport: tr,
		now:       time.Now,
	}
}

// CheckHealth builds a report. Offline is critical; a pending queue or a
// failing transport is degraded.
func (m *Monitor) CheckHealth() Report {
	r := Report{
		SystemStatus: StatusHealthy,
		Network:      NetworkHealth{Online: true},
		CheckedAt:    m.now(),
	}

	if m.network != nil {
		s := m.network.State()
		r.Network = NetworkHealth{Online: s.IsOnline, LastOnline: s.LastOnline, LastOffline: s.LastOffline}
	}
	if m.queue != nil {
		r.PendingQueue = m.queue.Len()
	}
	if m.requests != nil {
		r.Requests = RequestHealth{
			InFlight:      m.requests.InFlight(),
			CachedEntries: m.requests.CachedEntries(),
		}
	}
	if m.transport != nil {
		ts := m.transport.Status()
		r.Transport = &ts
	}

	switch {
	case !r.Network.Online:
		r.SystemStatus = StatusCritical
	case r.PendingQueue > 0:
		r.SystemStatus = StatusDegraded
	case r.Transport != nil && (!r.Transport.Available || r.Transport.ErrorRate >= DegradedErrorRate):
		r.SystemStatus = StatusDegraded
	}
	return r
}
