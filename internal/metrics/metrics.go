package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks dispatched requests by method and outcome
	// (success, error, cache_hit, canceled)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_requests_total",
			Help: "Total number of dispatched requests",
		},
		[]string{"method", "outcome"},
	)

	// RequestErrorsTotal tracks classified request errors
	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_request_errors_total",
			Help: "Total number of classified request errors",
		},
		[]string{"kind"},
	)

	// RequestLatency tracks latency of a single transport attempt
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilient_request_latency_seconds",
			Help:    "Transport attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CacheLookupsTotal tracks response cache hits and misses
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"result"},
	)

	// RetriesTotal tracks retry attempts by error kind
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_retries_total",
			Help: "Total number of retried transport attempts",
		},
		[]string{"kind"},
	)

	// NetworkOnline is 1 while the network monitor reports online
	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilient_network_online",
			Help: "Whether the network monitor currently reports online",
		},
	)

	// NetworkTransitionsTotal tracks connectivity transitions
	NetworkTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_network_transitions_total",
			Help: "Total number of network state transitions",
		},
		[]string{"to", "reason"},
	)

	// OfflineQueueDepth tracks pending offline actions
	OfflineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilient_offline_queue_depth",
			Help: "Number of offline actions waiting for replay",
		},
	)

	// OfflineReplaysTotal tracks replayed offline actions by result
	OfflineReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_offline_replays_total",
			Help: "Total number of replayed offline actions",
		},
		[]string{"result"},
	)
)
