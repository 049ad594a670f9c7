// Package telemetry declares the process's Prometheus gauges,
// grounded on the pack's client_golang metric declarations:
// package-level vars built once, registered together at startup, and
// refreshed by the status-telemetry scheduler tick every 5 seconds.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var QueueDepthHigh = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "queue",
	Name:      "high_priority_depth",
	Help:      "Number of High-priority entries currently queued.",
})

var QueueDepthLow = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "queue",
	Name:      "low_priority_depth",
	Help:      "Number of Low-priority entries currently queued.",
})

var QueueInProcessing = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "queue",
	Name:      "in_processing",
	Help:      "Number of entries popped but not yet freed by a worker.",
})

var ActiveProcessors = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "processors",
	Name:      "active",
	Help:      "Number of live entries in the active processor map.",
})

var ProcessorsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "processors",
	Name:      "by_status",
	Help:      "Number of live processors in each status.",
}, []string{"status"})

var EmailsProcessedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "emails",
	Name:      "processed_total",
	Help:      "Sum of ProcessedCount across every live processor.",
})

var RateLimiterBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "ratelimit",
	Name:      "bucket_tokens",
	Help:      "Current token balance of a leaky bucket.",
}, []string{"bucket"})

var RateLimiterBackoffActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "mailclerk",
	Subsystem: "ratelimit",
	Name:      "backoff_active",
	Help:      "1 when a bucket's back-off window is currently active, else 0.",
}, []string{"bucket"})

// All returns every collector this package declares, for registration
// with a single prometheus.Registry at startup.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		QueueDepthHigh,
		QueueDepthLow,
		QueueInProcessing,
		ActiveProcessors,
		ProcessorsByStatus,
		EmailsProcessedTotal,
		RateLimiterBalance,
		RateLimiterBackoffActive,
	}
}
