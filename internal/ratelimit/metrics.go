package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	retryAfterGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_rate_limit_retry_after_seconds",
			Help: "Most recent computed retry-after delay",
		},
	)
	consecutiveGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_rate_limit_consecutive_429",
			Help: "Consecutive 429 responses from the Kumo Cloud API",
		},
	)
	windowGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kumo_rate_limit_window_until_timestamp_seconds",
			Help: "Backoff window deadline as epoch seconds (0 when inactive)",
		},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		retryAfterGauge,
		consecutiveGauge,
		windowGauge,
	}
}
