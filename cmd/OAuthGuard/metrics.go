package main

import (
	"OAuthGuard/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// newMetrics registers collectors on the default registry served at /metrics.
func newMetrics() metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}
