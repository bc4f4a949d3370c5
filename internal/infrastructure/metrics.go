package infrastructure

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/backtesting-org/sitewatch/pkg/websocket/performance"
)

// NewRegistry creates the registry served on /metrics, with the Go runtime
// and process collectors installed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewCollector registers the sync metrics with reg
func NewCollector(reg *prometheus.Registry) (*performance.Collector, error) {
	collector, err := performance.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return collector, nil
}
