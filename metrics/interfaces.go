// Package metrics provides interfaces and implementations for
// Prometheus-compatible metrics.
//
// The repeater is a one-shot CLI, so metrics are pushed to a
// VictoriaMetrics/Prometheus remote write endpoint rather than scraped:
// updates accumulate in memory during the invocation and are written in a
// single batch at the end. When no endpoint is configured, the nop
// registry is used and metric updates are discarded.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauge is a metric that represents a single numerical value that can go
// up and down.
type Gauge interface {
	// Set sets the Gauge to the given value.
	Set(float64)
}

// Counter is a metric that represents a single monotonically increasing
// counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()
	// Add adds the given value to the counter.
	Add(float64)
}

// Registry creates and registers metrics.
//
// Metric updates are buffered in memory; nothing touches the network
// until Flush, so updates are safe on the scheduling path.
type Registry interface {
	// NewGauge creates and registers a new Gauge.
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)

	// NewCounter creates and registers a new Counter.
	NewCounter(opts prometheus.CounterOpts) (Counter, error)

	// Flush writes all buffered samples to the backing endpoint. Called
	// once at the end of an invocation.
	Flush(ctx context.Context) error
}
