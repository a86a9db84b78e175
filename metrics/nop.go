package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// NopRegistry implements Registry with metrics that discard all updates.
// It is used when no monitoring endpoint is configured.
type NopRegistry struct{}

// NewNopRegistry creates a registry whose metrics do nothing.
func NewNopRegistry() *NopRegistry {
	return &NopRegistry{}
}

func (*NopRegistry) NewGauge(prometheus.GaugeOpts) (Gauge, error) {
	return nopGauge{}, nil
}

func (*NopRegistry) NewCounter(prometheus.CounterOpts) (Counter, error) {
	return nopCounter{}, nil
}

func (*NopRegistry) Flush(context.Context) error { return nil }

type nopGauge struct{}

func (nopGauge) Set(float64) {}

type nopCounter struct{}

func (nopCounter) Inc()        {}
func (nopCounter) Add(float64) {}
