package oracled

import "alkahest/observability"

// Metrics exposes the Prometheus collectors owned by the daemon loop.
type Metrics = observability.DaemonMetrics

// NewMetrics returns the lazily initialised daemon registry.
func NewMetrics() *Metrics { return observability.Daemon() }
