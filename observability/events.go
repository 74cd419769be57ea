package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	decoded *prometheus.CounterVec
	invalid *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking decoded contract events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "events",
				Name:      "decoded_total",
				Help:      "Count of arbiter logs decoded segmented by event name.",
			}, []string{"event"}),
			invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "events",
				Name:      "invalid_total",
				Help:      "Count of arbiter logs that failed to decode.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(eventRegistry.decoded, eventRegistry.invalid)
	})
	return eventRegistry
}

// RecordDecoded increments the decoded counter for the supplied event name.
func (m *eventMetrics) RecordDecoded(event string) {
	if m == nil {
		return
	}
	m.decoded.WithLabelValues(normaliseEvent(event)).Inc()
}

// RecordInvalid increments the invalid counter for the supplied event name.
func (m *eventMetrics) RecordInvalid(event string) {
	if m == nil {
		return
	}
	m.invalid.WithLabelValues(normaliseEvent(event)).Inc()
}

func normaliseEvent(event string) string {
	trimmed := strings.TrimSpace(event)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
