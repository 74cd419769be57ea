package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	daemonMetricsOnce sync.Once
	daemonRegistry    *DaemonMetrics
)

// OracleMetrics bundles collectors for the arbitration engine.
type OracleMetrics struct {
	decisions          *prometheus.CounterVec
	skipped            *prometheus.CounterVec
	submissionFailures prometheus.Counter
	runDuration        *prometheus.HistogramVec
	listenEvents       prometheus.Counter
}

// Oracle returns the lazily-initialised metrics registry for arbitration runs.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "oracle",
				Name:      "decisions_total",
				Help:      "Decisions produced segmented by run phase and outcome.",
			}, []string{"phase", "decision"}),
			skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "oracle",
				Name:      "skipped_total",
				Help:      "Arbitration requests left undecided segmented by reason.",
			}, []string{"reason"}),
			submissionFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "oracle",
				Name:      "submission_failures_total",
				Help:      "Arbitrate transactions the node did not accept.",
			}),
			runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "alkahest",
				Subsystem: "oracle",
				Name:      "run_duration_seconds",
				Help:      "Wall time of arbitration runs segmented by mode.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			}, []string{"mode"}),
			listenEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "oracle",
				Name:      "listen_events_total",
				Help:      "Arbitration requests received from the live subscription.",
			}),
		}
		prometheus.MustRegister(
			oracleRegistry.decisions,
			oracleRegistry.skipped,
			oracleRegistry.submissionFailures,
			oracleRegistry.runDuration,
			oracleRegistry.listenEvents,
		)
	})
	return oracleRegistry
}

// RecordDecision increments the decision counter.
func (m *OracleMetrics) RecordDecision(phase string, decision bool) {
	if m == nil {
		return
	}
	if phase = strings.TrimSpace(phase); phase == "" {
		phase = "unknown"
	}
	m.decisions.WithLabelValues(phase, strconv.FormatBool(decision)).Inc()
}

// RecordSkip increments the skip counter for reason.
func (m *OracleMetrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.skipped.WithLabelValues(reason).Inc()
}

// RecordSubmissionFailure increments the failed submission counter.
func (m *OracleMetrics) RecordSubmissionFailure() {
	if m == nil {
		return
	}
	m.submissionFailures.Inc()
}

// RecordListenEvent counts a request received while listening.
func (m *OracleMetrics) RecordListenEvent() {
	if m == nil {
		return
	}
	m.listenEvents.Inc()
}

// ObserveRun records the duration of a completed run.
func (m *OracleMetrics) ObserveRun(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	seconds := elapsed.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.runDuration.WithLabelValues(mode).Observe(seconds)
}

// DecisionCount exposes the decision counter for assertions in tests.
func (m *OracleMetrics) DecisionCount(phase string, decision bool) prometheus.Counter {
	return m.decisions.WithLabelValues(phase, strconv.FormatBool(decision))
}

// SkipCount exposes the skip counter for assertions in tests.
func (m *OracleMetrics) SkipCount(reason string) prometheus.Counter {
	return m.skipped.WithLabelValues(reason)
}

// SubmissionFailures exposes the failed submission counter.
func (m *OracleMetrics) SubmissionFailures() prometheus.Counter {
	return m.submissionFailures
}

// DaemonMetrics tracks the long-running oracle daemon.
type DaemonMetrics struct {
	restarts   prometheus.Counter
	checkpoint prometheus.Gauge
	lastRun    prometheus.Gauge
}

// Daemon returns the metrics registry for oracled.
func Daemon() *DaemonMetrics {
	daemonMetricsOnce.Do(func() {
		daemonRegistry = &DaemonMetrics{
			restarts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "alkahest",
				Subsystem: "oracled",
				Name:      "restarts_total",
				Help:      "Arbitration loop restarts after a fatal run error.",
			}),
			checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "alkahest",
				Subsystem: "oracled",
				Name:      "checkpoint_block",
				Help:      "Highest block whose arbitration requests have been processed.",
			}),
			lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "alkahest",
				Subsystem: "oracled",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix timestamp of the last completed arbitration run.",
			}),
		}
		prometheus.MustRegister(daemonRegistry.restarts, daemonRegistry.checkpoint, daemonRegistry.lastRun)
	})
	return daemonRegistry
}

// RecordRestart increments the restart counter.
func (m *DaemonMetrics) RecordRestart() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

// SetCheckpoint publishes the persisted checkpoint block.
func (m *DaemonMetrics) SetCheckpoint(block uint64) {
	if m == nil {
		return
	}
	m.checkpoint.Set(float64(block))
}

// MarkRun records the completion time of a run.
func (m *DaemonMetrics) MarkRun(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}

// Restarts exposes the restart counter for tests.
func (m *DaemonMetrics) Restarts() prometheus.Counter {
	return m.restarts
}
