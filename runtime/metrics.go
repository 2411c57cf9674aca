package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for turn processing.
//
// Exposed metrics (namespace "soni"):
//
//	turns_total (counter)            — processed turns, by status.
//	turn_latency_ms (histogram)      — end-to-end turn duration, by status.
//	commands_total (counter)         — NLU commands dispatched, by type.
//	nlu_failures_total (counter)     — failed NLU interpretations.
//	pending_tasks_total (counter)    — suspensions, by task kind.
//	flow_stack_depth (histogram)     — stack depth observed after each turn.
//
// Optional: a nil *Metrics disables collection entirely.
type Metrics struct {
	turns        *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	commands     *prometheus.CounterVec
	nluFailures  prometheus.Counter
	pendingTasks *prometheus.CounterVec
	stackDepth   prometheus.Histogram
}

// NewMetrics creates and registers the runtime metrics with the given
// registry. Pass prometheus.DefaultRegisterer for the global registry, or a
// private registry for isolation:
//
//	registry := prometheus.NewRegistry()
//	metrics := runtime.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soni",
			Name:      "turns_total",
			Help:      "Processed conversation turns by status.",
		}, []string{"status"}),
		turnLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soni",
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn processing latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"status"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soni",
			Name:      "commands_total",
			Help:      "NLU commands dispatched by type.",
		}, []string{"type"}),
		nluFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "soni",
			Name:      "nlu_failures_total",
			Help:      "NLU interpretations that failed and fell back.",
		}),
		pendingTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soni",
			Name:      "pending_tasks_total",
			Help:      "Turn suspensions by pending task kind.",
		}, []string{"kind"}),
		stackDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "soni",
			Name:      "flow_stack_depth",
			Help:      "Flow stack depth observed at turn end.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
	}
}

// RecordTurn observes one completed turn.
func (m *Metrics) RecordTurn(duration time.Duration, status string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status).Inc()
	m.turnLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordCommand counts one dispatched command.
func (m *Metrics) RecordCommand(commandType string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandType).Inc()
}

// RecordNLUFailure counts one failed interpretation.
func (m *Metrics) RecordNLUFailure() {
	if m == nil {
		return
	}
	m.nluFailures.Inc()
}

// RecordPendingTask counts one suspension.
func (m *Metrics) RecordPendingTask(kind string) {
	if m == nil {
		return
	}
	m.pendingTasks.WithLabelValues(kind).Inc()
}

// RecordStackDepth observes the stack depth at turn end.
func (m *Metrics) RecordStackDepth(depth int) {
	if m == nil {
		return
	}
	m.stackDepth.Observe(float64(depth))
}
