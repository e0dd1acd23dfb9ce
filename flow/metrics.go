package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the scheduler's Prometheus instrumentation, all
// namespaced "flowruntime_". Generalized from the teacher's
// graph/metrics.go PrometheusMetrics: node_id labels give way to a
// flowchart_node_type label, step status vocabulary becomes this domain's
// NodeRunStatus strings, and a dispatch_latency_ms histogram is added for
// the C3 boundary the teacher has no equivalent of.
type Metrics struct {
	inflightNodes    prometheus.Gauge
	queueDepth       prometheus.Gauge
	nodeLatency      *prometheus.HistogramVec
	dispatchLatency  *prometheus.HistogramVec
	nodeExecutions   *prometheus.CounterVec
	fanInWaits       *prometheus.CounterVec
	decisionNoMatch  *prometheus.CounterVec
	ragHealthChecks  *prometheus.CounterVec
}

// NewMetrics registers every flowruntime_* metric with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowruntime",
			Name:      "inflight_nodes",
			Help:      "Current number of node-runs executing concurrently",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowruntime",
			Name:      "queue_depth",
			Help:      "Number of admitted node-runs waiting for a worker slot",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowruntime",
			Name:      "node_run_latency_ms",
			Help:      "Node-run duration in milliseconds from handler invocation to completion",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"flowchart_node_type", "status"}),
		dispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowruntime",
			Name:      "dispatch_latency_ms",
			Help:      "Time from job submission to a confirmed/failed/uncertain dispatch state",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 300000},
		}, []string{"dispatch_status"}),
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowruntime",
			Name:      "node_executions_total",
			Help:      "Cumulative node-run completions by node type and terminal status",
		}, []string{"flowchart_node_type", "status"}),
		fanInWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowruntime",
			Name:      "fan_in_admissions_total",
			Help:      "Fan-in gate admissions by configured mode",
		}, []string{"fan_in_mode"}),
		decisionNoMatch: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowruntime",
			Name:      "decision_no_match_total",
			Help:      "Decision node completions that matched no branch, by no_match_policy",
		}, []string{"no_match_policy"}),
		ragHealthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowruntime",
			Name:      "rag_health_checks_total",
			Help:      "RAG backend health probe outcomes",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordNodeLatency(nodeType NodeType, status NodeRunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(string(nodeType), string(status)).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordDispatchLatency(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) IncNodeExecution(nodeType NodeType, status NodeRunStatus) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(string(nodeType), string(status)).Inc()
}

func (m *Metrics) IncFanInAdmission(mode FanInMode) {
	if m == nil {
		return
	}
	m.fanInWaits.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) IncDecisionNoMatch(policy NoMatchPolicy) {
	if m == nil {
		return
	}
	m.decisionNoMatch.WithLabelValues(string(policy)).Inc()
}

func (m *Metrics) IncRAGHealthCheck(state string) {
	if m == nil {
		return
	}
	m.ragHealthChecks.WithLabelValues(state).Inc()
}

func (m *Metrics) UpdateQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) UpdateInflightNodes(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Set(float64(n))
}
