// Package metrics exposes the Prometheus instrumentation for the
// pipeline: per-stage duration, pipeline outcome counts, and settlement
// gas usage. Grounded on the teacher's use of
// github.com/prometheus/client_golang for its executor and controller
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide collectors, registered once at startup
// and passed by reference to every component that instruments itself.
type Metrics struct {
	StageDuration     *prometheus.HistogramVec
	PipelineOutcomes  *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	SettlementGasUsed prometheus.Histogram
	SettlementFailures prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "claimledger",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a single stage invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),

		PipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimledger",
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Count of completed pipeline runs by verdict.",
		}, []string{"verdict"}),

		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "claimledger",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a full Evaluate call.",
			Buckets:   prometheus.DefBuckets,
		}),

		SettlementGasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "claimledger",
			Subsystem: "settlement",
			Name:      "gas_used",
			Help:      "Gas used by the final settlement transaction.",
			Buckets:   []float64{21000, 50000, 100000, 200000, 400000},
		}),

		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claimledger",
			Subsystem: "settlement",
			Name:      "failures_total",
			Help:      "Count of settlement attempts that did not complete.",
		}),
	}

	reg.MustRegister(m.StageDuration, m.PipelineOutcomes, m.PipelineDuration, m.SettlementGasUsed, m.SettlementFailures)
	return m
}
