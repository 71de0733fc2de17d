package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks engine mutations, violations and audits.
type Metrics struct {
	Mutations          *prometheus.CounterVec
	MutationDuration   *prometheus.HistogramVec
	Violations         *prometheus.CounterVec
	ContentionTimeouts prometheus.Counter
	AuditDuration      prometheus.Histogram
	OracleLookups      *prometheus.CounterVec
	Transmissions      *prometheus.CounterVec
}

// New registers every engine metric on reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actgraph_mutations_total",
			Help: "Engine mutations by operation and outcome",
		}, []string{"op", "outcome"}),
		MutationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "actgraph_mutation_duration_seconds",
			Help:    "Duration of engine mutations including lock wait and validation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actgraph_violations_total",
			Help: "Integrity violations reported by kind and validation mode",
		}, []string{"kind", "mode"}),
		ContentionTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "actgraph_contention_timeouts_total",
			Help: "Mutations abandoned because an act latch could not be acquired in time",
		}),
		AuditDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "actgraph_audit_duration_seconds",
			Help:    "Duration of whole-graph audits",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		OracleLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actgraph_terminology_lookups_total",
			Help: "Terminology oracle lookups by cache result",
		}, []string{"cache"}),
		Transmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "actgraph_transmissions_total",
			Help: "Ingested transmissions by acknowledgement code",
		}, []string{"ack"}),
	}
}

// ObserveMutation records the outcome and duration of one mutation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMutation(op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, outcome).Inc()
	m.MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementViolation(kind, mode string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(kind, mode).Inc()
}

func (m *Metrics) IncrementContentionTimeout() {
	if m == nil {
		return
	}
	m.ContentionTimeouts.Inc()
}

// ObserveAudit records the duration of a batch audit.
func (m *Metrics) ObserveAudit(start time.Time) {
	if m == nil {
		return
	}
	m.AuditDuration.Observe(time.Since(start).Seconds())
}

// ObserveOracleLookup matches terminology.WithObserver.
func (m *Metrics) ObserveOracleLookup(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.OracleLookups.WithLabelValues(label).Inc()
}

func (m *Metrics) IncrementTransmission(ack string) {
	if m == nil {
		return
	}
	m.Transmissions.WithLabelValues(ack).Inc()
}
