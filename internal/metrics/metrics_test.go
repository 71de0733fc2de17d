package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveMutation("connect", "rejected", time.Now())
	m.ObserveMutation("connect", "rejected", time.Now())
	m.ObserveMutation("connect", "ok", time.Now())
	m.IncrementViolation("CompositionCycle", "incremental")
	m.IncrementContentionTimeout()
	m.ObserveOracleLookup(true)
	m.ObserveOracleLookup(false)
	m.ObserveOracleLookup(false)
	m.IncrementTransmission("AE")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Mutations.WithLabelValues("connect", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("connect", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Violations.WithLabelValues("CompositionCycle", "incremental")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContentionTimeouts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OracleLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transmissions.WithLabelValues("AE")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMutation("create_act", "ok", time.Now())
		m.IncrementViolation("SelfLoop", "batch")
		m.IncrementContentionTimeout()
		m.ObserveAudit(time.Now())
		m.ObserveOracleLookup(true)
		m.IncrementTransmission("AA")
	})
}
