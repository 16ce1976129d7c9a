package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveWrite(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveWrite(3, nil)
	m.ObserveWrite(4, nil)
	m.ObserveWrite(0, errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.writes.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues(ResultFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.documentVersion))
}

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRetry(CauseValidation)
	m.IncHeartbeats()
	m.IncTasksAssigned()
	m.AddConflictsDetected(2)
	m.AddConflictsDetected(0)
	m.AddEscalations(1)
	m.ObserveSyncTick(ResultPanic)
	m.IncIntegrityFailures()
	m.SetSessions(3, 2, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeRetries.WithLabelValues(CauseValidation)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.heartbeats))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksAssigned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflictsDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncTicks.WithLabelValues(ResultPanic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.integrityFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessions.WithLabelValues("active")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveWrite(1, nil)
		m.ObserveRetry(CauseIO)
		m.SetSessions(1, 1, 0)
		m.IncHeartbeats()
		m.IncTasksAssigned()
		m.AddConflictsDetected(1)
		m.AddEscalations(1)
		m.ObserveSyncTick(ResultOK)
		m.IncIntegrityFailures()
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
