// Package metrics exposes Prometheus collectors for the shared-context
// manager and the session coordinator.
//
// All methods are safe to call on a nil *Metrics, so components can take an
// optional collector set without guarding every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentsync"

// Write outcomes and retry causes used as label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultPanic  = "panic"

	CauseIO         = "io"
	CauseValidation = "validation"
)

// Metrics holds every collector agentsync registers.
type Metrics struct {
	writes            *prometheus.CounterVec
	writeRetries      *prometheus.CounterVec
	documentVersion   prometheus.Gauge
	sessions          *prometheus.GaugeVec
	heartbeats        prometheus.Counter
	tasksAssigned     prometheus.Counter
	conflictsDetected prometheus.Counter
	escalations       prometheus.Counter
	syncTicks         *prometheus.CounterVec
	integrityFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_writes_total",
			Help:      "Document writes by final outcome.",
		}, []string{"result"}),
		writeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_write_retries_total",
			Help:      "Failed write attempts that were retried, by cause.",
		}, []string{"cause"}),
		documentVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "document_version",
			Help:      "Version number of the last document written by this process.",
		}),
		sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Registered sessions by liveness, as of the last statistics call.",
		}, []string{"state"}),
		heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats recorded.",
		}),
		tasksAssigned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_assigned_total",
			Help:      "Tasks assigned to sessions.",
		}),
		conflictsDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_conflicts_detected_total",
			Help:      "Peer changes to shared knowledge observed by the sync loop.",
		}),
		escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_conflicts_escalated_total",
			Help:      "Contradictions recorded in openConflicts.",
		}),
		syncTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_ticks_total",
			Help:      "Sync loop iterations by outcome.",
		}, []string{"result"}),
		integrityFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Integrity validations that found problems.",
		}),
	}
}

// ObserveWrite records the final outcome of a write and, on success, the
// version it produced.
func (m *Metrics) ObserveWrite(version int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.writes.WithLabelValues(ResultFailed).Inc()
		return
	}
	m.writes.WithLabelValues(ResultOK).Inc()
	m.documentVersion.Set(float64(version))
}

// ObserveRetry records one retried write attempt.
func (m *Metrics) ObserveRetry(cause string) {
	if m == nil {
		return
	}
	m.writeRetries.WithLabelValues(cause).Inc()
}

// SetSessions publishes the session gauge values.
func (m *Metrics) SetSessions(total, active, dead int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("total").Set(float64(total))
	m.sessions.WithLabelValues("active").Set(float64(active))
	m.sessions.WithLabelValues("dead").Set(float64(dead))
}

// IncHeartbeats counts a heartbeat.
func (m *Metrics) IncHeartbeats() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

// IncTasksAssigned counts a task assignment.
func (m *Metrics) IncTasksAssigned() {
	if m == nil {
		return
	}
	m.tasksAssigned.Inc()
}

// AddConflictsDetected counts n observed peer changes.
func (m *Metrics) AddConflictsDetected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflictsDetected.Add(float64(n))
}

// AddEscalations counts n escalated contradictions.
func (m *Metrics) AddEscalations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.escalations.Add(float64(n))
}

// ObserveSyncTick records one sync loop iteration.
func (m *Metrics) ObserveSyncTick(result string) {
	if m == nil {
		return
	}
	m.syncTicks.WithLabelValues(result).Inc()
}

// IncIntegrityFailures counts a failed integrity validation.
func (m *Metrics) IncIntegrityFailures() {
	if m == nil {
		return
	}
	m.integrityFailures.Inc()
}
