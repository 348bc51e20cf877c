// Package metrics registers the daemon's Prometheus collectors.
// Not named as a tracee component, but ambient observability
// infrastructure every long-running daemon in this corpus ships
// (grounded on infrastructure/metrics in the retrieval pack's service
// daemon).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the daemon exposes.
type Metrics struct {
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	CommandErrorsTotal *prometheus.CounterVec

	SessionsActive prometheus.Gauge

	RegQueueDepth     prometheus.Gauge
	RegDroppedTotal   prometheus.Counter
	RegRollbacksTotal prometheus.Counter

	NotifierBucketsInUse prometheus.Gauge
	NotifierBucketsTotal prometheus.Gauge
	TriggersRegistered   prometheus.Gauge

	RotationsTotal    *prometheus.CounterVec
	RotationsInFlight prometheus.Gauge

	WorkerJoinSeconds *prometheus.HistogramVec
}

// New creates a Metrics instance registered against the default
// Prometheus registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against reg,
// useful for isolated tests that don't want to pollute the default
// registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_commands_total",
			Help: "Total client commands processed by the command engine, by command name.",
		}, []string{"command"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiond_command_duration_seconds",
			Help:    "Command engine latency by command name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		CommandErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_command_errors_total",
			Help: "Command engine errors by command name and error kind.",
		}, []string{"command", "kind"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_sessions_active",
			Help: "Number of discoverable (non-destroyed) sessions.",
		}),
		RegQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_app_registration_queue_depth",
			Help: "Pending entries in the application registration queue.",
		}),
		RegDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_app_registration_dropped_total",
			Help: "Application registrations dropped by the rate limiter or because the queue was full.",
		}),
		RegRollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessiond_app_registration_rollbacks_total",
			Help: "Application registrations rolled back (failed manage-apps handoff or duplicate key).",
		}),
		NotifierBucketsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_event_notifier_buckets_in_use",
			Help: "Error-counter bucket indices currently allocated.",
		}),
		NotifierBucketsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_event_notifier_buckets_total",
			Help: "Total error-counter bucket indices configured.",
		}),
		TriggersRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_triggers_registered",
			Help: "Triggers currently registered with the notification subsystem.",
		}),
		RotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_rotations_total",
			Help: "Completed rotation jobs by outcome.",
		}, []string{"outcome"}),
		RotationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessiond_rotations_in_flight",
			Help: "Rotation jobs currently in flight across all sessions.",
		}),
		WorkerJoinSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiond_worker_join_seconds",
			Help:    "Time spent joining each supervisor worker or running each teardown step during shutdown.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
	}

	reg.MustRegister(
		m.CommandsTotal, m.CommandDuration, m.CommandErrorsTotal,
		m.SessionsActive,
		m.RegQueueDepth, m.RegDroppedTotal, m.RegRollbacksTotal,
		m.NotifierBucketsInUse, m.NotifierBucketsTotal, m.TriggersRegistered,
		m.RotationsTotal, m.RotationsInFlight,
		m.WorkerJoinSeconds,
	)
	return m
}
