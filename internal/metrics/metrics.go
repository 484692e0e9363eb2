// Package metrics collects run counters and optionally pushes them to a
// Prometheus Pushgateway at end of run. This is a batch tool, so push is
// the only exposition path; when no gateway is configured the counters only
// feed the build report.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"git.home.luguber.info/inful/isoforge/internal/events"
)

// Metrics owns the run-scoped registry.
type Metrics struct {
	registry *prometheus.Registry

	phases     *prometheus.CounterVec
	recoveries *prometheus.CounterVec
	stuck      prometheus.Counter
	rolledBack prometheus.Counter
	duration   prometheus.Gauge
}

// New builds a registry with all run counters registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.phases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isoforge_phases_total",
		Help: "Build phases by terminal status.",
	}, []string{"status"})
	m.recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isoforge_recovery_attempts_total",
		Help: "Recovery attempts by error kind and outcome.",
	}, []string{"kind", "outcome"})
	m.stuck = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isoforge_stuck_mounts_total",
		Help: "Mount points that resisted every teardown strategy.",
	})
	m.rolledBack = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isoforge_rolled_back_operations_total",
		Help: "Operations undone during rollback.",
	})
	m.duration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isoforge_build_duration_seconds",
		Help: "Wall-clock duration of the run.",
	})

	m.registry.MustRegister(m.phases, m.recoveries, m.stuck, m.rolledBack, m.duration)
	return m
}

// PhaseHandler returns a bus handler counting finished phases.
func (m *Metrics) PhaseHandler() events.Handler {
	return func(e events.Event) error {
		if pf, ok := e.(events.PhaseFinished); ok {
			m.phases.WithLabelValues(pf.Status).Inc()
		}
		return nil
	}
}

// ObserveRecovery counts one recovery attempt.
func (m *Metrics) ObserveRecovery(kind, outcome string) {
	m.recoveries.WithLabelValues(kind, outcome).Inc()
}

// ObserveStuckMounts adds n stuck mount points.
func (m *Metrics) ObserveStuckMounts(n int) {
	m.stuck.Add(float64(n))
}

// ObserveRolledBack adds n undone operations.
func (m *Metrics) ObserveRolledBack(n int) {
	m.rolledBack.Add(float64(n))
}

// ObserveDuration records the run duration in seconds.
func (m *Metrics) ObserveDuration(seconds float64) {
	m.duration.Set(seconds)
}

// Push delivers the registry to the gateway, grouped by run ID.
func (m *Metrics) Push(gatewayURL, runID string) error {
	if err := push.New(gatewayURL, "isoforge_build").
		Gatherer(m.registry).
		Grouping("run_id", runID).
		Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
