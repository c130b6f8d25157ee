// Package metrics exposes Prometheus counters and gauges for the
// scheduler and workflow runner, registered on the daemon's existing
// Unix-socket API server under GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the daemon's metrics in their own registry rather than
// the global default, so multiple daemons in the same test process never
// collide on metric registration.
type Registry struct {
	registry *prometheus.Registry

	WorkflowsStarted   *prometheus.CounterVec
	WorkflowsCompleted *prometheus.CounterVec
	StepsExecuted      *prometheus.CounterVec
	AgentsRunning      prometheus.Gauge
}

// New creates a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		registry: reg,
		WorkflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coven_workflows_started_total",
			Help: "Total number of workflow runs started by the scheduler.",
		}, nil),
		WorkflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coven_workflows_completed_total",
			Help: "Total number of workflow runs that reached a terminal status.",
		}, []string{"status"}),
		StepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coven_steps_executed_total",
			Help: "Total number of workflow steps executed, by step type and resulting action.",
		}, []string{"type", "action"}),
		AgentsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coven_agents_running",
			Help: "Number of agent processes currently running.",
		}),
	}

	reg.MustRegister(
		m.WorkflowsStarted,
		m.WorkflowsCompleted,
		m.StepsExecuted,
		m.AgentsRunning,
	)

	return m
}

// Handler returns the HTTP handler that serves the Prometheus exposition
// format for this registry.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
