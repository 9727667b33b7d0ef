// Package metrics exposes engine counters for job and run lifecycle events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stagerunner/internal/dag"
)

// Metrics holds the engine's prometheus collectors. It implements
// dag.Observer so the executor can report lifecycle events without knowing
// about prometheus.
type Metrics struct {
	JobsStarted  prometheus.Counter
	JobsFinished *prometheus.CounterVec
	RunsTotal    *prometheus.CounterVec
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stagerunner_jobs_started_total",
			Help: "Job instances dispatched to the step executor.",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagerunner_jobs_finished_total",
			Help: "Job instances by terminal state.",
		}, []string{"state"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagerunner_runs_total",
			Help: "Completed runs by overall status.",
		}, []string{"status"}),
	}
}

// JobStarted implements dag.Observer.
func (m *Metrics) JobStarted(stage, job string) {
	m.JobsStarted.Inc()
}

// JobFinished implements dag.Observer.
func (m *Metrics) JobFinished(stage, job string, state dag.JobState) {
	m.JobsFinished.WithLabelValues(string(state)).Inc()
}

// RunFinished records the overall outcome of one run.
func (m *Metrics) RunFinished(status dag.RunStatus) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
}
