// Package metrics exposes the Prometheus instrumentation for the scheduler.
//
// A nil *Set is valid and turns every observation into a no-op, so callers
// never have to guard instrumentation sites.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Set struct {
	registry *prometheus.Registry

	ticks       prometheus.Counter
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	tasksTotal   prometheus.Gauge
	tasksEnabled prometheus.Gauge
	tasksRunning prometheus.Gauge
}

func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paperbase",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Completed scheduler poll ticks.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperbase",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Task executions by task and outcome.",
		}, []string{"task", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paperbase",
			Subsystem: "scheduler",
			Name:      "task_run_duration_seconds",
			Help:      "Wall-clock duration of task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"task"}),
		tasksTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paperbase",
			Subsystem: "scheduler",
			Name:      "tasks",
			Help:      "Registered tasks.",
		}),
		tasksEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paperbase",
			Subsystem: "scheduler",
			Name:      "tasks_enabled",
			Help:      "Registered tasks currently enabled.",
		}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paperbase",
			Subsystem: "scheduler",
			Name:      "tasks_running",
			Help:      "Tasks with a run in flight.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.ticks, s.runs, s.runDuration,
		s.tasksTotal, s.tasksEnabled, s.tasksRunning,
	)
	return s
}

func (s *Set) ObserveTick() {
	if s == nil {
		return
	}
	s.ticks.Inc()
}

func (s *Set) ObserveRun(task, status string, d time.Duration) {
	if s == nil {
		return
	}
	s.runs.WithLabelValues(task, status).Inc()
	if status != "skipped" {
		s.runDuration.WithLabelValues(task).Observe(d.Seconds())
	}
}

func (s *Set) SetTaskCounts(total, enabled, running int) {
	if s == nil {
		return
	}
	s.tasksTotal.Set(float64(total))
	s.tasksEnabled.Set(float64(enabled))
	s.tasksRunning.Set(float64(running))
}

// Handler serves the /metrics endpoint for this Set's registry.
func (s *Set) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
