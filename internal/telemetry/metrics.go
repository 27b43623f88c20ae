package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rollout"

var (
	// RunsTotal — завершённые run по финальному статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished deployment runs by final status.",
	}, []string{"status"})

	// RunsActive — run, которые сейчас выполняются.
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_active",
		Help:      "Deployment runs currently in progress.",
	})

	// StepInvocationsTotal — вызовы шагов по типу и результату.
	StepInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_invocations_total",
		Help:      "Step invocations by step type and status.",
	}, []string{"type", "status"})

	// StepDuration — длительность одного вызова шага.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of a single step invocation.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"type"})

	// LogLinesTotal — строки, добавленные в логи run.
	LogLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_lines_total",
		Help:      "Log lines appended to deployment runs.",
	})

	// HTTPRequestsTotal — HTTP-запросы к API.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP API requests by method and status code.",
	}, []string{"method", "status"})

	// SchedulesFiredTotal — срабатывания расписаний.
	SchedulesFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedules_fired_total",
		Help:      "Schedule firings by outcome.",
	}, []string{"outcome"})
)
