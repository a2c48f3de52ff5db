package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StepSchema   = "schema"
	StepGenerate = "generate"
	StepExecute  = "execute"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_pipeline_files_total",
			Help: "Total number of database files processed by final stage.",
		},
		[]string{"stage"},
	)
	pipelineStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_pipeline_steps_total",
			Help: "Total number of pipeline steps by step and status.",
		},
		[]string{"step", "status"},
	)
	generationLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_generation_latency_ms",
			Help:    "Latency of the external query generation call in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_execution_latency_ms",
			Help:    "Latency of generated query execution in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_result_rows",
			Help:    "Number of rows returned per executed query.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		},
	)
	runsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_runs_in_flight",
			Help: "Current number of pipeline submissions being processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		pipelineStepsTotal,
		generationLatencyMs,
		executionLatencyMs,
		resultRows,
		runsInFlight,
	)
}

func ObserveStep(step string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pipelineStepsTotal.WithLabelValues(step, status).Inc()
	switch step {
	case StepGenerate:
		generationLatencyMs.Observe(float64(elapsed.Milliseconds()))
	case StepExecute:
		executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
	}
}

func ObserveFileOutcome(stage string, rows int) {
	pipelineRunsTotal.WithLabelValues(stage).Inc()
	if rows >= 0 {
		resultRows.Observe(float64(rows))
	}
}

func RunStarted() {
	runsInFlight.Inc()
}

func RunFinished() {
	runsInFlight.Dec()
}
