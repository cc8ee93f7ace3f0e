// Package metrics holds the runner's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgerunner_sessions_total",
			Help: "Judge sessions by language and final state",
		},
		[]string{"language", "state"},
	)

	SessionRuntime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgerunner_session_runtime_seconds",
			Help:    "Wall time of judge sessions",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"language"},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgerunner_phase_duration_seconds",
			Help:    "Time charged to each phase per session",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"language", "phase"}, // phase: "compile", "run", "judge"
	)

	CandidateRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgerunner_candidate_runs_total",
			Help: "Candidate executions requested by judge drivers",
		},
		[]string{"language", "outcome"},
	)

	InstallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgerunner_toolchain_installs_total",
			Help: "Installer invocations by plugin, step and result",
		},
		[]string{"plugin", "step", "result"},
	)

	InstallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgerunner_toolchain_install_seconds",
			Help:    "Installer invocation duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"plugin", "step"},
	)

	PermitsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "judgerunner_permits_in_use",
			Help: "Sandbox execution permits currently held",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judgerunner_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
