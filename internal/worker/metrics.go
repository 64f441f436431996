package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tospeech/server/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tospeech_jobs_total",
			Help: "Total number of synthesis jobs finished by this worker.",
		},
		[]string{"state"},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tospeech_job_duration_seconds",
			Help:    "Wall-clock duration of synthesis jobs from dequeue to terminal state, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	modelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tospeech_model_load_seconds",
			Help:    "Duration of model loads into the residency slot, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(modelLoadDuration)

	// Pre-initialize terminal state labels so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, state := range []string{
		model.StateCompleted,
		model.StateFailed,
		model.StateCancelled,
		model.StateTimedOut,
	} {
		jobsTotal.WithLabelValues(state)
	}
}
