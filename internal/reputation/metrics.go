package reputation

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ActivitiesTotal counts committed activities by type.
	ActivitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repscore",
			Name:      "activities_recorded_total",
			Help:      "Total activities recorded by activity type.",
		},
		[]string{"type"},
	)

	// ClampedTotal counts activities whose impact was partly or fully absorbed
	// by the score bounds.
	ClampedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repscore",
			Name:      "score_clamped_total",
			Help:      "Activities whose score change was clamped, by bound.",
		},
		[]string{"bound"},
	)

	// AssessmentsTotal counts risk assessments by combined risk level.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repscore",
			Name:      "risk_assessments_total",
			Help:      "Total risk assessments by risk level.",
		},
		[]string{"level"},
	)

	// RegistrationsTotal counts successful registrations.
	RegistrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repscore",
			Name:      "registrations_total",
			Help:      "Total user registrations.",
		},
	)

	// EngineOpDuration observes engine operation latency by op.
	EngineOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repscore",
			Name:      "engine_operation_duration_seconds",
			Help:      "Engine operation duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		ActivitiesTotal,
		ClampedTotal,
		AssessmentsTotal,
		RegistrationsTotal,
		EngineOpDuration,
	)
}

// observeOp returns a function that records the duration of op with the
// outcome derived from the error it is given.
func observeOp(op Operation) func(err error) {
	start := time.Now()
	return func(err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		EngineOpDuration.WithLabelValues(string(op), result).Observe(time.Since(start).Seconds())
	}
}

func riskLevelLabel(level uint64) string {
	if level > 10 {
		return "10+"
	}
	return strconv.FormatUint(level, 10)
}
