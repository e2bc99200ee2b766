package collision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Update cycle outcome labels.
const (
	CycleProcessed = "processed"
	CycleSkipped   = "skipped" // route data unavailable
	CycleError     = "error"
)

// Collision check result labels.
const (
	CheckConflict = "conflict"
	CheckClear    = "clear"
	CheckError    = "error"
)

var (
	updateCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncvguard",
			Name:      "update_cycles_total",
			Help:      "Perception update cycles handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	observationsRecordedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ncvguard",
			Name:      "observations_recorded_total",
			Help:      "In-lane, ahead-of-host observations added to object histories.",
		},
	)

	observationsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ncvguard",
			Name:      "observations_rejected_total",
			Help:      "Observations dropped for a NaN or infinite position.",
		},
	)

	trackedObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ncvguard",
			Name:      "tracked_objects",
			Help:      "Objects with a live history after the latest update cycle.",
		},
	)

	replansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncvguard",
			Name:      "replans_total",
			Help:      "Replan requests sent to the planner, partitioned by reason.",
		},
		[]string{"reason"},
	)

	collisionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ncvguard",
			Name:      "collision_checks_total",
			Help:      "Candidate trajectory checks, partitioned by result.",
		},
		[]string{"result"},
	)

	evaluationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ncvguard",
			Name:      "evaluation_seconds",
			Help:      "Conflict evaluation latency in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)
)

// RegisterMetrics attaches the checker collectors to the supplied registerer.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		updateCyclesTotal,
		observationsRecordedTotal,
		observationsRejectedTotal,
		trackedObjects,
		replansTotal,
		collisionChecksTotal,
		evaluationSeconds,
		recorderDroppedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func observeCheck(duration time.Duration, conflictFound bool, err error) {
	result := CheckClear
	switch {
	case err != nil:
		result = CheckError
	case conflictFound:
		result = CheckConflict
	}
	collisionChecksTotal.WithLabelValues(result).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationSeconds.Observe(duration.Seconds())
}
