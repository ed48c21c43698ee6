package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	sessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termrun",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Number of sessions created.",
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "termrun",
			Subsystem: "session",
			Name:      "status_transitions_total",
			Help:      "Number of session status transitions.",
		}, []string{"from", "to"},
	)
	runningSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "termrun",
			Subsystem: "session",
			Name:      "running",
			Help:      "Sessions currently in RUNNING or PAUSED status.",
		},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "termrun",
			Subsystem: "session",
			Name:      "spawn_failures_total",
			Help:      "Number of sessions that failed to spawn a process.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionsCreated, sessionTransitions, runningSessions, spawnFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

func IncCreated() { sessionsCreated.Inc() }

func IncTransition(from, to string) {
	sessionTransitions.WithLabelValues(from, to).Inc()
}

func IncSpawnFailure() { spawnFailures.Inc() }

func AddRunning(delta float64) { runningSessions.Add(delta) }
