package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quiz_coordinator"

// Metrics holds the Prometheus collectors for the coordinator.
type Metrics struct {
	RoomsActive      prometheus.Gauge
	RoomTransitions  *prometheus.CounterVec
	Answers          *prometheus.CounterVec
	SessionLocks     *prometheus.CounterVec
	VersionConflicts *prometheus.CounterVec
	WSConnections    prometheus.Gauge
}

// New registers the collectors with reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of room workers currently running",
		}),
		RoomTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "room_transitions_total",
				Help:      "Room lifecycle transitions by target status",
			},
			[]string{"status"},
		),
		Answers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_total",
				Help:      "Adjudicated answers by outcome",
			},
			[]string{"outcome"}, // correct, incorrect, timeout, duplicate
		),
		SessionLocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_locks_total",
				Help:      "Session lock acquisition attempts by result",
			},
			[]string{"result"},
		),
		VersionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflicts_total",
				Help:      "Rejected writes due to a stale version",
			},
			[]string{"resource"},
		),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket connections",
		}),
	}
}
