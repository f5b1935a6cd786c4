package persistence

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records persister outcomes as Prometheus collectors. A nil
// *Metrics records nothing.
type Metrics struct {
	mutations *prometheus.CounterVec
	errors    *prometheus.CounterVec
	deleted   prometheus.Counter
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persister",
			Name:      "mutations_total",
			Help:      "Persister calls by operation and resulting state.",
		}, []string{"op", "state"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persister",
			Name:      "errors_total",
			Help:      "Failed persister calls by operation and error kind.",
		}, []string{"op", "kind"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persister",
			Name:      "deleted_nodes_total",
			Help:      "Nodes removed by delete cascades.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persister",
			Name:      "duration_seconds",
			Help:      "Persister call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.mutations, m.errors, m.deleted, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ErrorKind names the class of a persistence error for metric labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrIDCollision):
		return "id_collision"
	case errors.Is(err, ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	}
	return "other"
}

func (m *Metrics) observe(op string, start time.Time, state MutationState, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(op, ErrorKind(err)).Inc()
		return
	}
	m.mutations.WithLabelValues(op, state.String()).Inc()
}

func (m *Metrics) observeDelete(start time.Time, n int, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues("delete", ErrorKind(err)).Inc()
		return
	}
	m.deleted.Add(float64(n))
}
