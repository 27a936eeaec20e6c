package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dispatchMetrics struct {
	fired    *prometheus.CounterVec
	deferred prometheus.Counter
	panics   *prometheus.CounterVec
}

func newDispatchMetrics(reg prometheus.Registerer) *dispatchMetrics {
	factory := promauto.With(reg)

	return &dispatchMetrics{
		fired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "events",
			Name:      "fired_total",
			Help:      "Events fired, by kind.",
		}, []string{"kind"}),
		deferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "events",
			Name:      "deferred_total",
			Help:      "Subscriber invocations queued while dispatch was paused.",
		}),
		panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "events",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked, by kind.",
		}, []string{"kind"}),
	}
}
