package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type clientMetrics struct {
	packetsSent      prometheus.Counter
	bytesSent        prometheus.Counter
	messagesReceived prometheus.Counter
	decodeFailures   prometheus.Counter
	connectionState  prometheus.Gauge
	loginAttempts    *prometheus.CounterVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	factory := promauto.With(reg)

	return &clientMetrics{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "client",
			Name:      "packets_sent_total",
			Help:      "Packets handed to the transport.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "client",
			Name:      "bytes_sent_total",
			Help:      "Bytes handed to the transport.",
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "client",
			Name:      "messages_received_total",
			Help:      "Incoming messages dispatched to a handler.",
		}),
		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "client",
			Name:      "decode_failures_total",
			Help:      "Received packets partly discarded because they could not be decoded.",
		}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbengine",
			Subsystem: "client",
			Name:      "connection_state",
			Help:      "Current connection state, 0 is disconnected and 5 is connected to the gameplay tier.",
		}),
		loginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbengine",
			Subsystem: "client",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}
}
