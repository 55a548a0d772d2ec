package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lodestone", Name: "messages_total", Help: "Number of consumed messages by queue and outcome."},
		[]string{"queue", "outcome"},
	)
	MessageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "lodestone", Name: "message_duration_seconds", Help: "Time spent handling a message, including retry delays.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
		[]string{"queue"},
	)
	BrokerReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lodestone", Name: "broker_reconnects_total", Help: "Number of broker connection attempts after a failure."},
		[]string{"queue"},
	)
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "lodestone", Name: "publish_total", Help: "Number of published messages by routing key and outcome."},
		[]string{"routing_key", "outcome"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(MessagesTotal)
	reg.MustRegister(MessageDuration)
	reg.MustRegister(BrokerReconnects)
	reg.MustRegister(PublishTotal)
}
