package status

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skimmr",
		Name:      "health_checks_total",
		Help:      "Health checks by outcome.",
	}, []string{"outcome"})
	metricBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skimmr",
		Name:      "broadcasts_total",
		Help:      "Status broadcasts published, by topic.",
	}, []string{"topic"})
)

func recordHealthCheck(outcome string) {
	metricHealthChecks.WithLabelValues(outcome).Inc()
}

func recordBroadcast(topic string) {
	metricBroadcasts.WithLabelValues(topic).Inc()
}
