// Package metrics holds the relay endpoint collectors the handlers observe directly.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	EndpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "teerelay",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of relay endpoints",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	EndpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teerelay",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by relay endpoint and code",
		},
		[]string{"endpoint", "code"},
	)

	FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "teerelay",
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected event feed clients",
		},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(EndpointLatency, EndpointErrors, FeedClients)
	})
}
