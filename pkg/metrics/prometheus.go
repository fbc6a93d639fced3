package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	outcomes           *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	latency            *prometheus.HistogramVec
	attestationVersion prometheus.Gauge
}

// New registers the relay metrics on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "teerelay",
				Name:      "operations_total",
				Help:      "Relay operations by outcome code (OK on success)",
			},
			[]string{"operation", "code"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "teerelay",
				Name:      "errors_total",
				Help:      "Internal errors that did not map to a request outcome",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "teerelay",
				Name:      "operation_duration_seconds",
				Help:      "Duration of relay operations",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		attestationVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "teerelay",
			Name:      "attestation_version",
			Help:      "Version of the active PCR attestation record",
		}),
	}
}

func (r *Recorder) RecordOutcome(op, code string) {
	r.outcomes.WithLabelValues(op, code).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetAttestationVersion(v uint64) {
	r.attestationVersion.Set(float64(v))
}

// Nop satisfies repository.Metrics and records nothing.
type Nop struct{}

func (Nop) RecordOutcome(string, string)  {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) SetAttestationVersion(uint64)  {}
