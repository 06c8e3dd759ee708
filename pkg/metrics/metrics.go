package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "provider_requests_total",
			Help:      "Outbound provider calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payment",
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of outbound provider calls",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
			},
		},
		[]string{"provider", "operation"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "callbacks_total",
			Help:      "Provider-pushed callbacks by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(ProviderRequestsTotal, ProviderRequestDuration, CallbacksTotal)
}

func ObserveProviderCall(provider, operation, outcome string, seconds float64) {
	ProviderRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider, operation).Observe(seconds)
}

func IncCallback(result string) {
	CallbacksTotal.WithLabelValues(result).Inc()
}
