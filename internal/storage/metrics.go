package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	loadLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storage",
		Name:      "load_seconds",
		Help:      "Latency for loading document content, by backend.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"backend"})

	saveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storage",
		Name:      "save_seconds",
		Help:      "Latency for saving document content, by backend.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"backend"})

	saveRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storage",
		Name:      "transient_retries_total",
		Help:      "Writes retried after a transient backend failure.",
	}, []string{"backend"})

	tracer = otel.Tracer("github.com/ajha-96/markdoc/storage")
)

func init() {
	prometheus.MustRegister(loadLatency, saveLatency, saveRetries)
}
