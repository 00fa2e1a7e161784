package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/ajha-96/markdoc/httpapi")

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "httpapi",
		Name:      "requests_total",
		Help:      "REST responses by method and status.",
	},
	[]string{"method", "status"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}
