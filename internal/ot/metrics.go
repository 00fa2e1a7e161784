package ot

import "github.com/prometheus/client_golang/prometheus"

var (
	transformsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ot",
		Name:      "transforms_total",
		Help:      "Operation transforms computed, labelled by the kinds involved.",
	}, []string{"kind", "against"})

	boundsRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ot",
		Name:      "bounds_rejections_total",
		Help:      "Operations rejected because their range fell outside the content.",
	})
)

func init() {
	prometheus.MustRegister(transformsTotal, boundsRejections)
}
