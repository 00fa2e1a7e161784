package document

import "github.com/prometheus/client_golang/prometheus"

var (
	documentsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "document",
		Name:      "open_actors",
		Help:      "Live document actors.",
	})

	operationsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "document",
		Name:      "operations_applied_total",
		Help:      "Operations applied to documents, labelled by kind.",
	}, []string{"kind"})

	operationsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "document",
		Name:      "operations_rejected_total",
		Help:      "Operations rejected by validation or bounds checks.",
	})

	sessionsJoined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "document",
		Name:      "sessions_joined_total",
		Help:      "Sessions that joined a document.",
	})

	saveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "document",
		Name:      "save_failures_total",
		Help:      "Failed document flushes.",
	})
)

func init() {
	prometheus.MustRegister(
		documentsOpen,
		operationsApplied,
		operationsRejected,
		sessionsJoined,
		saveFailures,
	)
}
