package archive

import "github.com/prometheus/client_golang/prometheus"

var (
	archivesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archive",
		Name:      "uploads_total",
		Help:      "Markdown archives written to object storage.",
	})
	archiveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "archive",
		Name:      "failures_total",
		Help:      "Archive sweeps that failed for a document.",
	})
)

func init() {
	prometheus.MustRegister(archivesUploaded, archiveFailures)
}
