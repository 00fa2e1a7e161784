package broadcast

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broadcast",
		Name:      "events_published_total",
		Help:      "Events handed to the broadcaster, labelled by event type.",
	}, []string{"type"})

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "broadcast",
		Name:      "events_dropped_total",
		Help:      "Events dropped on queue overflow or repeated publish failure.",
	})
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped)
}
