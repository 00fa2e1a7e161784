package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "connections",
		Help:      "Active WebSocket connections per document.",
	}, []string{"document"})

	inboundMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "inbound_messages_total",
		Help:      "Frames received from clients, labelled by type.",
	}, []string{"type"})

	sendDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "send_drops_total",
		Help:      "Outbound frames dropped because a session could not keep up.",
	}, []string{"document"})

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "rate_limited_total",
		Help:      "Operations rejected by the per-session rate limiter.",
	})

	once sync.Once
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(connections, inboundMessages, sendDrops, rateLimited)
	})
}

var tracer = otel.Tracer("github.com/ajha-96/markdoc/ws")
