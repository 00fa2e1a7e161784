package broadcast

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// LocalBroadcaster fans events straight to the in-process sink. It is the
// single-node default when no Redis address is configured.
type LocalBroadcaster struct {
	sink   Sink
	logger zerolog.Logger
}

var _ Broadcaster = (*LocalBroadcaster)(nil)

func NewLocalBroadcaster(sink Sink, logger zerolog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		sink:   sink,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

func (b *LocalBroadcaster) Publish(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("document", event.Document).
			Str("type", string(event.Type)).
			Msg("failed to encode event")
		return
	}
	eventsPublished.WithLabelValues(string(event.Type)).Inc()
	b.sink.Deliver(event.Document, payload, event.Origin)
}
