package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTopicPrefix = "doc:"
	defaultDedupeTTL   = 2 * time.Minute
	defaultQueueSize   = 1024
	maxPublishAttempts = 5
	maxBackoffDelay    = 30 * time.Second
)

type envelope struct {
	ID         string `json:"id"`
	Document   string `json:"document"`
	Origin     string `json:"origin,omitempty"`
	Payload    []byte `json:"payload"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// RedisBroadcaster publishes document events to Redis Pub/Sub and fans them
// back out to locally connected sessions on every instance, including the
// publishing one. Publish never blocks: envelopes go through a bounded queue
// and the oldest is dropped on overflow.
type RedisBroadcaster struct {
	client *redis.Client
	sink   Sink
	logger zerolog.Logger

	topicPrefix string
	dedupeTTL   time.Duration
	queue       chan envelope

	seenMu sync.Mutex
	seen   map[string]time.Time

	latency *prometheus.HistogramVec
}

var _ Broadcaster = (*RedisBroadcaster)(nil)

// RedisOption customizes a RedisBroadcaster.
type RedisOption func(*RedisBroadcaster)

// WithQueueSize bounds the publish queue.
func WithQueueSize(n int) RedisOption {
	return func(b *RedisBroadcaster) {
		if n > 0 {
			b.queue = make(chan envelope, n)
		}
	}
}

// WithDedupeTTL controls how long envelope IDs are remembered for
// duplicate suppression.
func WithDedupeTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBroadcaster) {
		if ttl > 0 {
			b.dedupeTTL = ttl
		}
	}
}

// NewRedisBroadcaster constructs a broadcaster backed by Redis Pub/Sub.
func NewRedisBroadcaster(client *redis.Client, sink Sink, logger zerolog.Logger, opts ...RedisOption) *RedisBroadcaster {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "broadcast",
		Name:      "enqueue_to_send_seconds",
		Help:      "Observed latency between enqueue and delivery to websocket clients.",
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 12),
	}, []string{"document"})

	if err := prometheus.Register(histogram); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram = regErr.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	b := &RedisBroadcaster{
		client:      client,
		sink:        sink,
		logger:      logger.With().Str("component", "broadcast").Logger(),
		topicPrefix: defaultTopicPrefix,
		dedupeTTL:   defaultDedupeTTL,
		queue:       make(chan envelope, defaultQueueSize),
		seen:        make(map[string]time.Time),
		latency:     histogram,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues an event for delivery. When the queue is full the oldest
// envelope is evicted so fresher state wins.
func (b *RedisBroadcaster) Publish(_ context.Context, event Event) {
	if b == nil || b.client == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("document", event.Document).
			Str("type", string(event.Type)).
			Msg("failed to encode event")
		return
	}

	env := envelope{
		ID:         uuid.NewString(),
		Document:   event.Document,
		Origin:     event.Origin,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC().UnixNano(),
	}

	select {
	case b.queue <- env:
		eventsPublished.WithLabelValues(string(event.Type)).Inc()
		return
	default:
	}

	select {
	case dropped := <-b.queue:
		eventsDropped.Inc()
		b.logger.Warn().Str("document", dropped.Document).Msg("publish queue full; dropping oldest event")
	default:
	}

	select {
	case b.queue <- env:
		eventsPublished.WithLabelValues(string(event.Type)).Inc()
	default:
		eventsDropped.Inc()
	}
}

// Start launches the publish drainer and the pub/sub relay.
func (b *RedisBroadcaster) Start(ctx context.Context) {
	go b.publishLoop(ctx)
	go b.run(ctx)
}

func (b *RedisBroadcaster) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.queue:
			b.deliver(ctx, env)
		}
	}
}

func (b *RedisBroadcaster) deliver(ctx context.Context, env envelope) {
	encoded, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("document", env.Document).Msg("failed to encode redis payload")
		return
	}

	topic := b.topic(env.Document)
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := b.client.Publish(ctx, topic, encoded).Err()
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if attempt >= maxPublishAttempts {
			eventsDropped.Inc()
			b.logger.Error().Err(err).Str("topic", topic).Msg("dropping event after repeated publish failures")
			return
		}
		b.logger.Warn().Err(err).Str("topic", topic).Dur("backoff", backoff).Msg("redis publish failed; retrying")
		select {
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		case <-ctx.Done():
			return
		}
	}
}

func (b *RedisBroadcaster) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.PSubscribe(ctx, fmt.Sprintf("%s*", b.topicPrefix))
		if err := b.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn().Err(err).Dur("backoff", backoff).Msg("redis subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		}
	}
}

func (b *RedisBroadcaster) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := b.process(msg); err != nil {
				b.logger.Warn().Err(err).Msg("failed to process broadcast message")
			}
		}
	}
}

func (b *RedisBroadcaster) process(msg *redis.Message) error {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if env.ID == "" || env.Document == "" {
		return errors.New("incomplete payload")
	}

	if b.isDuplicate(env.ID) {
		return nil
	}

	var latencySeconds float64
	if env.EnqueuedAt > 0 {
		latencySeconds = float64(time.Since(time.Unix(0, env.EnqueuedAt))) / float64(time.Second)
	}
	b.latency.WithLabelValues(env.Document).Observe(latencySeconds)

	b.sink.Deliver(env.Document, env.Payload, env.Origin)
	return nil
}

func (b *RedisBroadcaster) topic(documentID string) string {
	return fmt.Sprintf("%s%s", b.topicPrefix, documentID)
}

func (b *RedisBroadcaster) isDuplicate(id string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if ts, ok := b.seen[id]; ok {
		if time.Since(ts) < b.dedupeTTL {
			return true
		}
	}

	b.seen[id] = time.Now()
	cutoff := time.Now().Add(-b.dedupeTTL)
	for k, ts := range b.seen {
		if ts.Before(cutoff) {
			delete(b.seen, k)
		}
	}
	return false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
