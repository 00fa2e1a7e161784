package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajha-96/markdoc/internal/ot"
)

type latencySample struct {
	dur time.Duration
}

// inboundFrame covers every server frame the tool cares about; Type selects
// which fields are set.
type inboundFrame struct {
	Type      string        `json:"type"`
	Content   string        `json:"content"`
	Version   int64         `json:"version"`
	Origin    string        `json:"origin"`
	Operation *ot.Operation `json:"operation"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
}

type outboundFrame struct {
	Type      string        `json:"type"`
	Operation *ot.Operation `json:"operation,omitempty"`
}

var applyFailures atomic.Int64

func main() {
	addr := flag.String("addr", "ws://localhost:8080", "server base address")
	document := flag.String("document", "doc-loadtest", "document id used by all clients")
	clients := flag.Int("clients", 50, "number of concurrent websocket clients")
	writers := flag.Int("writers", 2, "number of clients that emit operations")
	messages := flag.Int("messages", 100, "operations each writer sends")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between operations")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("document", *document).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := url.Parse(*addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid server address")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	latencyCh := make(chan latencySample, *clients**writers**messages)
	var wg sync.WaitGroup

	var writersDone sync.WaitGroup
	writersDone.Add(*writers)
	go func() {
		writersDone.Wait()
		// let trailing broadcasts drain before tearing clients down
		time.Sleep(2 * time.Second)
		stop()
	}()

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			name := fmt.Sprintf("client-%d", id)
			u := *base
			u.Path = fmt.Sprintf("/ws/%s", *document)
			u.RawQuery = url.Values{"name": []string{name}}.Encode()

			conn, _, err := dialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				logger.Error().Err(err).Str("client", name).Msg("dial failed")
				if id < *writers {
					writersDone.Done()
				}
				return
			}
			defer conn.Close()

			c := &client{name: name, conn: conn, logger: logger.With().Str("client", name).Logger()}
			if id < *writers {
				go func() {
					defer writersDone.Done()
					c.writeLoop(ctx, *messages, *interval)
				}()
			}
			c.readLoop(ctx, latencyCh)
		}(i)
	}

	go func() {
		wg.Wait()
		close(latencyCh)
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

// client mirrors what a real editor does: it keeps a shadow copy of the
// document, applies its own operations optimistically, and transforms
// incoming remote operations against the ones still in flight.
type client struct {
	name   string
	conn   *websocket.Conn
	logger zerolog.Logger

	mu      sync.Mutex
	shadow  string
	pending []ot.Operation
}

func (c *client) writeLoop(ctx context.Context, messages int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < messages; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			op := ot.NewInsert(0, "x")
			c.mu.Lock()
			next, err := ot.Apply(c.shadow, op)
			if err != nil {
				c.mu.Unlock()
				c.logger.Warn().Err(err).Msg("local apply failed")
				continue
			}
			c.shadow = next
			c.pending = append(c.pending, op)
			c.mu.Unlock()

			frame := outboundFrame{Type: "operation", Operation: &op}
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Warn().Err(err).Msg("encode frame failed")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("write failed")
				return
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context, latencies chan<- latencySample) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("decode frame failed")
			continue
		}

		switch frame.Type {
		case "welcome":
			c.mu.Lock()
			c.shadow = frame.Content
			c.pending = nil
			c.mu.Unlock()

		case "ack":
			c.mu.Lock()
			if len(c.pending) > 0 {
				c.pending = c.pending[1:]
			}
			c.mu.Unlock()

		case "operation":
			if frame.Operation == nil {
				continue
			}
			if !frame.Operation.Timestamp.IsZero() {
				latencies <- latencySample{dur: time.Since(frame.Operation.Timestamp)}
			}
			c.applyRemote(*frame.Operation)

		case "synced":
			c.mu.Lock()
			c.shadow = frame.Content
			c.pending = nil
			c.mu.Unlock()

		case "error":
			c.logger.Warn().Str("code", frame.Code).Str("message", frame.Message).Msg("server error frame")
		}
	}
}

// applyRemote runs the recompute step: the remote operation is shifted past
// every in-flight local operation before touching the shadow, and each
// in-flight operation is shifted past the remote one so later acks line up.
func (c *client) applyRemote(remote ot.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.pending {
		shifted := ot.Transform(remote, p)
		c.pending[i] = ot.Transform(p, remote)
		remote = shifted
	}

	next, err := ot.Apply(c.shadow, remote)
	if err != nil {
		applyFailures.Add(1)
		c.logger.Warn().Err(err).Int("position", remote.Position).Msg("shadow apply failed")
		return
	}
	c.shadow = next
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under50ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 50*time.Millisecond {
			under50ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under50ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Samples: %d\nAvg latency: %s\nMax latency: %s\n<50ms: %.2f%%\n", count, avg, max, pct)
	if failures := applyFailures.Load(); failures > 0 {
		logger.Warn().Int64("failures", failures).Msg("shadow copies diverged; clients would resync")
	}
	if pct < 95 {
		logger.Warn().Msg("less than 95% of broadcasts met the 50ms target")
	}
}
