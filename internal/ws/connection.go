package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection is one websocket session attached to a document. Outbound
// frames go through a bounded send channel drained by the write pump; a
// session that cannot keep up is closed so the client reconnects and
// resyncs instead of drifting on a partial event stream.
type Connection struct {
	documentID string
	sessionID  string

	ws     *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(ws *websocket.Conn, documentID, sessionID string, logger zerolog.Logger, cfg GatewayConfig) *Connection {
	return &Connection{
		documentID: documentID,
		sessionID:  sessionID,
		ws:         ws,
		send:       make(chan []byte, cfg.SendBuffer),
		logger:     logger,
		writeWait:  cfg.WriteTimeout,
		pongWait:   cfg.PongTimeout,
		pingPeriod: cfg.PongTimeout * 9 / 10,
		done:       make(chan struct{}),
	}
}

// DocumentID returns the document this connection follows.
func (c *Connection) DocumentID() string { return c.documentID }

// SessionID returns the session bound to this connection.
func (c *Connection) SessionID() string { return c.sessionID }

// trySend enqueues a frame without blocking. A full buffer closes the
// connection.
func (c *Connection) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		sendDrops.WithLabelValues(c.documentID).Inc()
		c.logger.Warn().Msg("send buffer full, closing connection")
		c.close()
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump owns all writes to the socket: it drains the send channel and
// keeps the connection alive with periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
