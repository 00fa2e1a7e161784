package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ajha-96/markdoc/internal/document"
	"github.com/ajha-96/markdoc/internal/ot"
)

// GatewayConfig controls the runtime behaviour of websocket sessions.
type GatewayConfig struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	OpsPerSecond   float64
	OpsBurst       int
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	if c.OpsPerSecond <= 0 {
		c.OpsPerSecond = 50
	}
	if c.OpsBurst <= 0 {
		c.OpsBurst = 100
	}
	return c
}

// Gateway upgrades HTTP requests into websocket sessions and bridges their
// frames to the document registry.
type Gateway struct {
	docs     *document.Registry
	registry *ConnectionRegistry
	logger   zerolog.Logger
	cfg      GatewayConfig
	upgrader websocket.Upgrader
}

// NewGateway creates a Gateway with sane defaults.
func NewGateway(docs *document.Registry, registry *ConnectionRegistry, logger zerolog.Logger, cfg GatewayConfig) *Gateway {
	return &Gateway{
		docs:     docs,
		registry: registry,
		logger:   logger.With().Str("component", "ws").Logger(),
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler for GET /ws/{id}. The session id and
// display name come from query parameters; a missing session id gets a
// generated one.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	if documentID == "" {
		http.Error(w, "missing document id", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "anonymous"
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("document", documentID).Msg("websocket upgrade failed")
		return
	}

	logger := g.logger.With().Str("document", documentID).Str("session", sessionID).Logger()
	conn := newConnection(ws, documentID, sessionID, logger, g.cfg)

	// Register before joining so no broadcast between the join snapshot and
	// the first delivered event can be missed. Events carry versions, so the
	// client drops anything at or below the welcome version.
	g.registry.Register(conn)
	go conn.writePump()

	ctx, span := tracer.Start(r.Context(), "ws.join")
	session, state, err := g.docs.Join(ctx, documentID, sessionID, name)
	span.End()
	if err != nil {
		logger.Error().Err(err).Msg("join failed")
		g.sendError(conn, err)
		g.registry.Unregister(conn)
		conn.close()
		return
	}

	welcome, err := json.Marshal(welcomeMessage{
		Type:    "welcome",
		Session: session,
		Content: state.Content,
		Version: state.Version,
		Users:   state.Users,
	})
	if err == nil {
		conn.trySend(welcome)
	}
	logger.Info().Str("name", name).Msg("session connected")

	g.readLoop(r.Context(), conn)

	g.registry.Unregister(conn)
	conn.close()
	if err := g.docs.Leave(context.Background(), documentID, session.ID); err != nil {
		logger.Warn().Err(err).Msg("leave failed")
	}
	logger.Info().Msg("session disconnected")
}

func (g *Gateway) readLoop(ctx context.Context, conn *Connection) {
	limiter := rate.NewLimiter(rate.Limit(g.cfg.OpsPerSecond), g.cfg.OpsBurst)

	conn.ws.SetReadLimit(g.cfg.MaxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(conn.pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(conn.pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.Debug().Err(err).Msg("read loop exited")
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(conn.pongWait))

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendErrorCode(conn, "invalid_message", "malformed frame")
			continue
		}

		switch msg.Type {
		case messageOperation, messageCursor, messageTyping, messageSave, messageSync, messageState:
			inboundMessages.WithLabelValues(msg.Type).Inc()
		default:
			inboundMessages.WithLabelValues("unknown").Inc()
		}

		g.dispatch(ctx, conn, msg, limiter)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, msg clientMessage, limiter *rate.Limiter) {
	switch msg.Type {
	case messageOperation:
		if !limiter.Allow() {
			rateLimited.Inc()
			g.sendErrorCode(conn, "rate_limited", "too many operations")
			return
		}
		op, err := ot.DecodeOperation(msg.Operation)
		if err != nil {
			g.sendError(conn, err)
			return
		}
		opCtx, span := tracer.Start(ctx, "ws.apply_operation")
		version, applied, err := g.docs.ApplyOperation(opCtx, conn.documentID, conn.sessionID, op)
		span.End()
		if err != nil {
			g.sendError(conn, err)
			return
		}
		g.sendAck(conn, version, &applied)

	case messageCursor:
		if msg.Cursor == nil {
			g.sendErrorCode(conn, "invalid_message", "cursor frame without position")
			return
		}
		g.docs.UpdateCursor(conn.documentID, conn.sessionID, *msg.Cursor, msg.Selection)

	case messageTyping:
		if msg.Typing == nil {
			g.sendErrorCode(conn, "invalid_message", "typing frame without flag")
			return
		}
		g.docs.UpdateTyping(conn.documentID, conn.sessionID, *msg.Typing)

	case messageSave:
		version, err := g.docs.SaveNow(ctx, conn.documentID)
		if err != nil {
			g.sendError(conn, err)
			return
		}
		g.sendAck(conn, version, nil)

	case messageSync:
		if _, err := g.docs.SyncFromDisk(ctx, conn.documentID); err != nil {
			g.sendError(conn, err)
		}

	case messageState:
		state, err := g.docs.GetState(ctx, conn.documentID)
		if err != nil {
			g.sendError(conn, err)
			return
		}
		payload, err := json.Marshal(stateMessage{Type: messageState, Content: state.Content, Version: state.Version, Users: state.Users})
		if err != nil {
			return
		}
		conn.trySend(payload)

	default:
		g.sendErrorCode(conn, "invalid_message", fmt.Sprintf("unknown frame type %q", msg.Type))
	}
}

func (g *Gateway) sendError(conn *Connection, err error) {
	g.sendErrorCode(conn, errorCode(err), err.Error())
}

func (g *Gateway) sendErrorCode(conn *Connection, code, message string) {
	payload, err := json.Marshal(errorMessage{Type: "error", Code: code, Message: message})
	if err != nil {
		return
	}
	conn.trySend(payload)
}

func (g *Gateway) sendAck(conn *Connection, version int64, op *ot.Operation) {
	payload, err := json.Marshal(ackMessage{Type: "ack", Version: version, Operation: op})
	if err != nil {
		return
	}
	conn.trySend(payload)
}
