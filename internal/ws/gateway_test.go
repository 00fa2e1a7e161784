package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ajha-96/markdoc/internal/broadcast"
	"github.com/ajha-96/markdoc/internal/document"
	"github.com/ajha-96/markdoc/internal/storage"
)

type testServer struct {
	srv  *httptest.Server
	docs *document.Registry
}

func newTestServer(t *testing.T, defaultContent string) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)

	connReg := NewConnectionRegistry()
	bus := broadcast.NewLocalBroadcaster(connReg, logger)
	docs := document.NewRegistry(storage.NewMemoryStore(), bus, logger, document.Options{
		DefaultContent: defaultContent,
	})
	gateway := NewGateway(docs, connReg, logger, GatewayConfig{})

	router := mux.NewRouter()
	router.Handle("/ws/{id}", gateway)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		docs.Shutdown(context.Background())
	})
	return &testServer{srv: srv, docs: docs}
}

func (s *testServer) dial(t *testing.T, documentID, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/" + documentID + "?name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrameJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return frame
}

// waitFrame reads frames until one of the wanted type arrives, skipping
// unrelated presence traffic.
func waitFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrameJSON(t, conn)
		if frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("no %q frame before timeout", wantType)
	return nil
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestGatewayWelcomeCarriesStateAndIdentity(t *testing.T) {
	ts := newTestServer(t, "Hello")
	conn := ts.dial(t, "notes", "Ada")

	welcome := waitFrame(t, conn, "welcome")
	if welcome["content"] != "Hello" {
		t.Fatalf("unexpected content %v", welcome["content"])
	}
	session, ok := welcome["session"].(map[string]any)
	if !ok || session["sessionId"] == "" || session["color"] == "" {
		t.Fatalf("incomplete session in welcome: %v", welcome["session"])
	}
	if session["name"] != "Ada" {
		t.Fatalf("unexpected name %v", session["name"])
	}
}

func TestGatewayOperationAckAndBroadcast(t *testing.T) {
	ts := newTestServer(t, "Hello")

	watcher := ts.dial(t, "notes", "watcher")
	waitFrame(t, watcher, "welcome")

	editor := ts.dial(t, "notes", "editor")
	waitFrame(t, editor, "welcome")

	// The watcher hears about the editor joining.
	joined := waitFrame(t, watcher, "user_joined")
	if joined["user"] == nil {
		t.Fatalf("join event without user: %v", joined)
	}

	sendFrame(t, editor, map[string]any{
		"type": "operation",
		"operation": map[string]any{
			"type":     "insert",
			"position": 5,
			"content":  " World",
		},
	})

	ack := waitFrame(t, editor, "ack")
	if ack["version"].(float64) != 1 {
		t.Fatalf("unexpected ack version %v", ack["version"])
	}

	event := waitFrame(t, watcher, "operation")
	op, ok := event["operation"].(map[string]any)
	if !ok {
		t.Fatalf("operation event without payload: %v", event)
	}
	if op["content"] != " World" || op["position"].(float64) != 5 {
		t.Fatalf("unexpected broadcast operation %v", op)
	}
	if event["version"].(float64) != 1 {
		t.Fatalf("unexpected event version %v", event["version"])
	}
}

func TestGatewayRejectsBadOperations(t *testing.T) {
	ts := newTestServer(t, "short")
	conn := ts.dial(t, "notes", "Ada")
	waitFrame(t, conn, "welcome")

	sendFrame(t, conn, map[string]any{
		"type": "operation",
		"operation": map[string]any{
			"type":     "insert",
			"position": 99,
			"content":  "x",
		},
	})
	failure := waitFrame(t, conn, "error")
	if failure["code"] != "position_out_of_bounds" {
		t.Fatalf("unexpected error code %v", failure["code"])
	}

	sendFrame(t, conn, map[string]any{
		"type": "operation",
		"operation": map[string]any{
			"type":     "teleport",
			"position": 0,
		},
	})
	failure = waitFrame(t, conn, "error")
	if failure["code"] != "invalid_operation" {
		t.Fatalf("unexpected error code %v", failure["code"])
	}
}

// A delete positioned at math.MaxInt wraps an additive bounds check and
// crashed the document actor. The frame must come back as a bounds error
// and leave the actor serving.
func TestGatewaySurvivesHugeDeletePosition(t *testing.T) {
	ts := newTestServer(t, "Hello")
	conn := ts.dial(t, "notes", "Ada")
	waitFrame(t, conn, "welcome")

	raw := `{"type":"operation","operation":{"type":"delete","position":9223372036854775807,"length":2}}`
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	failure := waitFrame(t, conn, "error")
	if failure["code"] != "position_out_of_bounds" {
		t.Fatalf("unexpected error code %v", failure["code"])
	}

	sendFrame(t, conn, map[string]any{
		"type": "operation",
		"operation": map[string]any{
			"type":     "insert",
			"position": 5,
			"content":  "!",
		},
	})
	ack := waitFrame(t, conn, "ack")
	if ack["version"].(float64) != 1 {
		t.Fatalf("actor did not survive the rejected frame: %v", ack)
	}
}

func TestGatewayCursorAndTypingFanOut(t *testing.T) {
	ts := newTestServer(t, "Hello World")

	watcher := ts.dial(t, "notes", "watcher")
	waitFrame(t, watcher, "welcome")

	mover := ts.dial(t, "notes", "mover")
	welcome := waitFrame(t, mover, "welcome")
	session := welcome["session"].(map[string]any)
	moverID := session["sessionId"].(string)

	sendFrame(t, mover, map[string]any{
		"type":      "cursor",
		"cursor":    4,
		"selection": map[string]any{"start": 0, "end": 4},
	})

	cursor := waitFrame(t, watcher, "cursor")
	if cursor["sessionId"] != moverID {
		t.Fatalf("cursor event for wrong session: %v", cursor["sessionId"])
	}
	if cursor["cursor"].(float64) != 4 {
		t.Fatalf("unexpected cursor position %v", cursor["cursor"])
	}

	sendFrame(t, mover, map[string]any{"type": "typing", "typing": true})
	typing := waitFrame(t, watcher, "typing")
	if typing["typing"] != true {
		t.Fatalf("unexpected typing payload %v", typing["typing"])
	}
}

func TestGatewayDisconnectBroadcastsLeave(t *testing.T) {
	ts := newTestServer(t, "")

	watcher := ts.dial(t, "notes", "watcher")
	waitFrame(t, watcher, "welcome")

	visitor := ts.dial(t, "notes", "visitor")
	welcome := waitFrame(t, visitor, "welcome")
	visitorID := welcome["session"].(map[string]any)["sessionId"].(string)

	waitFrame(t, watcher, "user_joined")
	visitor.Close()

	left := waitFrame(t, watcher, "user_left")
	if left["sessionId"] != visitorID {
		t.Fatalf("user_left for wrong session: %v", left["sessionId"])
	}
}

func TestGatewayStateRequestReturnsSnapshot(t *testing.T) {
	ts := newTestServer(t, "Hello")
	conn := ts.dial(t, "notes", "Ada")
	waitFrame(t, conn, "welcome")

	sendFrame(t, conn, map[string]any{
		"type": "operation",
		"operation": map[string]any{
			"type":     "insert",
			"position": 5,
			"content":  "!",
		},
	})
	waitFrame(t, conn, "ack")

	sendFrame(t, conn, map[string]any{"type": "state"})
	state := waitFrame(t, conn, "state")
	if state["content"] != "Hello!" {
		t.Fatalf("unexpected content %v", state["content"])
	}
	if state["version"].(float64) != 1 {
		t.Fatalf("unexpected version %v", state["version"])
	}
	if users, ok := state["users"].([]any); !ok || len(users) != 1 {
		t.Fatalf("unexpected users %v", state["users"])
	}
}

func TestGatewayUnknownFrameType(t *testing.T) {
	ts := newTestServer(t, "")
	conn := ts.dial(t, "notes", "Ada")
	waitFrame(t, conn, "welcome")

	sendFrame(t, conn, map[string]any{"type": "dance"})
	failure := waitFrame(t, conn, "error")
	if failure["code"] != "invalid_message" {
		t.Fatalf("unexpected error code %v", failure["code"])
	}
}
