package ws

import (
	"sync"

	"github.com/ajha-96/markdoc/internal/broadcast"
)

// ConnectionRegistry tracks live websocket connections keyed by document so
// broadcast events can fan out to them. It implements broadcast.Sink.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	documents map[string]map[*Connection]struct{}
}

var _ broadcast.Sink = (*ConnectionRegistry)(nil)

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{documents: make(map[string]map[*Connection]struct{})}
}

// Register associates the connection with its document.
func (r *ConnectionRegistry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.documents[c.documentID] == nil {
		r.documents[c.documentID] = make(map[*Connection]struct{})
	}
	r.documents[c.documentID][c] = struct{}{}
	connections.WithLabelValues(c.documentID).Set(float64(len(r.documents[c.documentID])))
}

// Unregister removes the connection.
func (r *ConnectionRegistry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.documents[c.documentID]
	if conns == nil {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.documents, c.documentID)
	}
	connections.WithLabelValues(c.documentID).Set(float64(len(conns)))
}

// Deliver sends payload to every connection on the document except the
// originating session. Slow consumers are disconnected, never waited on.
func (r *ConnectionRegistry) Deliver(documentID string, payload []byte, skipSessionID string) {
	r.mu.RLock()
	conns := r.documents[documentID]
	recipients := make([]*Connection, 0, len(conns))
	for c := range conns {
		if skipSessionID != "" && c.sessionID == skipSessionID {
			continue
		}
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		c.trySend(payload)
	}
}
