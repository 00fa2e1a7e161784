package broadcast

import (
	"context"
	"time"

	"github.com/ajha-96/markdoc/internal/ot"
	"github.com/ajha-96/markdoc/internal/presence"
)

// EventType discriminates the document events fanned out to sessions.
type EventType string

const (
	EventOperation  EventType = "operation"
	EventUserJoined EventType = "user_joined"
	EventUserLeft   EventType = "user_left"
	EventCursor     EventType = "cursor"
	EventTyping     EventType = "typing"
	EventSaved      EventType = "saved"
	EventSynced     EventType = "synced"
)

// Event is the envelope delivered to every other session on a document.
// Origin names the session that caused the event so fanout can skip echoing
// it back to the sender.
type Event struct {
	Type      EventType           `json:"type"`
	Document  string              `json:"document"`
	Origin    string              `json:"origin,omitempty"`
	Version   int64               `json:"version,omitempty"`
	Operation *ot.Operation       `json:"operation,omitempty"`
	User      *presence.Session   `json:"user,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	Cursor    *int                `json:"cursor,omitempty"`
	Selection *presence.Selection `json:"selection,omitempty"`
	Typing    *bool               `json:"typing,omitempty"`
	Content   string              `json:"content,omitempty"`
	SavedAt   *time.Time          `json:"savedAt,omitempty"`
}

// Broadcaster delivers events across sessions. Publish is fire-and-forget
// with at-most-once delivery: the document actor never blocks on it and no
// delivery is guaranteed to a disconnected subscriber.
type Broadcaster interface {
	Publish(ctx context.Context, event Event)
}

// Sink receives marshalled events for local fanout. The websocket connection
// registry implements it.
type Sink interface {
	Deliver(documentID string, payload []byte, skipSessionID string)
}

// OperationEvent announces an applied operation at the version it produced.
func OperationEvent(document, origin string, version int64, op ot.Operation) Event {
	return Event{Type: EventOperation, Document: document, Origin: origin, Version: version, Operation: &op}
}

// UserJoinedEvent announces a new session.
func UserJoinedEvent(document string, user presence.Session) Event {
	return Event{Type: EventUserJoined, Document: document, Origin: user.ID, User: &user}
}

// UserLeftEvent announces a departed session.
func UserLeftEvent(document, sessionID string) Event {
	return Event{Type: EventUserLeft, Document: document, Origin: sessionID, SessionID: sessionID}
}

// CursorEvent announces a moved cursor, with an optional selection.
func CursorEvent(document, sessionID string, cursor int, selection *presence.Selection) Event {
	return Event{Type: EventCursor, Document: document, Origin: sessionID, SessionID: sessionID, Cursor: &cursor, Selection: selection}
}

// TypingEvent announces a typing flag change.
func TypingEvent(document, sessionID string, typing bool) Event {
	return Event{Type: EventTyping, Document: document, Origin: sessionID, SessionID: sessionID, Typing: &typing}
}

// SavedEvent announces a successful flush to storage.
func SavedEvent(document string, version int64, at time.Time) Event {
	return Event{Type: EventSaved, Document: document, Version: version, SavedAt: &at}
}

// SyncedEvent announces that content was reloaded from storage and carries
// the full replacement so clients can rebase.
func SyncedEvent(document, content string, version int64) Event {
	return Event{Type: EventSynced, Document: document, Content: content, Version: version}
}
