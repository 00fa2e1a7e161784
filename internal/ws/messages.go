package ws

import (
	"encoding/json"
	"errors"

	"github.com/ajha-96/markdoc/internal/document"
	"github.com/ajha-96/markdoc/internal/ot"
	"github.com/ajha-96/markdoc/internal/presence"
)

const (
	messageOperation = "operation"
	messageCursor    = "cursor"
	messageTyping    = "typing"
	messageSave      = "save"
	messageSync      = "sync"
	messageState     = "state"
)

// clientMessage is the one inbound frame shape; Type selects which fields
// are meaningful.
type clientMessage struct {
	Type      string              `json:"type"`
	Operation json.RawMessage     `json:"operation,omitempty"`
	Cursor    *int                `json:"cursor,omitempty"`
	Selection *presence.Selection `json:"selection,omitempty"`
	Typing    *bool               `json:"typing,omitempty"`
}

// welcomeMessage is the first frame sent after a successful join.
type welcomeMessage struct {
	Type    string             `json:"type"`
	Session presence.Session   `json:"session"`
	Content string             `json:"content"`
	Version int64              `json:"version"`
	Users   []presence.Session `json:"users"`
}

// ackMessage confirms an operation or save back to its sender, carrying the
// version it produced. Other sessions learn about the change through the
// broadcast stream instead.
type ackMessage struct {
	Type      string        `json:"type"`
	Version   int64         `json:"version"`
	Operation *ot.Operation `json:"operation,omitempty"`
}

// stateMessage answers an explicit state request with a fresh snapshot, so a
// client that suspects drift can resynchronize without reconnecting.
type stateMessage struct {
	Type    string             `json:"type"`
	Content string             `json:"content"`
	Version int64              `json:"version"`
	Users   []presence.Session `json:"users"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ot.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ot.ErrPositionOutOfBounds):
		return "position_out_of_bounds"
	case errors.Is(err, document.ErrNotFound):
		return "document_not_found"
	case errors.Is(err, document.ErrStorageFailure):
		return "storage_failure"
	default:
		return "internal"
	}
}
