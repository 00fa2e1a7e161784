package document

import (
	"errors"

	"github.com/ajha-96/markdoc/internal/presence"
)

var (
	// ErrNotFound reports a document with no live actor and no saved content.
	ErrNotFound = errors.New("document not found")

	// ErrStorageFailure wraps load and save errors from the backing store.
	ErrStorageFailure = errors.New("storage failure")

	// ErrTerminated reports a request that raced an actor's retirement. The
	// registry retries such requests once on a fresh actor.
	ErrTerminated = errors.New("document actor terminated")
)

// State is a consistent snapshot of a document: content, version and the
// session roster, captured in a single mailbox turn.
type State struct {
	Content string             `json:"content"`
	Version int64              `json:"version"`
	Users   []presence.Session `json:"users"`
}
