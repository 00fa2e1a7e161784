package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no content has ever been saved for
// the document.
var ErrNotFound = errors.New("document not found in storage")

// Store persists authoritative document content keyed by document id.
// Implementations must make Save atomic enough that a partial write never
// corrupts the previously saved version.
type Store interface {
	Load(ctx context.Context, id string) (string, error)
	Save(ctx context.Context, id, content string) error
	Exists(ctx context.Context, id string) (bool, error)
}
