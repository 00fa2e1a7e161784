package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// PebbleStore keeps documents in an embedded Pebble database, for single-node
// deployments that want durability without an external service. Every write
// is synced before Set returns.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = (*PebbleStore)(nil)

// OpenPebbleStore opens (or creates) the database at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Close releases the database handle.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) Load(_ context.Context, id string) (string, error) {
	start := time.Now()
	defer func() { loadLatency.WithLabelValues("pebble").Observe(time.Since(start).Seconds()) }()

	value, closer, err := s.db.Get(s.key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("load document %s: %w", id, err)
	}
	content := string(value)
	if closer != nil {
		closer.Close()
	}
	return content, nil
}

func (s *PebbleStore) Save(_ context.Context, id, content string) error {
	start := time.Now()
	defer func() { saveLatency.WithLabelValues("pebble").Observe(time.Since(start).Seconds()) }()

	if err := s.db.Set(s.key(id), []byte(content), pebble.Sync); err != nil {
		return fmt.Errorf("save document %s: %w", id, err)
	}
	return nil
}

func (s *PebbleStore) Exists(_ context.Context, id string) (bool, error) {
	_, closer, err := s.db.Get(s.key(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	if closer != nil {
		closer.Close()
	}
	return true, nil
}

func (s *PebbleStore) key(id string) []byte {
	return []byte("doc/" + id)
}
