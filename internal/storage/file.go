package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps one markdown file per document under a data directory.
// Saves go to a temporary file in the same directory, get synced, and are
// renamed into place, so a crashed write leaves the previous version intact.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the data directory if it does not exist yet.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Load(_ context.Context, id string) (string, error) {
	start := time.Now()
	defer func() { loadLatency.WithLabelValues("file").Observe(time.Since(start).Seconds()) }()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", id, err)
	}
	return string(data), nil
}

func (s *FileStore) Save(_ context.Context, id, content string) error {
	start := time.Now()
	defer func() { saveLatency.WithLabelValues("file").Observe(time.Since(start).Seconds()) }()

	tmp, err := os.CreateTemp(s.dir, sanitizeID(id)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write document %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync document %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close document %s: %w", id, err)
	}
	if err := os.Rename(name, s.path(id)); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace document %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat document %s: %w", id, err)
	}
	return true, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".md")
}

// sanitizeID keeps caller-supplied document ids from escaping the data
// directory.
func sanitizeID(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}
