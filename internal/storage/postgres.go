package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists document content in a single Postgres table. Saves
// are upserts inside a transaction; transient failures (serialization,
// deadlock, broken connections) are retried with exponential backoff so a
// flapping database does not bubble up as data loss.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxRetries int
	retryDelay time.Duration
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) PostgresOption {
	return func(s *PostgresStore) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.retryDelay = d
	}
}

// NewPostgresStore prepares the schema and returns a ready store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:       pool,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS markdoc_documents (
    id         text PRIMARY KEY,
    content    text NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`); err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (string, error) {
	ctx, span := tracer.Start(ctx, "storage.postgres.load")
	defer span.End()

	start := time.Now()
	defer func() { loadLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds()) }()

	var content string
	err := s.pool.QueryRow(ctx, `SELECT content FROM markdoc_documents WHERE id = $1`, id).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("load document %s: %w", id, err)
	}
	return content, nil
}

func (s *PostgresStore) Save(ctx context.Context, id, content string) error {
	ctx, span := tracer.Start(ctx, "storage.postgres.save")
	defer span.End()

	start := time.Now()
	defer func() { saveLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds()) }()

	err := s.retry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
INSERT INTO markdoc_documents (id, content, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id)
DO UPDATE SET content = EXCLUDED.content, updated_at = now()`, id, content); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("save document %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM markdoc_documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == s.maxRetries {
			return err
		}
		saveRetries.WithLabelValues("postgres").Inc()
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
