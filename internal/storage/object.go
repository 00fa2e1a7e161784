package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

// ObjectStore keeps document content as objects in an S3-compatible bucket.
// Object storage writes whole objects, so the atomicity contract holds
// without a rename step.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*ObjectStore)(nil)

// NewObjectStore wraps an existing minio client.
func NewObjectStore(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

func (s *ObjectStore) Load(ctx context.Context, id string) (string, error) {
	ctx, span := tracer.Start(ctx, "storage.object.load")
	defer span.End()

	start := time.Now()
	defer func() { loadLatency.WithLabelValues("object").Observe(time.Since(start).Seconds()) }()

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get document %s: %w", id, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("read document %s: %w", id, err)
	}
	return string(data), nil
}

func (s *ObjectStore) Save(ctx context.Context, id, content string) error {
	ctx, span := tracer.Start(ctx, "storage.object.save")
	defer span.End()

	start := time.Now()
	defer func() { saveLatency.WithLabelValues("object").Observe(time.Since(start).Seconds()) }()

	reader := bytes.NewReader([]byte(content))
	if _, err := s.client.PutObject(ctx, s.bucket, s.key(id), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/markdown",
	}); err != nil {
		return fmt.Errorf("put document %s: %w", id, err)
	}
	return nil
}

func (s *ObjectStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(id), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat document %s: %w", id, err)
	}
	return true, nil
}

func (s *ObjectStore) key(id string) string {
	return "documents/" + id + ".md"
}
