package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/ajha-96/markdoc/internal/document"
)

const (
	defaultCron  = "0 * * * *"
	fallbackWait = 30 * time.Second
)

// Uploader is the slice of the object storage client the worker needs.
// *minio.Client satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Source yields the open documents and their current state.
type Source interface {
	Documents() []string
	GetState(ctx context.Context, documentID string) (document.State, error)
}

// Worker periodically writes markdown copies of open documents to object
// storage. A document is uploaded only when its version moved since the
// last archive, so idle documents cost nothing.
type Worker struct {
	source Source
	object Uploader
	bucket string
	cron   string
	logger zerolog.Logger

	mu       sync.Mutex
	archived map[string]int64
}

// NewWorker validates the cron expression and builds the worker. An empty
// expression archives hourly.
func NewWorker(source Source, object Uploader, bucket, cron string, logger zerolog.Logger) (*Worker, error) {
	if cron == "" {
		cron = defaultCron
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid archive cron expression: %s", cron)
	}
	return &Worker{
		source:   source,
		object:   object,
		bucket:   bucket,
		cron:     cron,
		logger:   logger.With().Str("component", "archive").Logger(),
		archived: make(map[string]int64),
	}, nil
}

// Start begins the scheduling loop.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		next, err := gronx.NextTickAfter(w.cron, time.Now().UTC(), false)
		if err != nil {
			w.logger.Error().Err(err).Str("cron", w.cron).Msg("next tick computation failed")
			select {
			case <-time.After(fallbackWait):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce archives every open document whose version changed. Exposed so an
// admin trigger or test can force a sweep without waiting for the cron tick.
func (w *Worker) RunOnce(ctx context.Context) {
	for _, id := range w.source.Documents() {
		if err := w.processDocument(ctx, id); err != nil {
			archiveFailures.Inc()
			w.logger.Error().Err(err).Str("document", id).Msg("archive upload failed")
		}
	}
}

func (w *Worker) processDocument(ctx context.Context, id string) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}

	state, err := w.source.GetState(ctx, id)
	if err != nil {
		return fmt.Errorf("read document state: %w", err)
	}

	w.mu.Lock()
	last, seen := w.archived[id]
	w.mu.Unlock()
	if seen && state.Version == last {
		return nil
	}

	data := []byte(state.Content)
	objectPath := fmt.Sprintf("archive/%s/%s.md", id, time.Now().UTC().Format(time.RFC3339))
	opts := minio.PutObjectOptions{
		ContentType:  "text/markdown",
		UserMetadata: map[string]string{"version": strconv.FormatInt(state.Version, 10)},
	}
	if _, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	w.mu.Lock()
	w.archived[id] = state.Version
	w.mu.Unlock()

	archivesUploaded.Inc()
	w.logger.Info().Str("document", id).Int64("version", state.Version).Str("object", objectPath).Msg("archive uploaded")
	return nil
}
