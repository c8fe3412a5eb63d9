package minio

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// UploadResult describes a stored result object.
type UploadResult struct {
	Bucket     string
	ObjectKey  string
	ETag       string
	Size       int64
	UploadedAt time.Time
}

// ResultStore uploads result tables under a key prefix.
type ResultStore struct {
	client *MinIOClient
	prefix string
	logger logging.Logger
}

func NewResultStore(client *MinIOClient, prefix string, log logging.Logger) *ResultStore {
	return &ResultStore{client: client, prefix: prefix, logger: log}
}

// ObjectKey returns the key a run's CSV is stored under.
func (s *ResultStore) ObjectKey(runID string) string {
	return path.Join(s.prefix, runID+".csv")
}

// Upload stores data as the run's result table.
func (s *ResultStore) Upload(ctx context.Context, runID string, data []byte, metadata map[string]string) (*UploadResult, error) {
	key := s.ObjectKey(runID)
	info, err := s.client.GetClient().PutObject(ctx, s.client.Bucket(), key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/csv", UserMetadata: metadata})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to upload result table").WithDetail(key)
	}
	s.logger.Info("Result table uploaded", logging.String("key", key), logging.Int64("size", info.Size))
	return &UploadResult{
		Bucket:     s.client.Bucket(),
		ObjectKey:  key,
		ETag:       info.ETag,
		Size:       info.Size,
		UploadedAt: time.Now(),
	}, nil
}
