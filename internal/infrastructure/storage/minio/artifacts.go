package minio

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// ArtifactStore mirrors model artifacts from the bucket into a local directory.
type ArtifactStore struct {
	client *MinIOClient
	logger logging.Logger
}

func NewArtifactStore(client *MinIOClient, log logging.Logger) *ArtifactStore {
	return &ArtifactStore{client: client, logger: log}
}

// SyncResult counts what Sync did.
type SyncResult struct {
	Downloaded int
	Skipped    int
}

// Sync downloads every object under prefix into localDir, keeping the key
// layout below prefix.  Files already present with the same size are skipped.
func (s *ArtifactStore) Sync(ctx context.Context, prefix, localDir string) (*SyncResult, error) {
	res := &SyncResult{}
	bucket := s.client.Bucket()
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	objects := s.client.GetClient().ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return res, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "failed to list model artifacts").WithDetail(prefix)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		clean := path.Clean(rel)
		if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
			return res, errors.New(errors.ErrCodeStorageError, "artifact key escapes the model directory").WithDetail(obj.Key)
		}
		local := filepath.Join(localDir, filepath.FromSlash(clean))

		if fi, err := os.Stat(local); err == nil && fi.Size() == obj.Size {
			res.Skipped++
			continue
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return res, errors.Wrap(err, errors.ErrCodeStorageError, "cannot create model directory").WithDetail(local)
		}
		if err := s.client.GetClient().FGetObject(ctx, bucket, obj.Key, local, minio.GetObjectOptions{}); err != nil {
			return res, errors.Wrap(err, errors.ErrCodeStorageError, "failed to download model artifact").WithDetail(obj.Key)
		}
		res.Downloaded++
	}
	s.logger.Info("Model artifacts synced",
		logging.String("prefix", prefix),
		logging.Int("downloaded", res.Downloaded),
		logging.Int("skipped", res.Skipped))
	return res, nil
}
