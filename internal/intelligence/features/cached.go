package features

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Cache is the key-value store CachedExtractor reads through.  GetOrSet
// fills dest from key, calling loader on a miss; concurrent misses on one key
// share a single loader call.
type Cache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration,
		loader func(ctx context.Context) (interface{}, error)) error
}

// CachedExtractor memoises an inner Extractor.  Entries are keyed by the
// SHA-256 of the receptor file contents and the pose block, so a renamed
// receptor still hits and an edited one misses.  Cache failures degrade to a
// direct extraction.
type CachedExtractor struct {
	inner   Extractor
	cache   Cache
	ttl     time.Duration
	metrics common.ScoringMetrics
	logger  logging.Logger

	mu       sync.Mutex
	receptor map[string]receptorDigest
}

// receptorDigest is valid while the file keeps the same size and mtime.
type receptorDigest struct {
	size    int64
	modTime time.Time
	sum     []byte
}

// extractError marks a failure of the inner extractor as opposed to the cache.
type extractError struct{ err error }

func (e *extractError) Error() string { return e.err.Error() }
func (e *extractError) Unwrap() error { return e.err }

func NewCachedExtractor(inner Extractor, cache Cache, ttl time.Duration,
	metrics common.ScoringMetrics, logger logging.Logger) *CachedExtractor {
	if metrics == nil {
		metrics = common.NewNoopScoringMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CachedExtractor{
		inner:    inner,
		cache:    cache,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger,
		receptor: make(map[string]receptorDigest),
	}
}

// Name implements Extractor.
func (c *CachedExtractor) Name() string { return "cached-" + c.inner.Name() }

// Extract implements Extractor.
func (c *CachedExtractor) Extract(ctx context.Context, poseBlock, receptorPath string) (*Vector, error) {
	key, err := c.key(poseBlock, receptorPath)
	if err != nil {
		return nil, err
	}

	var (
		v      Vector
		loaded bool
	)
	err = c.cache.GetOrSet(ctx, key, &v, c.ttl, func(ctx context.Context) (interface{}, error) {
		loaded = true
		out, err := c.inner.Extract(ctx, poseBlock, receptorPath)
		if err != nil {
			return nil, &extractError{err: err}
		}
		return out, nil
	})
	if err == nil {
		c.metrics.RecordCacheAccess(ctx, !loaded, "features")
		return &v, nil
	}

	var xerr *extractError
	if errors.As(err, &xerr) {
		return nil, xerr.err
	}
	c.logger.Warn("feature cache unavailable", logging.Err(err))
	return c.inner.Extract(ctx, poseBlock, receptorPath)
}

// key hashes the receptor digest together with the pose block.
func (c *CachedExtractor) key(poseBlock, receptorPath string) (string, error) {
	digest, err := c.receptorSum(receptorPath)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(digest)
	h.Write([]byte{0})
	io.WriteString(h, poseBlock)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// receptorSum hashes the receptor once per version of the file.
func (c *CachedExtractor) receptorSum(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot read receptor").WithDetail(path)
	}

	c.mu.Lock()
	d, ok := c.receptor[path]
	c.mu.Unlock()
	if ok && d.size == info.Size() && d.modTime.Equal(info.ModTime()) {
		return d.sum, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot read receptor").WithDetail(path)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot read receptor").WithDetail(path)
	}
	d = receptorDigest{size: info.Size(), modTime: info.ModTime(), sum: h.Sum(nil)}

	c.mu.Lock()
	c.receptor[path] = d
	c.mu.Unlock()
	return d.sum, nil
}
