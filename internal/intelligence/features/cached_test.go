package features

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/database/redis"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/internal/testutil"
)

var errMiss = stderrors.New("miss")

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) get(key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return stderrors.New("connection refused")
	}
	b, ok := c.data[key]
	if !ok {
		return errMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *mapCache) GetOrSet(ctx context.Context, key string, dest interface{}, _ time.Duration,
	loader func(ctx context.Context) (interface{}, error)) error {
	err := c.get(key, dest)
	if !stderrors.Is(err, errMiss) {
		return err
	}
	v, err := loader(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return json.Unmarshal(b, dest)
}

type countingExtractor struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (e *countingExtractor) Name() string { return "counting" }

func (e *countingExtractor) Extract(_ context.Context, poseBlock, _ string) (*Vector, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	if e.err != nil {
		return nil, e.err
	}
	return &Vector{Columns: []string{"len"}, Raw: []string{string(rune('0' + len(poseBlock)%10))}}, nil
}

func receptorFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestCachedExtractor_HitsOnSameContent(t *testing.T) {
	inner := &countingExtractor{}
	metrics := common.NewInMemoryScoringMetrics()
	c := NewCachedExtractor(inner, newMapCache(), time.Hour, metrics, nil)

	recA := receptorFile(t, "a.pdbqt", "RECEPTOR")
	recB := receptorFile(t, "b.pdbqt", "RECEPTOR")

	v1, err := c.Extract(context.Background(), "POSE", recA)
	require.NoError(t, err)
	v2, err := c.Extract(context.Background(), "POSE", recB)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 0.5, metrics.GetCurrentStats().CacheHitRate)
	assert.Equal(t, "cached-counting", c.Name())
}

func TestCachedExtractor_MissesOnDifferentPoseOrReceptor(t *testing.T) {
	inner := &countingExtractor{}
	c := NewCachedExtractor(inner, newMapCache(), time.Hour, nil, nil)

	rec := receptorFile(t, "a.pdbqt", "R1")
	other := receptorFile(t, "b.pdbqt", "R2")

	_, _ = c.Extract(context.Background(), "P1", rec)
	_, _ = c.Extract(context.Background(), "P2", rec)
	_, _ = c.Extract(context.Background(), "P1", other)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCachedExtractor_CacheOutageFallsThrough(t *testing.T) {
	inner := &countingExtractor{}
	cache := newMapCache()
	cache.failGet = true
	c := NewCachedExtractor(inner, cache, time.Hour, nil, nil)

	_, err := c.Extract(context.Background(), "P", receptorFile(t, "r.pdbqt", "R"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedExtractor_InnerErrorNotCached(t *testing.T) {
	inner := &countingExtractor{err: stderrors.New("boom")}
	cache := newMapCache()
	c := NewCachedExtractor(inner, cache, time.Hour, nil, nil)

	_, err := c.Extract(context.Background(), "P", receptorFile(t, "r.pdbqt", "R"))
	require.Error(t, err)
	assert.EqualError(t, err, "boom")
	assert.Empty(t, cache.data)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedExtractor_MissingReceptor(t *testing.T) {
	c := NewCachedExtractor(&countingExtractor{}, newMapCache(), time.Hour, nil, nil)
	_, err := c.Extract(context.Background(), "P", filepath.Join(t.TempDir(), "absent.pdbqt"))
	assert.Error(t, err)
}

func TestCachedExtractor_EditedReceptorMisses(t *testing.T) {
	inner := &countingExtractor{}
	c := NewCachedExtractor(inner, newMapCache(), time.Hour, nil, nil)
	rec := receptorFile(t, "r.pdbqt", "AAA")

	_, err := c.Extract(context.Background(), "POSE", rec)
	require.NoError(t, err)
	_, err = c.Extract(context.Background(), "POSE", rec)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())

	require.NoError(t, os.WriteFile(rec, []byte("BBB"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(rec, later, later))

	_, err = c.Extract(context.Background(), "POSE", rec)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedExtractor_ConcurrentMissesShareExtraction(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	defer client.Close()

	inner := &countingExtractor{delay: 200 * time.Millisecond}
	metrics := common.NewInMemoryScoringMetrics()
	c := NewCachedExtractor(inner, redis.NewRedisCache(client, logging.NewNopLogger()), time.Hour, metrics, nil)
	rec := receptorFile(t, "r.pdbqt", "RECEPTOR")

	var wg sync.WaitGroup
	out := make([]*Vector, 6)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Extract(context.Background(), "POSE", rec)
			assert.NoError(t, err)
			out[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
	for _, v := range out {
		require.NotNil(t, v)
		assert.Equal(t, []string{"len"}, v.Columns)
		assert.Equal(t, []string{"4"}, v.Raw)
	}
}

func TestCachedExtractor_CorruptEntryFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	defer client.Close()

	inner := &countingExtractor{}
	log := testutil.NewMockLogger()
	c := NewCachedExtractor(inner, redis.NewRedisCache(client, logging.NewNopLogger(), redis.WithPrefix("f:")), time.Hour, nil, log)
	rec := receptorFile(t, "r.pdbqt", "RECEPTOR")

	key, err := c.key("POSE", rec)
	require.NoError(t, err)
	require.NoError(t, mr.Set("f:"+key, "{broken"))

	v, err := c.Extract(context.Background(), "POSE", rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, v.Raw)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.NotEmpty(t, log.Find("warn", "feature cache unavailable"))
}
