package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

type vector struct {
	Columns []string `json:"columns"`
	Raw     []string `json:"raw"`
}

type CacheTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *Client
	cache  Cache
}

func (s *CacheTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	client, err := NewClient(&RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	s.Require().NoError(err)
	s.client = client
	s.cache = NewRedisCache(client, logging.NewNopLogger(), WithPrefix("test:"))
}

func (s *CacheTestSuite) TearDownTest() {
	_ = s.client.Close()
	s.mr.Close()
}

func (s *CacheTestSuite) TestSetGet() {
	ctx := context.Background()
	in := vector{Columns: []string{"a", "nRot"}, Raw: []string{"1.5", " 3"}}
	s.Require().NoError(s.cache.Set(ctx, "k1", in, time.Hour))
	s.True(s.mr.Exists("test:k1"))
	s.InDelta(float64(time.Hour), float64(s.mr.TTL("test:k1")), float64(6*time.Minute))

	var out vector
	s.Require().NoError(s.cache.Get(ctx, "k1", &out))
	s.Equal(in, out)
}

func (s *CacheTestSuite) TestMiss() {
	var out vector
	err := s.cache.Get(context.Background(), "absent", &out)
	s.True(IsCacheMiss(err))
	s.False(IsCacheMiss(errors.New(errors.ErrCodeCacheError, "boom")))
}

func (s *CacheTestSuite) TestCorruptEntry() {
	s.Require().NoError(s.mr.Set("test:bad", "{not json"))
	var out vector
	err := s.cache.Get(context.Background(), "bad", &out)
	s.True(errors.IsCode(err, errors.ErrCodeSerialization))
}

func (s *CacheTestSuite) TestGetOrSet_SharesLoader() {
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return vector{Columns: []string{"x"}, Raw: []string{"1"}}, nil
	}

	var wg sync.WaitGroup
	results := make([]vector, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.cache.GetOrSet(ctx, "shared", &results[i], time.Minute, loader))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
	for _, r := range results {
		s.Equal([]string{"x"}, r.Columns)
	}

	var cached vector
	s.NoError(s.cache.Get(ctx, "shared", &cached))
	s.Equal([]string{"1"}, cached.Raw)
}

func (s *CacheTestSuite) TestGetOrSet_LoaderError() {
	var out vector
	err := s.cache.GetOrSet(context.Background(), "k", &out, 0, func(context.Context) (interface{}, error) {
		return nil, fmt.Errorf("extractor down")
	})
	s.EqualError(err, "extractor down")
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestCache_ServerError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(wrapClient(db, &RedisConfig{}, logging.NewNopLogger()), logging.NewNopLogger(), WithPrefix("p:"))

	mock.ExpectGet("p:k").SetErr(fmt.Errorf("LOADING"))
	var out vector
	err := cache.Get(context.Background(), "k", &out)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCacheError))
	assert.False(t, IsCacheMiss(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJitterTTL(t *testing.T) {
	c := &redisCache{jitter: true}
	for i := 0; i < 50; i++ {
		got := c.jitterTTL(time.Hour)
		assert.InDelta(t, float64(time.Hour), float64(got), float64(6*time.Minute))
	}
	assert.Zero(t, c.jitterTTL(0))
	c.jitter = false
	assert.Equal(t, time.Hour, c.jitterTTL(time.Hour))
}

func TestGetOrSet_ServerErrorSkipsLoader(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(wrapClient(db, &RedisConfig{}, logging.NewNopLogger()), logging.NewNopLogger(), WithPrefix("p:"))

	mock.ExpectGet("p:k").SetErr(fmt.Errorf("LOADING"))
	called := false
	var out vector
	err := cache.GetOrSet(context.Background(), "k", &out, time.Minute, func(context.Context) (interface{}, error) {
		called = true
		return vector{}, nil
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeCacheError))
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}
