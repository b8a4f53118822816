package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/carecoord/welfare-dispatch/dispatch/models"
)

type FeedCacheTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	cache *RedisFeedCache
	feed  []*models.FeedEntry
}

func TestFeedCacheTestSuite(t *testing.T) {
	suite.Run(t, new(FeedCacheTestSuite))
}

func (s *FeedCacheTestSuite) SetupTest() {
	client, mock := redismock.NewClientMock()
	s.mock = mock
	s.cache = NewRedisFeedCache(client, 2*time.Minute)
	s.feed = []*models.FeedEntry{
		{AlertID: 7, PersonID: "P1", PersonName: "Ada", UrgencyScore: 108, PriorityBand: models.BandCritical,
			LastCheckInAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), State: models.AlertOpen},
	}
}

func (s *FeedCacheTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *FeedCacheTestSuite) payload() string {
	b, err := json.Marshal(s.feed)
	s.Require().NoError(err)
	return string(b)
}

const (
	genT1  = "welfare-dispatch:feedgen:T1"
	feedT1 = "welfare-dispatch:feed:T1:0"
)

func (s *FeedCacheTestSuite) TestMissLoadsAndStores() {
	s.mock.ExpectGet(genT1).RedisNil()
	s.mock.ExpectGet(feedT1).RedisNil()
	s.mock.ExpectSet(feedT1, s.payload(), 2*time.Minute).SetVal("OK")

	loads := 0
	got, err := s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		loads++
		return s.feed, nil
	})
	s.NoError(err)
	s.Equal(1, loads)
	s.Equal(s.feed, got)
}

func (s *FeedCacheTestSuite) TestHitSkipsLoad() {
	s.mock.ExpectGet(genT1).SetVal("4")
	s.mock.ExpectGet("welfare-dispatch:feed:T1:4").SetVal(s.payload())

	got, err := s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		s.FailNow("load should not be called on a hit")
		return nil, nil
	})
	s.NoError(err)
	s.Require().Len(got, 1)
	s.Equal(uint(7), got[0].AlertID)
	s.Equal(108, got[0].UrgencyScore)
	s.True(s.feed[0].LastCheckInAt.Equal(got[0].LastCheckInAt))
}

func (s *FeedCacheTestSuite) TestEmptyFeedIsCached() {
	s.mock.ExpectGet("welfare-dispatch:feedgen:T2").RedisNil()
	s.mock.ExpectGet("welfare-dispatch:feed:T2:0").RedisNil()
	s.mock.ExpectSet("welfare-dispatch:feed:T2:0", "[]", 2*time.Minute).SetVal("OK")

	got, err := s.cache.GetFeed(context.Background(), "T2", func(context.Context) ([]*models.FeedEntry, error) {
		return nil, nil
	})
	s.NoError(err)
	s.Empty(got)
}

func (s *FeedCacheTestSuite) TestRedisFailureFallsBackToStore() {
	s.mock.ExpectGet(genT1).SetErr(errors.New("connection refused"))

	got, err := s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		return s.feed, nil
	})
	s.NoError(err)
	s.Equal(s.feed, got)
}

func (s *FeedCacheTestSuite) TestWriteFailureStillReturnsFeed() {
	s.mock.ExpectGet(genT1).RedisNil()
	s.mock.ExpectGet(feedT1).SetErr(errors.New("connection refused"))
	s.mock.ExpectSet(feedT1, s.payload(), 2*time.Minute).SetErr(errors.New("connection refused"))

	got, err := s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		return s.feed, nil
	})
	s.NoError(err)
	s.Equal(s.feed, got)
}

func (s *FeedCacheTestSuite) TestLoadErrorIsReturned() {
	s.mock.ExpectGet(genT1).RedisNil()
	s.mock.ExpectGet(feedT1).RedisNil()

	_, err := s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		return nil, errors.New("db down")
	})
	s.EqualError(err, "db down")
}

func (s *FeedCacheTestSuite) TestMalformedEntryIsReloaded() {
	s.mock.ExpectGet(genT1).RedisNil()
	s.mock.ExpectGet(feedT1).SetVal("{not json")
	s.mock.ExpectSet(feedT1, s.payload(), 2*time.Minute).SetVal("OK")

	got, err := s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		return s.feed, nil
	})
	s.NoError(err)
	s.Equal(s.feed, got)
}

func (s *FeedCacheTestSuite) TestInvalidate() {
	s.mock.ExpectIncr(genT1).SetVal(1)
	s.NoError(s.cache.Invalidate(context.Background(), "T1"))
}

// A load that overlaps an invalidation must not be served after it.
func (s *FeedCacheTestSuite) TestInvalidateDuringLoadIsNotServed() {
	s.mock.ExpectGet(genT1).RedisNil()
	s.mock.ExpectGet(feedT1).RedisNil()
	s.mock.ExpectIncr(genT1).SetVal(1)
	s.mock.ExpectSet(feedT1, "[]", 2*time.Minute).SetVal("OK")
	s.mock.ExpectGet(genT1).SetVal("1")
	s.mock.ExpectGet("welfare-dispatch:feed:T1:1").RedisNil()
	s.mock.ExpectSet("welfare-dispatch:feed:T1:1", s.payload(), 2*time.Minute).SetVal("OK")

	got, err := s.cache.GetFeed(context.Background(), "T1", func(ctx context.Context) ([]*models.FeedEntry, error) {
		// A report lands after the store was read.
		s.Require().NoError(s.cache.Invalidate(ctx, "T1"))
		return []*models.FeedEntry{}, nil
	})
	s.NoError(err)
	s.Empty(got)

	got, err = s.cache.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		return s.feed, nil
	})
	s.NoError(err)
	s.Equal(s.feed, got)
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 5; i++ {
		mock.ExpectGet(genT1).SetVal("3")
	}
	mock.ExpectGet("welfare-dispatch:feed:T1:3").RedisNil()
	mock.ExpectSet("welfare-dispatch:feed:T1:3", "[]", time.Minute).SetVal("OK")
	c := NewRedisFeedCache(client, time.Minute)

	var loads int32
	release := make(chan struct{})
	load := func(context.Context) ([]*models.FeedEntry, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []*models.FeedEntry{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetFeed(context.Background(), "T1", load)
			assert.NoError(t, err)
		}()
	}
	// Let the callers pile up behind the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
}

func TestCancelledCallerDoesNotCancelSharedLoad(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(genT1).RedisNil()
	mock.ExpectGet(feedT1).RedisNil()
	mock.ExpectSet(feedT1, "[]", time.Minute).SetVal("OK")
	c := NewRedisFeedCache(client, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	loadErr := make(chan error, 1)
	load := func(ctx context.Context) ([]*models.FeedEntry, error) {
		close(started)
		<-release
		loadErr <- ctx.Err()
		return []*models.FeedEntry{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	callerErr := make(chan error, 1)
	go func() {
		_, err := c.GetFeed(ctx, "T1", load)
		callerErr <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-callerErr, context.Canceled)

	close(release)
	assert.NoError(t, <-loadErr)
	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, time.Second, 10*time.Millisecond)
}

func TestPassthrough(t *testing.T) {
	p := Passthrough{}
	got, err := p.GetFeed(context.Background(), "T1", func(context.Context) ([]*models.FeedEntry, error) {
		return []*models.FeedEntry{{AlertID: 1}}, nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, p.Invalidate(context.Background(), "T1"))
}

func TestNewFeedCache(t *testing.T) {
	c, err := NewFeedCache(&Config{})
	require.NoError(t, err)
	assert.IsType(t, &Passthrough{}, c)

	c, err = NewFeedCache(&Config{RedisURL: "redis://localhost:6379/2", TTL: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &RedisFeedCache{}, c)

	_, err = NewFeedCache(&Config{RedisURL: "not-a-redis-url"})
	assert.Error(t, err)
}
