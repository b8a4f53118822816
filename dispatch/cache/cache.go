// Package cache holds the per-tenant alert feed for the dispatch console.
// Entries live for one scan interval and are dropped whenever a scan or a
// report submission changes the tenant's alerts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/dispatch/models"
	"github.com/carecoord/welfare-dispatch/log"
)

const (
	keyPrefix        = "welfare-dispatch:feed:"
	generationPrefix = "welfare-dispatch:feedgen:"

	// loadTimeout bounds a shared load once it no longer follows any single caller.
	loadTimeout = 30 * time.Second
)

type LoadFunc func(ctx context.Context) ([]*models.FeedEntry, error)

type FeedCache interface {
	GetFeed(ctx context.Context, tenantID string, load LoadFunc) ([]*models.FeedEntry, error)
	Invalidate(ctx context.Context, tenantID string) error
}

type Config struct {
	RedisURL string        `conf:"REDIS_URL"`
	TTL      time.Duration `conf:"FEED_CACHE_TTL" conf_default:"2m"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewFeedCache connects to Redis when REDIS_URL is set. Without it every read goes to the store.
func NewFeedCache(cfg *Config) (FeedCache, error) {
	if cfg.RedisURL == "" {
		log.API.Info("No REDIS_URL configured, alert feed will not be cached")
		return &Passthrough{}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisFeedCache(redis.NewClient(opts), cfg.TTL), nil
}

func generationKey(tenantID string) string {
	return generationPrefix + tenantID
}

func key(tenantID, generation string) string {
	return keyPrefix + tenantID + ":" + generation
}

// RedisFeedCache is a read-through cache. Concurrent misses for the same
// tenant share a single load. Redis failures degrade to reading the store.
//
// Feeds are stored under the tenant's current generation. Invalidate bumps the
// generation, so a load that started before an invalidation writes to a key no
// reader will look up again.
type RedisFeedCache struct {
	client redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger logrus.FieldLogger
}

func NewRedisFeedCache(client redis.Cmdable, ttl time.Duration) *RedisFeedCache {
	return &RedisFeedCache{client: client, ttl: ttl, logger: log.API}
}

func (c *RedisFeedCache) GetFeed(ctx context.Context, tenantID string, load LoadFunc) ([]*models.FeedEntry, error) {
	generation, err := c.generation(ctx, tenantID)
	if err != nil {
		c.logger.WithField("tenant_id", tenantID).Warnf("Failed to read feed cache generation %s", err.Error())
		return load(ctx)
	}

	k := key(tenantID, generation)
	ch := c.group.DoChan(k, func() (interface{}, error) {
		// Waiters share this load, so it must outlive the caller that started it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		if feed, ok := c.get(lctx, k); ok {
			return feed, nil
		}

		feed, err := load(lctx)
		if err != nil {
			return nil, err
		}
		c.set(lctx, k, feed)
		return feed, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*models.FeedEntry), nil
	}
}

func (c *RedisFeedCache) generation(ctx context.Context, tenantID string) (string, error) {
	val, err := c.client.Get(ctx, generationKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return val, err
}

func (c *RedisFeedCache) get(ctx context.Context, k string) ([]*models.FeedEntry, bool) {
	val, err := c.client.Get(ctx, k).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithField("cache_key", k).Warnf("Failed to read feed cache %s", err.Error())
		}
		return nil, false
	}

	var feed []*models.FeedEntry
	if err = json.Unmarshal([]byte(val), &feed); err != nil {
		c.logger.WithField("cache_key", k).Warnf("Discarding malformed feed cache entry %s", err.Error())
		return nil, false
	}
	return feed, true
}

func (c *RedisFeedCache) set(ctx context.Context, k string, feed []*models.FeedEntry) {
	if feed == nil {
		feed = []*models.FeedEntry{}
	}
	payload, err := json.Marshal(feed)
	if err != nil {
		c.logger.WithField("cache_key", k).Warnf("Failed to encode feed %s", err.Error())
		return
	}
	if err = c.client.Set(ctx, k, string(payload), c.ttl).Err(); err != nil {
		c.logger.WithField("cache_key", k).Warnf("Failed to write feed cache %s", err.Error())
	}
}

// Invalidate moves the tenant to a new generation. Entries of older
// generations expire on their own.
func (c *RedisFeedCache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Incr(ctx, generationKey(tenantID)).Err()
}

// Passthrough always loads from the store.
type Passthrough struct{}

func (Passthrough) GetFeed(ctx context.Context, _ string, load LoadFunc) ([]*models.FeedEntry, error) {
	return load(ctx)
}

func (Passthrough) Invalidate(context.Context, string) error {
	return nil
}
