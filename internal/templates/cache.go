package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
)

// tombstone marks a cached miss
const tombstone = "-"

// CachedStore is a read-through Redis cache in front of a Finder. Misses are
// cached as tombstones so a disabled template does not hit Postgres every tick.
// Redis failures fall through to the store.
type CachedStore struct {
	store  Finder
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(store Finder, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	return &CachedStore{
		store:  store,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.ForComponent(log, "template-cache"),
	}
}

func cacheKey(trigger string, channel models.Channel) string {
	return fmt.Sprintf("notification:template:%s:%s", trigger, channel)
}

func (c *CachedStore) Find(ctx context.Context, trigger string, channel models.Channel) (*models.Template, error) {
	key := cacheKey(trigger, channel)

	val, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil && val == tombstone:
		return nil, errors.NewTemplateNotFoundError(trigger, string(channel))
	case err == nil:
		var t models.Template
		if jsonErr := json.Unmarshal([]byte(val), &t); jsonErr == nil {
			return &t, nil
		}
	case err != redis.Nil:
		c.logger.Warn("Template cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	t, err := c.store.Find(ctx, trigger, channel)
	if err != nil {
		if errors.Is(err, errors.ErrCodeTemplateNotFound) {
			c.set(ctx, key, tombstone)
		}
		return nil, err
	}

	data, _ := json.Marshal(t)
	c.set(ctx, key, string(data))
	return t, nil
}

// Invalidate drops the cached entry for (trigger, channel).
func (c *CachedStore) Invalidate(ctx context.Context, trigger string, channel models.Channel) error {
	return c.redis.Del(ctx, cacheKey(trigger, channel)).Err()
}

func (c *CachedStore) set(ctx context.Context, key, value string) {
	if err := c.redis.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("Template cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}
