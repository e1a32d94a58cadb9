package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-pipeline/internal/common/config"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
)

// RateLimiter caps notifications per (recipient, trigger) with a Redis
// fixed-window counter. It fails open when Redis is unavailable.
type RateLimiter struct {
	redis  *redis.Client
	limits map[string]config.RateLimitConfig
	now    func() time.Time
	logger logger.Logger
}

func NewRateLimiter(rdb *redis.Client, limits map[string]config.RateLimitConfig, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  rdb,
		limits: limits,
		now:    time.Now,
		logger: logger.ForComponent(log, "rate-limiter"),
	}
}

func windowKey(username, trigger string, window int64) string {
	return fmt.Sprintf("notification:ratelimit:%s:%s:%d", username, trigger, window)
}

func (r *RateLimiter) Allow(ctx context.Context, username, trigger string, priority models.Priority) bool {
	if r == nil || priority == models.PriorityCritical {
		return true
	}
	limit, ok := r.limits[trigger]
	if !ok || limit.Max <= 0 {
		return true
	}
	period, err := config.PeriodDuration(limit.Period)
	if err != nil {
		return true
	}

	key := windowKey(username, trigger, r.now().Unix()/int64(period/time.Second))
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Warn("Rate limit check failed, allowing", map[string]interface{}{
			"username": username,
			"trigger":  trigger,
			"error":    err.Error(),
		})
		return true
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, period).Err(); err != nil {
			r.logger.Warn("Failed to set rate limit window expiry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
	return count <= int64(limit.Max)
}
