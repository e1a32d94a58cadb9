package dispatcher

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"

	"notification-pipeline/internal/common/config"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/models"
)

func TestRateLimiter_Allow(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(rdb, map[string]config.RateLimitConfig{
		"favorited": {Max: 2, Period: "hourly"},
	}, logger.NewTestLogger(t))
	limiter.now = func() time.Time { return time.Unix(7200+30, 0) }

	ctx := context.Background()
	key := "notification:ratelimit:alice:favorited:2"

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Hour).SetVal(true)
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectIncr(key).SetVal(3)
	mock.ExpectIncr(key).SetErr(stderrors.New("connection refused"))

	assert.True(t, limiter.Allow(ctx, "alice", "favorited", models.PriorityMedium))
	assert.True(t, limiter.Allow(ctx, "alice", "favorited", models.PriorityMedium))
	assert.False(t, limiter.Allow(ctx, "alice", "favorited", models.PriorityMedium))
	assert.True(t, limiter.Allow(ctx, "alice", "favorited", models.PriorityMedium), "fails open")

	// no commands expected for these
	assert.True(t, limiter.Allow(ctx, "alice", "favorited", models.PriorityCritical))
	assert.True(t, limiter.Allow(ctx, "alice", "new_message", models.PriorityHigh))

	assert.NoError(t, mock.ExpectationsWereMet())
}
