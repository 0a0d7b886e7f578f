package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds notifications per recipient. Redis-backed; fails open
// when Redis is absent so a cache outage never stalls the pipeline.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Check returns an error when recipient exceeded maxSends in window.
func (rl *RateLimiter) Check(ctx context.Context, recipient string, maxSends int, window time.Duration) error {
	if rl.client == nil {
		return nil
	}

	key := fmt.Sprintf("ratelimit:notify:%s", recipient)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		// fail open on redis errors
		return nil
	}

	if count == 1 {
		rl.client.Expire(ctx, key, window)
	}

	if count > int64(maxSends) {
		return fmt.Errorf("rate limit exceeded: %d sends in %v", maxSends, window)
	}

	return nil
}
