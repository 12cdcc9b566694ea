package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wuwenbin0122/lumina/internal/models"
)

const cacheKeyPrefix = "lumina:subscription:"

// cachedSubscription never carries an active flag; activity is re-evaluated
// against the clock on every read.
type cachedSubscription struct {
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*models.Subscription, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get subscription: %w", err)
	}

	var cached cachedSubscription
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false, fmt.Errorf("decode cached subscription: %w", err)
	}

	return &models.Subscription{
		UserID:    userID,
		Plan:      cached.Plan,
		Status:    models.SubscriptionStatus(cached.Status),
		ExpiresAt: cached.ExpiresAt,
		UpdatedAt: cached.UpdatedAt,
	}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, sub *models.Subscription) error {
	payload, err := json.Marshal(cachedSubscription{
		Plan:      sub.Plan,
		Status:    string(sub.Status),
		ExpiresAt: sub.ExpiresAt,
		UpdatedAt: sub.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+sub.UserID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set subscription: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis del subscription: %w", err)
	}
	return nil
}
