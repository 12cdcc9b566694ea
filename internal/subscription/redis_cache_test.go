package subscription

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/lumina/internal/models"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	cache := NewRedisCache(client, time.Minute)
	userID := uuid.NewString()

	_, found, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.False(t, found)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, cache.Set(ctx, &models.Subscription{
		UserID: userID, Plan: "pro", Status: models.SubscriptionActive, ExpiresAt: &expires,
	}))

	got, found, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "pro", got.Plan)
	require.True(t, expires.Equal(*got.ExpiresAt))

	require.NoError(t, cache.Invalidate(ctx, userID))
	_, found, err = cache.Get(ctx, userID)
	require.NoError(t, err)
	require.False(t, found)
}
