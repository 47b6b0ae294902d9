package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncup/otpgate/internal/ratelimit"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return client, mr
}

func TestRedisAllow(t *testing.T) {
	t.Run("allows exactly up to the limit", func(t *testing.T) {
		client, _ := newTestRedis(t)
		rl := ratelimit.NewRedis(client, "otp_request", 3, time.Minute)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			d, err := rl.Allow(ctx, "1.2.3.4")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "request %d should be allowed", i+1)
			assert.Equal(t, 2-i, d.Remaining)
			assert.Equal(t, 3, d.Limit)
		}

		d, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.WithinDuration(t, time.Now().Add(time.Minute), d.Reset, 2*time.Second)
	})

	t.Run("keys are independent and prefixed", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := ratelimit.NewRedis(client, "otp_check", 1, time.Minute)
		ctx := context.Background()

		d, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = rl.Allow(ctx, "5.6.7.8")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		assert.True(t, mr.Exists("otp_check:1.2.3.4"))
		assert.True(t, mr.Exists("otp_check:5.6.7.8"))
	})

	t.Run("window resets after TTL", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := ratelimit.NewRedis(client, "otp_request", 1, time.Minute)
		ctx := context.Background()

		_, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		d, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		mr.FastForward(61 * time.Second)

		d, err = rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("returns error when redis is down", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := ratelimit.NewRedis(client, "otp_request", 1, time.Minute)
		mr.Close()

		_, err := rl.Allow(context.Background(), "1.2.3.4")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limit")
	})
}
