//go:build integration

package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

// The Redis store must honor the same sliding-window contract the memory
// store is unit-tested against.

func TestRedisStoreAllowsUpToLimit(t *testing.T) {
	client := setupRedis(t)
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	s := NewRedisStore(client, 10, 15*time.Minute, WithRedisClock(clock.Now))
	key := Key("10.0.0.1", "an@example.com")

	for i := 0; i < 10; i++ {
		d, err := s.Allow(context.Background(), key)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should pass", i+1)
		clock.Advance(30 * time.Second)
	}

	d, err := s.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfterSec(), 0)
}

func TestRedisStoreRetryAfterTracksOldestAttempt(t *testing.T) {
	client := setupRedis(t)
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	s := NewRedisStore(client, 10, 15*time.Minute, WithRedisClock(clock.Now))
	key := Key("10.0.0.1", "an@example.com")

	for i := 0; i < 10; i++ {
		_, err := s.Allow(context.Background(), key)
		require.NoError(t, err)
	}

	// 5 minutes in: the oldest attempt expires 10 minutes from now. Scores
	// round-trip through float64, so allow sub-second slack.
	clock.Advance(5 * time.Minute)
	d, err := s.Allow(context.Background(), key)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.InDelta(t, (10 * time.Minute).Seconds(), d.RetryAfter.Seconds(), 1)
	assert.GreaterOrEqual(t, d.RetryAfterSec(), 599)
	assert.LessOrEqual(t, d.RetryAfterSec(), 601)
}

func TestRedisStoreWindowElapses(t *testing.T) {
	client := setupRedis(t)
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	s := NewRedisStore(client, 10, 15*time.Minute, WithRedisClock(clock.Now))
	key := Key("10.0.0.1", "an@example.com")

	for i := 0; i < 10; i++ {
		_, err := s.Allow(context.Background(), key)
		require.NoError(t, err)
	}
	d, err := s.Allow(context.Background(), key)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock.Advance(15*time.Minute + time.Second)
	d, err = s.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "expired scores are trimmed and a fresh window admits attempts")
}

func TestRedisStoreKeysAreIndependent(t *testing.T) {
	client := setupRedis(t)
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	s := NewRedisStore(client, 10, 15*time.Minute, WithRedisClock(clock.Now))

	for i := 0; i < 10; i++ {
		_, err := s.Allow(context.Background(), Key("10.0.0.1", "an@example.com"))
		require.NoError(t, err)
	}
	d, err := s.Allow(context.Background(), Key("10.0.0.1", "an@example.com"))
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = s.Allow(context.Background(), Key("10.0.0.1", "binh@example.com"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = s.Allow(context.Background(), Key("10.0.0.2", "an@example.com"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisStoreKeysExpire(t *testing.T) {
	client := setupRedis(t)
	s := NewRedisStore(client, 10, 15*time.Minute)
	key := Key("10.0.0.1", "an@example.com")

	_, err := s.Allow(context.Background(), key)
	require.NoError(t, err)

	// Idle keys must carry a TTL so they vanish without a sweeper.
	ttl, err := client.TTL(context.Background(), s.prefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 15*time.Minute)
}
