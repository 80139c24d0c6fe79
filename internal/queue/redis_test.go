package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisWaker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rdb := setupRedis(t)
	ctx := context.Background()
	w := NewRedisWaker(rdb, "reel:test:jobs")

	woken, err := w.Wait(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, woken)

	require.NoError(t, w.Notify(ctx, "job-1"))
	woken, err = w.Wait(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, woken)

	for i := 0; i < doorbellLimit+50; i++ {
		require.NoError(t, w.Notify(ctx, "flood"))
	}
	n, err := rdb.LLen(ctx, "reel:test:jobs").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(doorbellLimit), n)

	canceled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.NoError(t, rdb.Del(ctx, "reel:test:jobs").Err())
	_, err = w.Wait(canceled, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
