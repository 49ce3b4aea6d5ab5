//go:build integration

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	dpool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "docker:", err)
		os.Exit(1)
	}
	dpool.MaxWait = time.Minute

	res, err := dpool.RunWithOptions(&dockertest.RunOptions{Repository: "redis", Tag: "7-alpine"},
		func(hc *docker.HostConfig) {
			hc.AutoRemove = true
			hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
		})
	if err != nil {
		fmt.Fprintln(os.Stderr, "run redis:", err)
		os.Exit(1)
	}
	_ = res.Expire(120)

	testRedis = redis.NewClient(&redis.Options{Addr: "localhost:" + res.GetPort("6379/tcp")})
	if err := dpool.Retry(func() error { return testRedis.Ping(context.Background()).Err() }); err != nil {
		fmt.Fprintln(os.Stderr, "redis not ready:", err)
		_ = dpool.Purge(res)
		os.Exit(1)
	}

	code := m.Run()
	_ = testRedis.Close()
	_ = dpool.Purge(res)
	os.Exit(code)
}

// newTestQueue isolates every test under its own key prefix.
func newTestQueue(t *testing.T) (*redisPriorityQueue, *time.Time) {
	t.Helper()
	prefix := "test:" + t.Name()
	low, normal, high := Lanes(prefix+":queue", prefix+":processing")
	q := NewRedisPriorityQueue(testRedis, QueueConfig{
		ProcessingMapKey: prefix + ":processing:map",
		LeaseKey:         prefix + ":leases",
		LeaseTTL:         time.Minute,
		Low:              low,
		Normal:           normal,
		High:             high,
	}).(*redisPriorityQueue)

	clock := time.Now()
	q.now = func() time.Time { return clock }
	return q, &clock
}

func TestQueue_ClaimRespectsPriority(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "low-1", 0))
	require.NoError(t, q.Enqueue(ctx, "normal-1", 1))
	require.NoError(t, q.Enqueue(ctx, "high-1", 2))
	require.NoError(t, q.Enqueue(ctx, "normal-2", 7)) // clamped to high lane

	var got []string
	for range 4 {
		id, err := q.ClaimBlocking(ctx, time.Second)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"high-1", "normal-2", "normal-1", "low-1"}, got)

	_, err := q.ClaimBlocking(ctx, 200*time.Millisecond)
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestQueue_AckClearsClaim(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "job-1", 1))
	id, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)

	assert.EqualValues(t, 1, testRedis.LLen(ctx, q.cfg.Normal.ProcessingKey).Val())
	assert.EqualValues(t, 1, testRedis.ZCard(ctx, q.cfg.LeaseKey).Val())

	require.NoError(t, q.Ack(ctx, id))
	assert.Zero(t, testRedis.LLen(ctx, q.cfg.Normal.ProcessingKey).Val())
	assert.Zero(t, testRedis.ZCard(ctx, q.cfg.LeaseKey).Val())
	assert.Zero(t, testRedis.HLen(ctx, q.cfg.ProcessingMapKey).Val())

	assert.ErrorIs(t, q.Heartbeat(ctx, id), ErrLeaseLost)
}

func TestQueue_RequeueOnlyExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "stuck", 0))
	require.NoError(t, q.Enqueue(ctx, "alive", 2))
	alive, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "alive", alive)
	stuck, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "stuck", stuck)

	moved, err := q.RequeueExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, moved, "leases are still valid")

	*clock = clock.Add(45 * time.Second)
	require.NoError(t, q.Heartbeat(ctx, alive))

	*clock = clock.Add(30 * time.Second)
	moved, err = q.RequeueExpired(ctx, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	// the stuck job is back in its own lane, the alive one still claimed
	assert.Equal(t, []string{"stuck"}, testRedis.LRange(ctx, q.cfg.Low.QueueKey, 0, -1).Val())
	assert.Equal(t, []string{"alive"}, testRedis.LRange(ctx, q.cfg.High.ProcessingKey, 0, -1).Val())
	assert.ErrorIs(t, q.Heartbeat(ctx, stuck), ErrLeaseLost)

	again, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stuck", again)
}
