package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/config"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	r, err := NewRedis(config.RedisConfig{
		Addr:         mr.Addr(),
		StreamPrefix: "myroom",
		Block:        50 * time.Millisecond,
	}, testBindings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func streamLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()
	n, err := c.XLen(context.Background(), key).Result()
	require.NoError(t, err)
	return int(n)
}

func TestRedis_PublishRoutes(t *testing.T) {
	r, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, "model3d.upload", []byte(`{"catalog_id":1}`)))
	require.NoError(t, r.Publish(ctx, "model3d.delete", []byte(`{"catalog_ids":[1]}`)))

	assert.Equal(t, 1, streamLen(t, mr, "myroom:upload.queue"))
	assert.Equal(t, 2, streamLen(t, mr, "myroom:audit.queue"))
}

func TestRedis_ConsumeAck(t *testing.T) {
	r, _ := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Publish(ctx, "model3d.upload", []byte("first")))
	deliveries, err := r.Consume(ctx, "upload.queue")
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, []byte("first"), d.Body)
	assert.Equal(t, "model3d.upload", d.RoutingKey)
	assert.Equal(t, "upload.queue", d.Queue)
	assert.False(t, d.Redelivered)

	require.NoError(t, r.Publish(ctx, "model3d.upload", []byte("second")))
	assertNoDelivery(t, deliveries)

	require.NoError(t, d.Ack(ctx))
	d = receive(t, deliveries)
	assert.Equal(t, []byte("second"), d.Body)
	require.NoError(t, d.Ack(ctx))
}

func TestRedis_RequeueAndDeadLetter(t *testing.T) {
	r, mr := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Publish(ctx, "model3d.upload", []byte("flaky")))
	deliveries, err := r.Consume(ctx, "upload.queue")
	require.NoError(t, err)

	d := receive(t, deliveries)
	require.NoError(t, d.Reject(ctx, true))

	d = receive(t, deliveries)
	assert.True(t, d.Redelivered)
	assert.Equal(t, []byte("flaky"), d.Body)
	require.NoError(t, d.Reject(ctx, false))

	assert.Equal(t, 1, streamLen(t, mr, "myroom:upload.queue:dead"))
}

func TestRedis_StreamKey(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{}), config.RedisConfig{}, nil, nil)
	defer r.Close()
	assert.Equal(t, "q", r.StreamKey("q"))
}
