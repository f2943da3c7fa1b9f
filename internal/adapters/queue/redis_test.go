package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/testutil"
)

func TestRedisQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := testutil.SetupTestRedis(t)
	defer client.Close()
	ctx := context.Background()

	q, err := NewRedisQueue(RedisQueueOptions{Client: client, Topic: model.TopicAnalytics, BlockTimeout: time.Second})
	require.NoError(t, err)

	t.Run("fifo and ack", func(t *testing.T) {
		require.NoError(t, q.Enqueue(ctx, msg("a")))
		require.NoError(t, q.Enqueue(ctx, msg("b")))

		first, derr := q.Dequeue(ctx)
		require.NoError(t, derr)
		assert.Equal(t, "a", first.JobID)
		require.NoError(t, q.Ack(ctx, "a"))

		second, derr := q.Dequeue(ctx)
		require.NoError(t, derr)
		assert.Equal(t, "b", second.JobID)
		require.NoError(t, q.Ack(ctx, "b"))

		ready, processing, lerr := q.Len(ctx)
		require.NoError(t, lerr)
		assert.Zero(t, ready)
		assert.Zero(t, processing)
	})

	t.Run("nack requeues at head", func(t *testing.T) {
		require.NoError(t, q.Enqueue(ctx, msg("c")))
		require.NoError(t, q.Enqueue(ctx, msg("d")))
		got, derr := q.Dequeue(ctx)
		require.NoError(t, derr)
		require.NoError(t, q.Nack(ctx, got.JobID, true))

		again, derr := q.Dequeue(ctx)
		require.NoError(t, derr)
		assert.Equal(t, "c", again.JobID)
		assert.Equal(t, 2, again.Deliveries)
		require.NoError(t, q.Ack(ctx, "c"))
		_, _ = q.Dequeue(ctx)
		require.NoError(t, q.Ack(ctx, "d"))
	})

	t.Run("recover orphaned deliveries", func(t *testing.T) {
		require.NoError(t, q.Enqueue(ctx, msg("e")))
		_, derr := q.Dequeue(ctx)
		require.NoError(t, derr)

		moved, rerr := q.Recover(ctx)
		require.NoError(t, rerr)
		assert.Equal(t, 1, moved)

		got, derr := q.Dequeue(ctx)
		require.NoError(t, derr)
		assert.Equal(t, "e", got.JobID)
		assert.Equal(t, 2, got.Deliveries)
		require.NoError(t, q.Ack(ctx, "e"))
	})

	t.Run("recover keeps delivery order", func(t *testing.T) {
		for _, id := range []string{"f", "g"} {
			require.NoError(t, q.Enqueue(ctx, msg(id)))
			_, derr := q.Dequeue(ctx)
			require.NoError(t, derr)
		}

		moved, rerr := q.Recover(ctx)
		require.NoError(t, rerr)
		assert.Equal(t, 2, moved)

		for _, want := range []string{"f", "g"} {
			got, derr := q.Dequeue(ctx)
			require.NoError(t, derr)
			assert.Equal(t, want, got.JobID)
			assert.Equal(t, 2, got.Deliveries)
			require.NoError(t, q.Ack(ctx, want))
		}
	})

	t.Run("dequeue honours context", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		defer cancel()
		_, derr := q.Dequeue(waitCtx)
		assert.ErrorIs(t, derr, context.DeadlineExceeded)
	})
}

func TestBumpDeliveries(t *testing.T) {
	t.Run("counts the interrupted delivery", func(t *testing.T) {
		raw, err := json.Marshal(model.QueueMessage{JobID: "h", Kind: model.JobKindDeriveArtifact, Deliveries: 1})
		require.NoError(t, err)

		out, err := bumpDeliveries(string(raw))
		require.NoError(t, err)
		var got model.QueueMessage
		require.NoError(t, json.Unmarshal(out, &got))
		assert.Equal(t, "h", got.JobID)
		assert.Equal(t, 2, got.Deliveries)
	})

	t.Run("undecodable entry is left alone", func(t *testing.T) {
		out, err := bumpDeliveries("not json")
		require.NoError(t, err)
		assert.Equal(t, "not json", string(out))
	})
}

func TestNewRedisQueue_BlockTimeoutFloor(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	q, err := NewRedisQueue(RedisQueueOptions{Client: client, Topic: model.TopicPipeline, BlockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, time.Second, q.blockTimeout)

	q, err = NewRedisQueue(RedisQueueOptions{Client: client, Topic: model.TopicPipeline})
	require.NoError(t, err)
	assert.Equal(t, defaultBlockTimeout, q.blockTimeout)
}
