package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

const (
	defaultBlockTimeout = 5 * time.Second
	// minBlockTimeout is the smallest BLMOVE timeout redis accepts without rounding.
	minBlockTimeout = time.Second
	recoverRetries  = 5
)

// RedisQueueOptions configures a RedisQueue.
type RedisQueueOptions struct {
	Client redis.UniversalClient
	Topic  model.QueueTopic
	// Prefix namespaces the keys. Defaults to "triton:queue".
	Prefix string
	// BlockTimeout bounds each BLMOVE so ctx cancellation is observed. Values under one
	// second are raised to one second.
	BlockTimeout time.Duration
	Logger       *slog.Logger
}

// RedisQueue keeps ready and processing lists per topic. A delivery moves atomically from
// ready to processing with BLMOVE; the raw entry is remembered in a hash so Ack can LREM it.
// All keys share the {topic} hash tag so MULTI works in cluster mode.
type RedisQueue struct {
	client       redis.UniversalClient
	topic        model.QueueTopic
	readyKey     string
	processing   string
	entriesKey   string
	blockTimeout time.Duration
	logger       *slog.Logger
}

// NewRedisQueue creates a RedisQueue.
func NewRedisQueue(opts RedisQueueOptions) (*RedisQueue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis queue: client is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("redis queue: topic is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "triton:queue"
	}
	block := opts.BlockTimeout
	switch {
	case block <= 0:
		block = defaultBlockTimeout
	case block < minBlockTimeout:
		block = minBlockTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := fmt.Sprintf("%s:{%s}", prefix, opts.Topic)
	return &RedisQueue{
		client:       opts.Client,
		topic:        opts.Topic,
		readyKey:     base + ":ready",
		processing:   base + ":processing",
		entriesKey:   base + ":entries",
		blockTimeout: block,
		logger:       logger.With("component", "redis_queue", "topic", opts.Topic),
	}, nil
}

// Topic returns the topic this queue carries.
func (q *RedisQueue) Topic() model.QueueTopic { return q.topic }

// Enqueue pushes msg onto the ready list. Entries are popped from the right, so LPUSH is FIFO.
func (q *RedisQueue) Enqueue(ctx context.Context, msg model.QueueMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue blocks until an entry can be moved to the processing list or ctx is done.
func (q *RedisQueue) Dequeue(ctx context.Context) (*model.QueueMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := q.client.BLMove(ctx, q.readyKey, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("blmove %s: %w", q.readyKey, err)
		}

		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			q.logger.WarnContext(ctx, "dropping undecodable queue entry", "error", err)
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			continue
		}
		msg.Deliveries++
		if err := q.client.HSet(ctx, q.entriesKey, msg.JobID, raw).Err(); err != nil {
			return nil, fmt.Errorf("track delivery %s: %w", msg.JobID, err)
		}
		return &msg, nil
	}
}

// Ack removes the delivery from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.release(ctx, jobID, false)
}

// Nack removes the delivery and, when requeue is set, puts it at the head of the ready list.
func (q *RedisQueue) Nack(ctx context.Context, jobID string, requeue bool) error {
	return q.release(ctx, jobID, requeue)
}

func (q *RedisQueue) release(ctx context.Context, jobID string, requeue bool) error {
	raw, err := q.client.HGet(ctx, q.entriesKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup delivery %s: %w", jobID, err)
	}

	var requeued []byte
	if requeue {
		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return fmt.Errorf("decode delivery %s: %w", jobID, err)
		}
		msg.Deliveries++
		if requeued, err = json.Marshal(msg); err != nil {
			return fmt.Errorf("encode delivery %s: %w", jobID, err)
		}
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, raw)
		pipe.HDel(ctx, q.entriesKey, jobID)
		if requeue {
			pipe.RPush(ctx, q.readyKey, requeued)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release delivery %s: %w", jobID, err)
	}
	return nil
}

// Recover moves every entry left in the processing list back to the front of ready and
// counts the interrupted delivery, so the next worker resumes the job instead of skipping
// it. Call it before workers start; entries there belong to a process that died
// mid-delivery.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		ok, err := q.recoverOne(ctx)
		if err != nil {
			return moved, fmt.Errorf("recover %s: %w", q.processing, err)
		}
		if !ok {
			break
		}
		moved++
	}
	if err := q.client.Del(ctx, q.entriesKey).Err(); err != nil {
		return moved, fmt.Errorf("clear delivery index: %w", err)
	}
	if moved > 0 {
		q.logger.InfoContext(ctx, "recovered orphaned deliveries", "count", moved)
	}
	return moved, nil
}

// recoverOne requeues the newest processing entry under WATCH. It reports false once the
// processing list is empty.
func (q *RedisQueue) recoverOne(ctx context.Context) (bool, error) {
	var found bool
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LIndex(ctx, q.processing, 0).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		requeued, err := bumpDeliveries(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.RPush(ctx, q.readyKey, requeued)
			return nil
		})
		found = err == nil
		return err
	}

	for range recoverRetries {
		err := q.client.Watch(ctx, txf, q.processing)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return found, err
	}
	return false, fmt.Errorf("processing list kept changing after %d attempts", recoverRetries)
}

// bumpDeliveries re-encodes raw with one more delivery. Undecodable entries are returned
// unchanged; Dequeue drops them.
func bumpDeliveries(raw string) ([]byte, error) {
	var msg model.QueueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return []byte(raw), nil
	}
	msg.Deliveries++
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode delivery %s: %w", msg.JobID, err)
	}
	return out, nil
}

// Len reports ready and processing counts.
func (q *RedisQueue) Len(ctx context.Context) (ready, processing int64, err error) {
	cmds, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LLen(ctx, q.readyKey)
		pipe.LLen(ctx, q.processing)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("queue length: %w", err)
	}
	return cmds[0].(*redis.IntCmd).Val(), cmds[1].(*redis.IntCmd).Val(), nil
}

var _ core.TaskQueue = (*RedisQueue)(nil)
