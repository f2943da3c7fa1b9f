package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/pgxutil"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/job"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// Advisory lock namespace for requeueing expired leases; the minor key is derived from the topic.
const advisoryLockRequeueMajor = 1001

const defaultPollInterval = 5 * time.Second

const reserveSQL = `
  WITH cte AS (
    SELECT job_id FROM task_queue
    WHERE topic = $1 AND state = 'ready'
    ORDER BY enqueued_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE task_queue q
  SET state = 'leased',
      deliveries = q.deliveries + 1,
      lease_expires_at = $2
  FROM cte
  WHERE q.job_id = cte.job_id
  RETURNING q.job_id, q.kind, q.subject_id, q.enqueued_at, q.deliveries`

// PostgresQueueOptions configures a PostgresQueue.
type PostgresQueueOptions struct {
	DB    *sql.DB
	Topic model.QueueTopic
	// Lease bounds how long a delivery stays invisible without a heartbeat.
	Lease        time.Duration
	Notifier     job.Notifier
	PollInterval time.Duration
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// PostgresQueue stores deliveries in the task_queue table. Workers reserve rows with
// SKIP LOCKED and are woken by LISTEN/NOTIFY on queue_<topic>.
type PostgresQueue struct {
	db           *sql.DB
	topic        model.QueueTopic
	leasePolicy  *job.LeasePolicy
	notifier     job.Notifier
	pollInterval time.Duration
	clock        data.TimeProvider
	logger       *slog.Logger
}

// NewPostgresQueue creates a PostgresQueue.
func NewPostgresQueue(opts PostgresQueueOptions) (*PostgresQueue, error) {
	if opts.DB == nil {
		return nil, errors.New("postgres queue: db is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("postgres queue: topic is required")
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	policy, err := job.NewLeasePolicy(lease)
	if err != nil {
		return nil, fmt.Errorf("postgres queue: %w", err)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQueue{
		db:           opts.DB,
		topic:        opts.Topic,
		leasePolicy:  policy,
		notifier:     opts.Notifier,
		pollInterval: poll,
		clock:        clock,
		logger:       logger.With("component", "postgres_queue", "topic", opts.Topic),
	}, nil
}

// Topic returns the topic this queue carries.
func (q *PostgresQueue) Topic() model.QueueTopic { return q.topic }

// ChannelName returns the NOTIFY channel for topic.
func ChannelName(topic model.QueueTopic) string {
	return "queue_" + string(topic)
}

// Enqueue inserts msg as ready and notifies listeners in the same transaction.
// Re-enqueueing a job that already has a row resets it to ready.
func (q *PostgresQueue) Enqueue(ctx context.Context, msg model.QueueMessage) error {
	enqueuedAt := msg.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = q.clock.Now()
	}
	err := pgxutil.WithSQLTx(ctx, q.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_queue (job_id, topic, kind, subject_id, state, deliveries, enqueued_at)
				VALUES ($1, $2, $3, $4, 'ready', $5, $6)
				ON CONFLICT (job_id) DO UPDATE
				SET state = 'ready', lease_expires_at = NULL
			`, msg.JobID, string(q.topic), string(msg.Kind), msg.SubjectID, msg.Deliveries, enqueuedAt.UTC()); err != nil {
				return fmt.Errorf("insert queue row: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`,
				ChannelName(q.topic), msg.JobID); err != nil {
				return fmt.Errorf("send queue notification: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue reserves the oldest ready message, blocking on notifications when the table is empty.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*model.QueueMessage, error) {
	var wake <-chan struct{}
	if q.notifier != nil {
		unsubscribe, ch := q.notifier.Subscribe(q.topic)
		defer unsubscribe()
		wake = ch
	}

	for {
		msg, err := q.tryReserve(ctx)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case _, ok := <-wake:
			timer.Stop()
			if !ok {
				wake = nil
			}
		case <-timer.C:
		}
	}
}

func (q *PostgresQueue) tryReserve(ctx context.Context) (*model.QueueMessage, error) {
	if n, err := q.requeueExpired(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired leases: %w", err)
	} else if n > 0 {
		q.logger.InfoContext(ctx, "requeued expired leases", "count", n)
	}

	decision := q.leasePolicy.Resolve(0)
	var msg *model.QueueMessage
	err := pgxutil.WithPgxTx(ctx, q.db, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			leaseExpiresAt := q.clock.Now().Add(decision.Duration()).UTC()
			rows, qerr := tx.Query(ctx, reserveSQL, string(q.topic), leaseExpiresAt)
			if qerr != nil {
				return fmt.Errorf("reserve queue row: %w", qerr)
			}
			defer rows.Close()
			if !rows.Next() {
				if rowsErr := rows.Err(); rowsErr != nil {
					return rowsErr
				}
				return model.ErrNoJobsAvailable
			}
			m := &model.QueueMessage{}
			if scanErr := rows.Scan(&m.JobID, &m.Kind, &m.SubjectID, &m.EnqueuedAt, &m.Deliveries); scanErr != nil {
				return fmt.Errorf("scan queue row: %w", scanErr)
			}
			m.EnqueuedAt = m.EnqueuedAt.UTC()
			msg = m
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	q.logger.DebugContext(ctx, "queue message reserved", "job_id", msg.JobID, "lease_seconds", decision.Seconds)
	return msg, nil
}

func topicLockKey(topic model.QueueTopic) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int32(h.Sum32() & 0x7fffffff)
}

// requeueExpired returns leased rows past their deadline to ready. Only one instance per topic
// does the sweep at a time.
func (q *PostgresQueue) requeueExpired(ctx context.Context) (int64, error) {
	var affected int64
	err := pgxutil.WithSQLTx(ctx, q.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockRequeueMajor, topicLockKey(q.topic)).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE task_queue
				SET state = 'ready', lease_expires_at = NULL
				WHERE topic = $1 AND state = 'leased'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $2
			`, string(q.topic), q.clock.Now().UTC())
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		},
	})
	return affected, err
}

// Ack removes the delivery.
func (q *PostgresQueue) Ack(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM task_queue WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("ack %s: %w", jobID, err)
	}
	return nil
}

// Nack releases the delivery. Requeued rows keep their original enqueue time, so they are served first.
func (q *PostgresQueue) Nack(ctx context.Context, jobID string, requeue bool) error {
	if !requeue {
		return q.Ack(ctx, jobID)
	}
	err := pgxutil.WithSQLTx(ctx, q.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				UPDATE task_queue SET state = 'ready', lease_expires_at = NULL
				WHERE job_id = $1 AND state = 'leased'
			`, jobID); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, ChannelName(q.topic), jobID)
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("nack %s: %w", jobID, err)
	}
	return nil
}

// Heartbeat extends the lease on a delivery still held by this worker.
func (q *PostgresQueue) Heartbeat(ctx context.Context, jobID string, lease time.Duration) (bool, error) {
	decision := q.leasePolicy.Resolve(lease)
	if decision.Clamped() {
		q.logger.DebugContext(ctx, "clamped heartbeat lease", "requested_duration", decision.Requested, "job_id", jobID)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE task_queue SET lease_expires_at = $2
		WHERE job_id = $1 AND state = 'leased'
	`, jobID, q.clock.Now().Add(decision.Duration()).UTC())
	if err != nil {
		return false, fmt.Errorf("heartbeat %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// WaitForNotification blocks until a NOTIFY arrives on the topic's channel.
func (q *PostgresQueue) WaitForNotification(ctx context.Context, topic model.QueueTopic) error {
	return WaitForNotification(ctx, q.db, topic)
}

// PGWaiter adapts a database handle to job.Waiter.
type PGWaiter struct{ DB *sql.DB }

// WaitForNotification implements job.Waiter.
func (w PGWaiter) WaitForNotification(ctx context.Context, topic model.QueueTopic) error {
	return WaitForNotification(ctx, w.DB, topic)
}

// WaitForNotification listens on queue_<topic> over a dedicated pooled connection.
func WaitForNotification(ctx context.Context, db *sql.DB, topic model.QueueTopic) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := ChannelName(topic)
	quoted := pgx.Identifier{channel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

var (
	_ core.TaskQueue        = (*PostgresQueue)(nil)
	_ core.QueueHeartbeater = (*PostgresQueue)(nil)
	_ job.Waiter            = PGWaiter{}
)
