package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 2 * time.Second
	defaultPollTimeout = 2 * time.Second
)

// Move every due job from the delayed zset back onto the waiting list.
// ARGV[1] is the current time in unix milliseconds, ARGV[2] the job-hash key
// prefix.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
	redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
end
return #due
`)

// RedisQueue is a durable at-least-once job queue: waiting and active lists,
// a delayed zset for backoff scheduling, a dead-letter list, and one hash per
// job carrying payload and state.
type RedisQueue struct {
	client      *redis.Client
	name        string
	maxAttempts int
	backoffBase time.Duration
	pollTimeout time.Duration
	logger      *zap.Logger
}

type Option func(*RedisQueue)

// WithRetryPolicy overrides the delivery attempt budget and backoff base.
func WithRetryPolicy(maxAttempts int, backoffBase time.Duration) Option {
	return func(q *RedisQueue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		if backoffBase > 0 {
			q.backoffBase = backoffBase
		}
	}
}

// WithPollTimeout overrides how long Dequeue blocks waiting for a job.
func WithPollTimeout(d time.Duration) Option {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollTimeout = d
		}
	}
}

func NewRedisQueue(client *redis.Client, name string, logger *zap.Logger, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client:      client,
		name:        name,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		pollTimeout: defaultPollTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) key(suffix string) string    { return q.name + ":" + suffix }
func (q *RedisQueue) jobKey(jobID string) string  { return q.name + ":job:" + jobID }
func (q *RedisQueue) jobKeyPrefix() string        { return q.name + ":job:" }

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.ReservationJob) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	jobID := uuid.NewString()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(jobID),
			"payload", payload,
			"state", string(domain.JobStateWaiting),
			"attempts", 0,
			"enqueued_at", time.Now().UnixMilli(),
		)
		pipe.LPush(ctx, q.key("waiting"), jobID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.QueuedJob, error) {
	if err := q.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
		q.logger.Warn("delayed job promotion failed", zap.Error(err))
	}

	jobID, err := q.client.BLMove(ctx, q.key("waiting"), q.key("active"), "RIGHT", "LEFT", q.pollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	attempts, err := q.client.HIncrBy(ctx, q.jobKey(jobID), "attempts", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("count attempt: %w", err)
	}
	if err := q.client.HSet(ctx, q.jobKey(jobID),
		"state", string(domain.JobStateActive),
		"processed_at", time.Now().UnixMilli(),
	).Err(); err != nil {
		return nil, fmt.Errorf("mark job active: %w", err)
	}

	payload, err := q.client.HGet(ctx, q.jobKey(jobID), "payload").Result()
	if err != nil {
		return nil, fmt.Errorf("read job payload: %w", err)
	}

	var job domain.ReservationJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}

	return &domain.QueuedJob{ID: jobID, Attempts: int(attempts), Job: job}, nil
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string, outcome domain.JobOutcome) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, jobID)
		pipe.HSet(ctx, q.jobKey(jobID),
			"state", string(domain.JobStateCompleted),
			"success", outcome.Success,
			"failed_reason", outcome.Reason,
			"finished_at", time.Now().UnixMilli(),
		)
		pipe.Incr(ctx, q.key("completed_count"))
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, jobID string, reason string) error {
	attempts, err := q.client.HGet(ctx, q.jobKey(jobID), "attempts").Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read attempts: %w", err)
	}

	if attempts >= q.maxAttempts {
		return q.deadLetter(ctx, jobID, reason)
	}
	if attempts < 1 {
		attempts = 1
	}

	// Exponential backoff: base * 2^(attempts-1).
	delay := q.backoffBase << (attempts - 1)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, jobID)
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: jobID,
		})
		pipe.HSet(ctx, q.jobKey(jobID),
			"state", string(domain.JobStateDelayed),
			"failed_reason", reason,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	q.logger.Info("job scheduled for retry",
		zap.String("job_id", jobID),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
		zap.String("reason", reason))
	return nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, jobID, reason string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, jobID)
		pipe.LPush(ctx, q.key("dead"), jobID)
		pipe.HSet(ctx, q.jobKey(jobID),
			"state", string(domain.JobStateFailed),
			"failed_reason", reason,
			"finished_at", time.Now().UnixMilli(),
		)
		pipe.Incr(ctx, q.key("failed_count"))
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}

	q.logger.Error("job dead-lettered after exhausting retries",
		zap.String("job_id", jobID),
		zap.Int("max_attempts", q.maxAttempts),
		zap.String("reason", reason))
	return nil
}

func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	return promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("waiting")},
		time.Now().UnixMilli(), q.jobKeyPrefix(),
	).Err()
}

// Position estimates how many jobs will be processed before this one; the
// waiting list is consumed from its right end, so jobs nearer the tail are
// ahead. Advisory only, may be stale by the time the caller reads it.
func (q *RedisQueue) Position(ctx context.Context, jobID string) (int, error) {
	state, err := q.client.HGet(ctx, q.jobKey(jobID), "state").Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read job state: %w", err)
	}

	activeLen, err := q.client.LLen(ctx, q.key("active")).Result()
	if err != nil {
		return 0, fmt.Errorf("active length: %w", err)
	}

	switch domain.JobState(state) {
	case domain.JobStateWaiting:
		idx, err := q.client.LPos(ctx, q.key("waiting"), jobID, redis.LPosArgs{}).Result()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("waiting position: %w", err)
		}
		waitingLen, err := q.client.LLen(ctx, q.key("waiting")).Result()
		if err != nil {
			return 0, fmt.Errorf("waiting length: %w", err)
		}
		return int(activeLen + waitingLen - idx), nil
	case domain.JobStateDelayed:
		waitingLen, err := q.client.LLen(ctx, q.key("waiting")).Result()
		if err != nil {
			return 0, fmt.Errorf("waiting length: %w", err)
		}
		return int(activeLen + waitingLen + 1), nil
	case domain.JobStateActive:
		return 1, nil
	default:
		return 0, nil
	}
}

func (q *RedisQueue) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrJobNotFound
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	status := &domain.JobStatus{
		ID:           jobID,
		State:        domain.JobState(fields["state"]),
		Attempts:     attempts,
		FailedReason: fields["failed_reason"],
		ProcessedAt:  parseMillis(fields["processed_at"]),
		FinishedAt:   parseMillis(fields["finished_at"]),
	}

	position, err := q.Position(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status.Position = position
	return status, nil
}

func (q *RedisQueue) Counts(ctx context.Context) (domain.QueueCounts, error) {
	var counts domain.QueueCounts
	var waiting, delayed, active *redis.IntCmd
	var completed, failed *redis.StringCmd

	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key("waiting"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		active = pipe.LLen(ctx, q.key("active"))
		completed = pipe.Get(ctx, q.key("completed_count"))
		failed = pipe.Get(ctx, q.key("failed_count"))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return counts, fmt.Errorf("queue counts: %w", err)
	}

	counts.Waiting = waiting.Val()
	counts.Delayed = delayed.Val()
	counts.Active = active.Val()
	counts.Completed, _ = completed.Int64()
	counts.Failed, _ = failed.Int64()
	return counts, nil
}

func parseMillis(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
