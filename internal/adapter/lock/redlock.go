package lock

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

const (
	defaultDriftFactor = 0.01
	defaultRetryCount  = 10
	defaultRetryDelay  = 200 * time.Millisecond
	defaultRetryJitter = 200 * time.Millisecond

	// Fixed allowance added on top of the drift window when computing the
	// remaining lease validity; covers the minimum network round trip.
	driftPad = 2 * time.Millisecond
)

// Delete the key only if it still carries our token. Releasing after expiry,
// or twice, is a no-op and never touches another holder's lease.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// QuorumLock provides mutual exclusion on a resource key across an odd-sized
// set of independently failing Redis nodes. A lease is valid only while a
// majority of nodes agree on it; below-majority reachability makes every
// acquisition fail rather than fail open.
type QuorumLock struct {
	nodes       []*redis.Client
	quorum      int
	driftFactor float64
	retryCount  int
	retryDelay  time.Duration
	retryJitter time.Duration
	logger      *zap.Logger
}

type Option func(*QuorumLock)

// WithRetry overrides the bounded retry policy applied by Acquire.
func WithRetry(count int, delay, jitter time.Duration) Option {
	return func(q *QuorumLock) {
		if count > 0 {
			q.retryCount = count
		}
		if delay > 0 {
			q.retryDelay = delay
		}
		if jitter > 0 {
			q.retryJitter = jitter
		}
	}
}

// WithDriftFactor overrides the clock-drift fraction of the TTL subtracted
// from lease validity.
func WithDriftFactor(f float64) Option {
	return func(q *QuorumLock) {
		if f > 0 {
			q.driftFactor = f
		}
	}
}

func NewQuorumLock(nodes []*redis.Client, logger *zap.Logger, opts ...Option) *QuorumLock {
	q := &QuorumLock{
		nodes:       nodes,
		quorum:      len(nodes)/2 + 1,
		driftFactor: defaultDriftFactor,
		retryCount:  defaultRetryCount,
		retryDelay:  defaultRetryDelay,
		retryJitter: defaultRetryJitter,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QuorumLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (*domain.Lease, error) {
	for attempt := 0; attempt < q.retryCount; attempt++ {
		if attempt > 0 {
			// Jitter desynchronizes competing callers under contention.
			delay := q.retryDelay + rand.N(q.retryJitter)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if lease := q.tryAcquire(ctx, resource, ttl); lease != nil {
			return lease, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	q.logger.Debug("lock acquisition exhausted retries",
		zap.String("resource", resource),
		zap.Int("attempts", q.retryCount))
	return nil, nil
}

func (q *QuorumLock) tryAcquire(ctx context.Context, resource string, ttl time.Duration) *domain.Lease {
	token := uuid.NewString()
	start := time.Now()

	var votes atomic.Int32
	var wg sync.WaitGroup
	for _, node := range q.nodes {
		wg.Add(1)
		go func(c *redis.Client) {
			defer wg.Done()
			ok, err := c.SetNX(ctx, resource, token, ttl).Result()
			if err != nil {
				q.logger.Debug("lock node set failed",
					zap.String("resource", resource), zap.Error(err))
				return
			}
			if ok {
				votes.Add(1)
			}
		}(node)
	}
	wg.Wait()

	// The lease is only usable for what remains of the TTL after the round
	// trips and the worst-case clock drift across nodes.
	drift := time.Duration(float64(ttl)*q.driftFactor) + driftPad
	validity := ttl - time.Since(start) - drift

	if int(votes.Load()) >= q.quorum && validity > 0 {
		return &domain.Lease{Resource: resource, Token: token, Deadline: start.Add(validity)}
	}

	// Partial sets would block other callers until TTL expiry; clean them up.
	q.unlockAll(ctx, resource, token)
	return nil
}

func (q *QuorumLock) Release(ctx context.Context, lease *domain.Lease) error {
	if lease == nil {
		return nil
	}
	q.unlockAll(ctx, lease.Resource, lease.Token)
	return nil
}

func (q *QuorumLock) Extend(ctx context.Context, lease *domain.Lease, ttl time.Duration) (bool, error) {
	if lease == nil {
		return false, nil
	}

	start := time.Now()
	var votes atomic.Int32
	var wg sync.WaitGroup
	for _, node := range q.nodes {
		wg.Add(1)
		go func(c *redis.Client) {
			defer wg.Done()
			n, err := extendScript.Run(ctx, c, []string{lease.Resource}, lease.Token, ttl.Milliseconds()).Int()
			if err != nil {
				q.logger.Debug("lock node extend failed",
					zap.String("resource", lease.Resource), zap.Error(err))
				return
			}
			if n == 1 {
				votes.Add(1)
			}
		}(node)
	}
	wg.Wait()

	drift := time.Duration(float64(ttl)*q.driftFactor) + driftPad
	validity := ttl - time.Since(start) - drift

	if int(votes.Load()) >= q.quorum && validity > 0 {
		lease.Deadline = start.Add(validity)
		return true, nil
	}
	return false, nil
}

func (q *QuorumLock) unlockAll(ctx context.Context, resource, token string) {
	var wg sync.WaitGroup
	for _, node := range q.nodes {
		wg.Add(1)
		go func(c *redis.Client) {
			defer wg.Done()
			if err := releaseScript.Run(ctx, c, []string{resource}, token).Err(); err != nil {
				q.logger.Debug("lock node release failed",
					zap.String("resource", resource), zap.Error(err))
			}
		}(node)
	}
	wg.Wait()
}
