package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/port"
)

const reasonWorkerLockFailed = "lock acquisition failed in worker"

// errLeaseLost aborts the reservation transaction when the worker's own lease
// deadline passed before commit; treated as transient, the queue redelivers.
var errLeaseLost = errors.New("lock lease expired before commit")

// ReservationWorker runs the asynchronous confirm phase: it re-acquires the
// product lock carried in the job, performs the conditional stock decrement
// inside one database transaction, and finalizes the order's terminal status.
// Redelivery of the same job is safe: the lock re-acquisition is the
// idempotency guard.
type ReservationWorker struct {
	queue   port.JobQueue
	locks   port.LockManager
	store   port.ReservationStore
	orders  port.OrderRepository
	metrics port.MetricsRecorder
	logger  *zap.Logger
}

func NewReservationWorker(
	queue port.JobQueue,
	locks port.LockManager,
	store port.ReservationStore,
	orders port.OrderRepository,
	metrics port.MetricsRecorder,
	logger *zap.Logger,
) *ReservationWorker {
	return &ReservationWorker{
		queue:   queue,
		locks:   locks,
		store:   store,
		orders:  orders,
		metrics: metrics,
		logger:  logger,
	}
}

// Run consumes jobs until ctx is cancelled. One job at a time per call;
// multiple Run loops may execute in parallel across distinct jobs.
func (w *ReservationWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		queued, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		if queued == nil {
			continue
		}

		w.Handle(ctx, queued)
	}
}

// Handle processes one delivery and reports its fate to the queue: a returned
// outcome completes the job, an error hands it back to the retry policy.
func (w *ReservationWorker) Handle(ctx context.Context, queued *domain.QueuedJob) {
	start := time.Now()
	outcome, err := w.process(ctx, queued.Job)
	w.metrics.RecordProcessingTime(ctx, time.Since(start))

	if err != nil {
		w.logger.Error("reservation job errored",
			zap.String("job_id", queued.ID),
			zap.String("order_id", queued.Job.OrderID),
			zap.Int("attempt", queued.Attempts),
			zap.Error(err))
		if rerr := w.queue.Retry(ctx, queued.ID, err.Error()); rerr != nil {
			w.logger.Error("retry scheduling failed",
				zap.String("job_id", queued.ID), zap.Error(rerr))
		}
		return
	}

	if cerr := w.queue.Complete(ctx, queued.ID, outcome); cerr != nil {
		w.logger.Error("job completion failed",
			zap.String("job_id", queued.ID), zap.Error(cerr))
	}

	if outcome.Success {
		w.metrics.RecordOrderStatus(ctx, domain.OrderStatusConfirmed)
		w.logger.Info("order confirmed",
			zap.String("job_id", queued.ID),
			zap.String("order_id", queued.Job.OrderID))
	} else {
		w.metrics.RecordOrderStatus(ctx, domain.OrderStatusFailed)
		w.logger.Warn("order failed",
			zap.String("job_id", queued.ID),
			zap.String("order_id", queued.Job.OrderID),
			zap.String("reason", outcome.Reason))
	}
}

// process implements the confirm phase for one job. A returned error means
// the transaction rolled back and the queue should redeliver; a returned
// outcome is final.
func (w *ReservationWorker) process(ctx context.Context, job domain.ReservationJob) (domain.JobOutcome, error) {
	lease, err := w.locks.Acquire(ctx, job.LockKey, job.LockTTL)
	if err != nil {
		return domain.JobOutcome{}, fmt.Errorf("acquire confirm lock: %w", err)
	}
	if lease == nil {
		// Contention, not a transient infra fault: finalize instead of
		// feeding the job back to the retry policy.
		if uerr := w.orders.UpdateOrderStatus(ctx, job.OrderID, domain.OrderStatusFailed); uerr != nil {
			return domain.JobOutcome{}, fmt.Errorf("mark order failed after lock miss: %w", uerr)
		}
		return domain.JobOutcome{Reason: reasonWorkerLockFailed}, nil
	}
	// Exactly one release per job outcome, on every exit path.
	defer func() {
		if rerr := w.locks.Release(ctx, lease); rerr != nil {
			w.logger.Warn("lock release failed",
				zap.String("resource", lease.Resource), zap.Error(rerr))
		}
	}()

	var outcome domain.JobOutcome
	err = w.store.InTx(ctx, func(tx port.ReservationTx) error {
		if err := tx.UpdateOrderStatus(ctx, job.OrderID, domain.OrderStatusProcessing); err != nil {
			return fmt.Errorf("mark order processing: %w", err)
		}

		reserved, err := tx.Reserve(ctx, job.ProductID, job.Quantity)
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		if !reserved {
			// Stock legitimately ran out between admission and confirmation.
			if err := tx.UpdateOrderStatus(ctx, job.OrderID, domain.OrderStatusFailed); err != nil {
				return fmt.Errorf("mark order failed: %w", err)
			}
			outcome = domain.JobOutcome{Reason: domain.ErrInsufficientStock.Error()}
			return nil
		}

		// Past our own deadline we may no longer hold exclusivity; abort and
		// let redelivery take a fresh lock rather than trusting this one.
		if lease.Expired(time.Now()) {
			return errLeaseLost
		}

		now := time.Now()
		if err := tx.ConfirmOrder(ctx, job.OrderID, now, now.Add(domain.CompletionWindow)); err != nil {
			return fmt.Errorf("confirm order: %w", err)
		}
		outcome = domain.JobOutcome{Success: true}
		return nil
	})
	if err != nil {
		// Transaction rolled back. Best-effort terminal status outside it;
		// the queue's bounded retry policy decides on redelivery.
		if uerr := w.orders.UpdateOrderStatus(ctx, job.OrderID, domain.OrderStatusFailed); uerr != nil {
			w.logger.Warn("failed to mark order failed",
				zap.String("order_id", job.OrderID), zap.Error(uerr))
		}
		return domain.JobOutcome{}, err
	}

	return outcome, nil
}
