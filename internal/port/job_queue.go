package port

import (
	"context"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

// JobQueue is a durable, at-least-once work queue for reservation jobs.
type JobQueue interface {
	// Enqueue persists the job and returns its queue-assigned ID.
	Enqueue(ctx context.Context, job domain.ReservationJob) (string, error)

	// Dequeue blocks up to the queue's poll timeout and returns nil when no
	// job became due. Each dequeue counts as one delivery attempt.
	Dequeue(ctx context.Context) (*domain.QueuedJob, error)

	// Complete finalizes a job with its terminal outcome. Logical failures
	// (outcome.Success == false) complete the job; they are not retried.
	Complete(ctx context.Context, jobID string, outcome domain.JobOutcome) error

	// Retry schedules redelivery with exponential backoff, dead-lettering the
	// job once its attempt budget is exhausted.
	Retry(ctx context.Context, jobID string, reason string) error

	// Position estimates how many jobs will be processed before this one.
	// Zero means the job is active, finished, or unknown. Advisory only.
	Position(ctx context.Context, jobID string) (int, error)

	Status(ctx context.Context, jobID string) (*domain.JobStatus, error)

	Counts(ctx context.Context) (domain.QueueCounts, error)
}
