package domain

import "time"

// ReservationJob is the typed payload carried by the queue between the
// admission phase and the confirm phase. Delivery is at-least-once; the worker
// relies on lock re-acquisition to stay safe under redelivery.
type ReservationJob struct {
	OrderID    string        `json:"order_id"`
	ProductID  string        `json:"product_id"`
	UserID     string        `json:"user_id"`
	Quantity   int           `json:"quantity"`
	LockKey    string        `json:"lock_key"`
	LockTTL    time.Duration `json:"lock_ttl"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// QueuedJob is a dequeued job together with its queue bookkeeping.
type QueuedJob struct {
	ID       string
	Attempts int
	Job      ReservationJob
}

type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobOutcome is the terminal result of processing a job. Success false with a
// reason is a logical failure (insufficient stock, lost lock), not an
// infrastructure fault, and does not trigger redelivery.
type JobOutcome struct {
	Success bool
	Reason  string
}

type JobStatus struct {
	ID           string
	State        JobState
	Attempts     int
	Position     int
	FailedReason string
	ProcessedAt  *time.Time
	FinishedAt   *time.Time
}

type QueueCounts struct {
	Waiting   int64
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64
}
