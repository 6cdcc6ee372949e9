package port

import (
	"context"
	"time"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

type LockManager interface {
	// Acquire obtains a mutual-exclusion lease on resource for ttl, retrying a
	// bounded number of times. A nil lease with a nil error means the resource
	// is held elsewhere: callers must treat it as "busy", not as a hard error.
	Acquire(ctx context.Context, resource string, ttl time.Duration) (*domain.Lease, error)

	// Release drops the lease on every node. Idempotent: already-expired or
	// already-deleted state is tolerated, and a second release of the same
	// lease never touches a lease acquired later by a different holder.
	Release(ctx context.Context, lease *domain.Lease) error

	// Extend re-validates majority ownership and rewrites the TTL. False means
	// ownership could not be confirmed and the lease must be assumed lost.
	Extend(ctx context.Context, lease *domain.Lease, ttl time.Duration) (bool, error)
}
