package domain

import "time"

// Lease is an ephemeral claim on a resource key, valid until Deadline as
// observed by a majority of lock nodes. It is a value handed back by the lock
// manager, never persisted.
type Lease struct {
	Resource string
	Token    string
	Deadline time.Time
}

// Expired reports whether the lease can no longer be trusted at the given
// instant. Any operation that runs past its own lease deadline must assume
// exclusivity was lost.
func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.Deadline)
}
