package domain

import (
	"testing"
	"time"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{OrderStatusPending, OrderStatusProcessing},
		{OrderStatusPending, OrderStatusFailed},
		{OrderStatusProcessing, OrderStatusConfirmed},
		{OrderStatusProcessing, OrderStatusFailed},
		{OrderStatusConfirmed, OrderStatusExpired},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to OrderStatus }{
		{OrderStatusFailed, OrderStatusConfirmed},
		{OrderStatusConfirmed, OrderStatusPending},
		{OrderStatusExpired, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusProcessing, OrderStatusPending},
	}
	for _, tr := range denied {
		if tr.from.CanTransitionTo(tr.to) {
			t.Errorf("expected %s -> %s to be denied", tr.from, tr.to)
		}
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusConfirmed, OrderStatusFailed, OrderStatusExpired} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusProcessing} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestLease_Expired(t *testing.T) {
	now := time.Now()
	lease := Lease{Resource: "lock:product:p1", Token: "tok", Deadline: now.Add(time.Second)}

	if lease.Expired(now) {
		t.Error("lease must be valid before its deadline")
	}
	if !lease.Expired(now.Add(time.Second)) {
		t.Error("lease must be expired at its deadline")
	}
	if !lease.Expired(now.Add(2 * time.Second)) {
		t.Error("lease must be expired past its deadline")
	}
}

func TestProductLockKey(t *testing.T) {
	if got := ProductLockKey("p1"); got != "lock:product:p1" {
		t.Errorf("unexpected lock key: %s", got)
	}
}
