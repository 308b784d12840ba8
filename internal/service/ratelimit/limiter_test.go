package ratelimit

import (
	"testing"
	"time"
)

func TestAllowBurstThenRefill(t *testing.T) {
	now := time.Unix(0, 0)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("expected burst of 2")
	}
	if l.Allow("a") {
		t.Fatalf("expected bucket to be empty")
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share buckets")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatalf("expected refill after one second")
	}
}

func TestZeroCapacityDisablesLimit(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("limit should be disabled")
		}
	}
}
