package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, perSecond, perMinute, perHour int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, perSecond, perMinute, perHour), mr
}

func TestCheckLimit_AllowsUnderCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, 3, 10, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := l.CheckLimit(ctx, "agent-1")
		if !res.Allowed {
			t.Fatalf("send %d: expected allowed, got %+v", i, res)
		}
		l.Increment(ctx, "agent-1")
	}

	res := l.CheckLimit(ctx, "agent-1")
	if res.Allowed {
		t.Fatalf("expected 4th send blocked by 1s window, got %+v", res)
	}
	if res.Limit != 3 {
		t.Errorf("blocking window limit = %d, want 3", res.Limit)
	}
	if res.ResetIn <= 0 || res.ResetIn > time.Second {
		t.Errorf("ResetIn = %v, want within (0, 1s]", res.ResetIn)
	}
}

func TestCheckLimit_MostRestrictiveWindowDecides(t *testing.T) {
	// Minute window tighter than second window.
	l, _ := newTestLimiter(t, 100, 2, 1000)
	ctx := context.Background()

	l.Increment(ctx, "agent-2")
	l.Increment(ctx, "agent-2")

	res := l.CheckLimit(ctx, "agent-2")
	if res.Allowed {
		t.Fatal("expected minute window to block")
	}
	if res.Limit != 2 {
		t.Errorf("blocking limit = %d, want 2 (minute window)", res.Limit)
	}
}

func TestCheckLimit_WindowSlides(t *testing.T) {
	l, mr := newTestLimiter(t, 2, 100, 1000)
	ctx := context.Background()

	l.Increment(ctx, "agent-3")
	l.Increment(ctx, "agent-3")

	if res := l.CheckLimit(ctx, "agent-3"); res.Allowed {
		t.Fatal("expected block at ceiling")
	}

	// Advance past the 1s window; entries must be evicted.
	mr.FastForward(1100 * time.Millisecond)
	time.Sleep(1100 * time.Millisecond) // scores are wall-clock timestamps

	if res := l.CheckLimit(ctx, "agent-3"); !res.Allowed {
		t.Fatalf("expected allow after window slid, got %+v", res)
	}
}

func TestCheckLimit_FailsOpenOnStoreError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, 1, 1, 1)
	mr.Close() // store unreachable

	res := l.CheckLimit(context.Background(), "agent-4")
	if !res.Allowed {
		t.Fatalf("limiter must fail open on infra error, got %+v", res)
	}
}

func TestCheckLimit_IsolatedPerIdentifier(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 10, 100)
	ctx := context.Background()

	l.Increment(ctx, "agent-a")
	if res := l.CheckLimit(ctx, "agent-a"); res.Allowed {
		t.Fatal("agent-a should be at ceiling")
	}
	if res := l.CheckLimit(ctx, "agent-b"); !res.Allowed {
		t.Fatal("agent-b must be unaffected by agent-a's quota")
	}
}
