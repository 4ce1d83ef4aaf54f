// Package ratelimit implements the distributed sliding-window quota that
// gates all outbound WhatsApp traffic. Three independent windows (1s, 1m, 1h)
// are kept per identifier as Redis sorted sets scored by timestamp.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is one sliding window with its ceiling.
type Window struct {
	Name     string
	Duration time.Duration
	Limit    int
}

// Result is the outcome of a CheckLimit call. When Allowed is false, ResetIn
// says how long until the most restrictive window frees a slot.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

// Limiter is a distributed sliding-window rate limiter over a shared Redis.
// Infrastructure errors fail open: an unreachable store must not block all
// outbound traffic.
type Limiter struct {
	rdb     redis.UniversalClient
	windows []Window
}

// New creates a limiter with the standard 1s/1m/1h windows.
func New(rdb redis.UniversalClient, perSecond, perMinute, perHour int) *Limiter {
	return &Limiter{
		rdb: rdb,
		windows: []Window{
			{Name: "1s", Duration: time.Second, Limit: perSecond},
			{Name: "1m", Duration: time.Minute, Limit: perMinute},
			{Name: "1h", Duration: time.Hour, Limit: perHour},
		},
	}
}

func (l *Limiter) key(id, window string) string {
	return fmt.Sprintf("whatsapp:ratelimit:%s:%s", id, window)
}

// CheckLimit evicts expired entries from every window and reports whether a
// send is currently allowed. The most restrictive failing window decides.
func (l *Limiter) CheckLimit(ctx context.Context, id string) Result {
	now := time.Now()
	best := Result{Allowed: true, Remaining: int(^uint(0) >> 1)}

	for _, w := range l.windows {
		key := l.key(id, w.Name)
		cutoff := now.Add(-w.Duration).UnixMilli()

		pipe := l.rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
		card := pipe.ZCard(ctx, key)
		oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			// Fail open: a limiter outage must not stop the pipeline.
			slog.Error("rate limiter store error, allowing send",
				"id", id, "window", w.Name, "error", err)
			return Result{Allowed: true, Remaining: 0, Limit: w.Limit}
		}

		count := int(card.Val())
		remaining := w.Limit - count
		if remaining < 0 {
			remaining = 0
		}

		if count >= w.Limit {
			resetIn := w.Duration
			if vals := oldest.Val(); len(vals) > 0 {
				oldestAt := time.UnixMilli(int64(vals[0].Score))
				resetIn = w.Duration - now.Sub(oldestAt)
				if resetIn < 0 {
					resetIn = 0
				}
			}
			return Result{Allowed: false, Remaining: 0, ResetIn: resetIn, Limit: w.Limit}
		}

		if remaining < best.Remaining {
			best = Result{Allowed: true, Remaining: remaining, Limit: w.Limit}
		}
	}

	return best
}

// Increment records one send in every window and refreshes a just-over-window
// TTL so idle identifiers expire on their own.
func (l *Limiter) Increment(ctx context.Context, id string) {
	now := time.Now()
	pipe := l.rdb.Pipeline()
	for _, w := range l.windows {
		key := l.key(id, w.Name)
		member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.Expire(ctx, key, w.Duration+time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("rate limiter increment failed", "id", id, "error", err)
	}
}
