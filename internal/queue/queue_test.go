package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/simsarhq/simsar/internal/bus"
)

func setup(t *testing.T) (*Queue, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb), mr, rdb
}

func msg(id string) bus.ParsedMessage {
	return bus.ParsedMessage{
		MessageID: id,
		From:      "+201001234567",
		AgentID:   "agent-1",
		Type:      bus.TypeText,
		Text:      "hello",
		Timestamp: time.Now(),
	}
}

// forcePromotion makes every delayed job due immediately.
func forcePromotion(t *testing.T, q *Queue, rdb redis.UniversalClient) {
	t.Helper()
	ctx := context.Background()
	ids, err := rdb.ZRange(ctx, delayedKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("delayed range: %v", err)
	}
	for _, id := range ids {
		rdb.ZAdd(ctx, delayedKey, redis.Z{Score: 0, Member: id})
	}
	if err := q.promoteDelayed(ctx); err != nil {
		t.Fatalf("promoteDelayed: %v", err)
	}
}

func TestEnqueueAndStats(t *testing.T) {
	q, _, _ := setup(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, msg("m2")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Waiting != 2 || stats.Dead != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	q, _, _ := setup(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, msg("m1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate enqueue: err = %v, want ErrDuplicate", err)
	}

	stats, _ := q.Stats(ctx)
	if stats.Waiting != 1 {
		t.Errorf("waiting = %d, want 1", stats.Waiting)
	}
}

func TestProcessSuccessCleansUp(t *testing.T) {
	q, _, rdb := setup(t)
	ctx := context.Background()

	var got *Job
	w := NewWorkers(q, WorkerConfig{}, func(ctx context.Context, job *Job) error {
		got = job
		return nil
	})

	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ran, err := w.ProcessOne(ctx)
	if err != nil || !ran {
		t.Fatalf("ProcessOne = %v, %v", ran, err)
	}
	if got == nil || got.Message.Text != "hello" || got.Attempts != 1 {
		t.Fatalf("job = %+v", got)
	}

	stats, _ := q.Stats(ctx)
	if stats.Waiting != 0 || stats.Processing != 0 || stats.Dead != 0 {
		t.Errorf("stats after success = %+v", stats)
	}
	if n, _ := rdb.Exists(ctx, jobPrefix+"m1").Result(); n != 0 {
		t.Error("job payload not cleaned up")
	}
}

func TestRetriesThenDeadLetter(t *testing.T) {
	q, _, rdb := setup(t)
	ctx := context.Background()

	calls := 0
	w := NewWorkers(q, WorkerConfig{}, func(ctx context.Context, job *Job) error {
		calls++
		return errors.New("llm exploded")
	})

	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		ran, err := w.ProcessOne(ctx)
		if err != nil || !ran {
			t.Fatalf("attempt %d: ProcessOne = %v, %v", attempt, ran, err)
		}
		if attempt < 3 {
			stats, _ := q.Stats(ctx)
			if stats.Delayed != 1 {
				t.Fatalf("attempt %d: delayed = %d, want 1", attempt, stats.Delayed)
			}
			forcePromotion(t, q, rdb)
		}
	}

	if calls != 3 {
		t.Errorf("handler ran %d times, want 3", calls)
	}
	stats, _ := q.Stats(ctx)
	if stats.Dead != 1 || stats.Waiting != 0 || stats.Delayed != 0 {
		t.Errorf("stats after exhaustion = %+v", stats)
	}

	dead, err := q.DeadJobs(ctx, 10)
	if err != nil {
		t.Fatalf("DeadJobs: %v", err)
	}
	if len(dead) != 1 || dead[0].LastError != "llm exploded" {
		t.Fatalf("dead jobs = %+v", dead)
	}
}

func TestRetryFromDLQ(t *testing.T) {
	q, _, rdb := setup(t)
	ctx := context.Background()

	w := NewWorkers(q, WorkerConfig{}, func(ctx context.Context, job *Job) error {
		return errors.New("down")
	})
	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for attempt := 1; attempt <= 3; attempt++ {
		w.ProcessOne(ctx)
		forcePromotion(t, q, rdb)
	}

	if err := q.RetryFromDLQ(ctx, "m1"); err != nil {
		t.Fatalf("RetryFromDLQ: %v", err)
	}
	stats, _ := q.Stats(ctx)
	if stats.Waiting != 1 || stats.Dead != 0 {
		t.Errorf("stats after retry = %+v", stats)
	}

	job, err := q.getJob(ctx, "m1")
	if err != nil {
		t.Fatalf("getJob: %v", err)
	}
	if job.Attempts != 0 || job.LastError != "" {
		t.Errorf("counters not reset: %+v", job)
	}

	if err := q.RetryFromDLQ(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job: err = %v, want ErrNotFound", err)
	}
}

func TestStalledJobRequeued(t *testing.T) {
	q, _, rdb := setup(t)
	ctx := context.Background()

	w := NewWorkers(q, WorkerConfig{}, func(ctx context.Context, job *Job) error { return nil })

	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Simulate a crashed worker: job sits in processing with no lock.
	if _, err := rdb.LMove(ctx, mainKey, processingKey, "right", "left").Result(); err != nil {
		t.Fatalf("move to processing: %v", err)
	}

	if err := w.recoverStalled(ctx); err != nil {
		t.Fatalf("recoverStalled: %v", err)
	}
	stats, _ := q.Stats(ctx)
	if stats.Waiting != 1 || stats.Processing != 0 {
		t.Errorf("stats after recovery = %+v", stats)
	}

	job, _ := q.getJob(ctx, "m1")
	if job.StallCount != 1 {
		t.Errorf("stallCount = %d", job.StallCount)
	}
}

func TestStalledJobExhaustsToDeadLetter(t *testing.T) {
	q, _, rdb := setup(t)
	ctx := context.Background()

	w := NewWorkers(q, WorkerConfig{MaxStalls: 2}, func(ctx context.Context, job *Job) error { return nil })
	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := rdb.LMove(ctx, mainKey, processingKey, "right", "left").Result(); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		if err := w.recoverStalled(ctx); err != nil {
			t.Fatalf("recoverStalled %d: %v", i, err)
		}
	}

	stats, _ := q.Stats(ctx)
	if stats.Dead != 1 || stats.Waiting != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSlowJobLockRenewedWhileRunning(t *testing.T) {
	q, mr, _ := setup(t)
	ctx := context.Background()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var handled atomic.Int32
	w := NewWorkers(q, WorkerConfig{LockDuration: 100 * time.Millisecond}, func(ctx context.Context, job *Job) error {
		handled.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})

	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := w.ProcessOne(ctx); err != nil {
			t.Errorf("ProcessOne: %v", err)
		}
	}()
	<-started

	// Expire the original lock, then give the renewal ticker time to
	// re-assert it before the stalled scan runs.
	mr.FastForward(200 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	if err := w.recoverStalled(ctx); err != nil {
		t.Fatalf("recoverStalled: %v", err)
	}
	if ran, err := w.ProcessOne(ctx); err != nil || ran {
		t.Fatalf("live job requeued: ran=%v err=%v", ran, err)
	}

	close(release)
	<-done

	if got := handled.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
	stats, _ := q.Stats(ctx)
	if stats.Waiting != 0 || stats.Processing != 0 || stats.Dead != 0 {
		t.Errorf("stats after slow job = %+v", stats)
	}
}

func TestLiveJobNotTreatedAsStalled(t *testing.T) {
	q, _, rdb := setup(t)
	ctx := context.Background()

	w := NewWorkers(q, WorkerConfig{}, func(ctx context.Context, job *Job) error { return nil })
	if err := q.Enqueue(ctx, msg("m1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	rdb.LMove(ctx, mainKey, processingKey, "right", "left")
	rdb.Set(ctx, lockPrefix+"m1", 1, time.Minute)

	if err := w.recoverStalled(ctx); err != nil {
		t.Fatalf("recoverStalled: %v", err)
	}
	stats, _ := q.Stats(ctx)
	if stats.Processing != 1 {
		t.Errorf("live job was recovered: %+v", stats)
	}
}
