package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Handler processes one job. A nil return acknowledges the job; an error
// schedules a retry or, after the last attempt, the dead-letter queue.
type Handler func(ctx context.Context, job *Job) error

// WorkerConfig tunes the pool. Zero values take the defaults.
type WorkerConfig struct {
	Concurrency  int           // parallel workers, default 10
	JobsPerSec   float64       // global rate cap, default 10
	JobTimeout   time.Duration // per-job deadline, default 5m
	LockDuration time.Duration // lock TTL, renewed at half-life while the handler runs, default 120s
	MaxAttempts  int           // default 3
	MaxStalls    int           // stall retries before the DLQ, default 2
	StallScan    time.Duration // stalled-job scan interval, default 30s
	PollInterval time.Duration // idle poll interval, default 250ms
}

func (c *WorkerConfig) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.JobsPerSec <= 0 {
		c.JobsPerSec = 10
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 120 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxStalls <= 0 {
		c.MaxStalls = 2
	}
	if c.StallScan <= 0 {
		c.StallScan = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// Workers is a pool consuming the queue.
type Workers struct {
	q       *Queue
	cfg     WorkerConfig
	handler Handler
	limiter *rate.Limiter
}

func NewWorkers(q *Queue, cfg WorkerConfig, handler Handler) *Workers {
	cfg.defaults()
	return &Workers{
		q:       q,
		cfg:     cfg,
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(cfg.JobsPerSec), int(cfg.JobsPerSec)),
	}
}

// Run starts the pool plus the delayed promoter and stalled scanner, and
// blocks until ctx is cancelled and every worker drained.
func (w *Workers) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		w.tick(ctx, w.cfg.PollInterval, func() {
			if err := w.q.promoteDelayed(ctx); err != nil {
				slog.Error("delayed promotion failed", "error", err)
			}
		})
	}()
	go func() {
		defer wg.Done()
		w.tick(ctx, w.cfg.StallScan, func() {
			if err := w.recoverStalled(ctx); err != nil {
				slog.Error("stalled scan failed", "error", err)
			}
		})
	}()

	wg.Wait()
}

func (w *Workers) tick(ctx context.Context, every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

func (w *Workers) consume(ctx context.Context) {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return // ctx cancelled
		}

		id, err := w.q.rdb.LMove(ctx, mainKey, processingKey, "right", "left").Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("queue pop failed", "error", err)
			continue
		}
		w.process(ctx, id)
	}
}

// ProcessOne pops and runs a single job if one is waiting. Exposed for
// synchronous draining in tools and tests.
func (w *Workers) ProcessOne(ctx context.Context) (bool, error) {
	id, err := w.q.rdb.LMove(ctx, mainKey, processingKey, "right", "left").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue pop: %w", err)
	}
	w.process(ctx, id)
	return true, nil
}

func (w *Workers) process(ctx context.Context, id string) {
	job, err := w.q.getJob(ctx, id)
	if err != nil {
		slog.Error("job payload missing, dropping", "jobId", id, "error", err)
		w.q.rdb.LRem(ctx, processingKey, 1, id)
		return
	}

	// The lock marks the job as live; the stalled scanner treats a
	// processing entry without a lock as a crashed worker.
	if err := w.q.rdb.Set(ctx, lockPrefix+id, 1, w.cfg.LockDuration).Err(); err != nil {
		slog.Error("job lock failed", "jobId", id, "error", err)
	}
	stopRenew := w.renewLock(ctx, id)

	job.Attempts++
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err = w.handler(jobCtx, job)
	cancel()
	stopRenew()

	if err == nil {
		w.ack(ctx, id)
		return
	}
	w.fail(ctx, job, err)
}

// renewLock extends the job lock at half the lock TTL for as long as the
// handler runs, so a slow live job is never mistaken for a stalled one. The
// returned func stops the renewal.
func (w *Workers) renewLock(ctx context.Context, id string) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		t := time.NewTicker(w.cfg.LockDuration / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := w.q.rdb.Set(ctx, lockPrefix+id, 1, w.cfg.LockDuration).Err(); err != nil {
					slog.Error("job lock renewal failed", "jobId", id, "error", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (w *Workers) ack(ctx context.Context, id string) {
	pipe := w.q.rdb.Pipeline()
	pipe.LRem(ctx, processingKey, 1, id)
	pipe.Del(ctx, lockPrefix+id, jobPrefix+id)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("job ack failed", "jobId", id, "error", err)
	}
}

// fail schedules a backoff retry (2s, 4s, 8s) or moves the job to the DLQ
// after the final attempt.
func (w *Workers) fail(ctx context.Context, job *Job, cause error) {
	job.LastError = cause.Error()
	if err := w.q.putJob(ctx, job); err != nil {
		slog.Error("job state write failed", "jobId", job.ID, "error", err)
	}

	pipe := w.q.rdb.Pipeline()
	pipe.LRem(ctx, processingKey, 1, job.ID)
	pipe.Del(ctx, lockPrefix+job.ID)

	if job.Attempts >= w.cfg.MaxAttempts {
		slog.Error("job moved to dead-letter queue",
			"jobId", job.ID, "attempts", job.Attempts, "error", cause)
		pipe.LPush(ctx, dlqKey, job.ID)
		pipe.Persist(ctx, jobPrefix+job.ID) // dead jobs never expire on their own
	} else {
		backoff := time.Duration(1<<job.Attempts) * time.Second // 2s, 4s, 8s
		readyAt := float64(time.Now().Add(backoff).UnixMilli())
		slog.Warn("job retry scheduled",
			"jobId", job.ID, "attempt", job.Attempts, "backoff", backoff, "error", cause)
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: readyAt, Member: job.ID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("job failure bookkeeping failed", "jobId", job.ID, "error", err)
	}
}

// recoverStalled requeues processing entries whose lock expired, up to the
// stall budget; beyond it they go to the DLQ.
func (w *Workers) recoverStalled(ctx context.Context) error {
	ids, err := w.q.rdb.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("processing scan: %w", err)
	}

	for _, id := range ids {
		exists, err := w.q.rdb.Exists(ctx, lockPrefix+id).Result()
		if err != nil {
			return fmt.Errorf("lock check: %w", err)
		}
		if exists == 1 {
			continue
		}

		job, err := w.q.getJob(ctx, id)
		if err != nil {
			w.q.rdb.LRem(ctx, processingKey, 1, id)
			continue
		}
		job.StallCount++

		pipe := w.q.rdb.Pipeline()
		pipe.LRem(ctx, processingKey, 1, id)
		if job.StallCount > w.cfg.MaxStalls {
			slog.Error("stalled job exhausted retries, moving to dead-letter queue", "jobId", id)
			pipe.LPush(ctx, dlqKey, id)
			pipe.Persist(ctx, jobPrefix+id)
		} else {
			slog.Warn("stalled job requeued", "jobId", id, "stalls", job.StallCount)
			pipe.LPush(ctx, mainKey, id)
		}
		if err := w.q.putJob(ctx, job); err != nil {
			return err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("stalled recovery: %w", err)
		}
	}
	return nil
}
