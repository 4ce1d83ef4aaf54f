// Package queue is a Redis-backed job queue for inbound WhatsApp messages:
// a main list, a delayed ZSET for backoff retries, a processing list with
// per-job locks for stalled detection, and a dead-letter list for jobs that
// exhausted their attempts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simsarhq/simsar/internal/bus"
)

const (
	mainKey       = "queue:whatsapp-messages"
	dlqKey        = "queue:whatsapp-messages-dlq"
	delayedKey    = "queue:whatsapp-messages:delayed"
	processingKey = "queue:whatsapp-messages:processing"
	jobPrefix     = "queue:whatsapp-messages:job:"
	lockPrefix    = "queue:whatsapp-messages:lock:"
	dedupePrefix  = "queue:whatsapp-messages:dedupe:"

	dedupeTTL = 24 * time.Hour
	jobTTL    = 48 * time.Hour
)

// ErrDuplicate is returned when a messageId was already enqueued.
var ErrDuplicate = errors.New("queue: duplicate job")

// ErrNotFound is returned by admin operations on unknown jobs.
var ErrNotFound = errors.New("queue: job not found")

// Job is one unit of work. The job id is the WhatsApp messageId, which makes
// enqueueing idempotent.
type Job struct {
	ID         string            `json:"id"`
	Message    bus.ParsedMessage `json:"message"`
	Attempts   int               `json:"attempts"`
	StallCount int               `json:"stallCount"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	LastError  string            `json:"lastError,omitempty"`
}

// Stats is a point-in-time view of the queue depths.
type Stats struct {
	Waiting    int64 `json:"waiting"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// Queue wraps the Redis structures. Safe for concurrent use.
type Queue struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue adds a message job, collapsing duplicates by messageId. The dedupe
// marker outlives the job so late gateway redeliveries stay collapsed.
func (q *Queue) Enqueue(ctx context.Context, msg bus.ParsedMessage) error {
	if msg.MessageID == "" {
		return fmt.Errorf("enqueue: message has no messageId")
	}

	ok, err := q.rdb.SetNX(ctx, dedupePrefix+msg.MessageID, 1, dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("enqueue dedupe check: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}

	job := Job{ID: msg.MessageID, Message: msg, EnqueuedAt: time.Now().UTC()}
	if err := q.putJob(ctx, &job); err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, mainKey, job.ID).Err(); err != nil {
		return fmt.Errorf("enqueue push: %w", err)
	}
	return nil
}

// RetryFromDLQ moves a dead job back onto the main queue with its attempt
// counters reset. Admin operation.
func (q *Queue) RetryFromDLQ(ctx context.Context, jobID string) error {
	removed, err := q.rdb.LRem(ctx, dlqKey, 1, jobID).Result()
	if err != nil {
		return fmt.Errorf("dlq remove: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}

	job, err := q.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Attempts = 0
	job.StallCount = 0
	job.LastError = ""
	if err := q.putJob(ctx, job); err != nil {
		return err
	}
	return q.rdb.LPush(ctx, mainKey, jobID).Err()
}

// Stats reports the current queue depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, mainKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	processing := pipe.LLen(ctx, processingKey)
	dead := pipe.LLen(ctx, dlqKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting:    waiting.Val(),
		Delayed:    delayed.Val(),
		Processing: processing.Val(),
		Dead:       dead.Val(),
	}, nil
}

// DeadJobs lists up to n jobs from the dead-letter queue, newest first.
func (q *Queue) DeadJobs(ctx context.Context, n int64) ([]Job, error) {
	ids, err := q.rdb.LRange(ctx, dlqKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("dlq range: %w", err)
	}
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.getJob(ctx, id)
		if err != nil {
			continue // payload expired; the id alone is not actionable
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

func (q *Queue) putJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := q.rdb.Set(ctx, jobPrefix+job.ID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) getJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, jobPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// promoteDelayed moves due delayed jobs back onto the main queue.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := float64(time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("delayed scan: %w", err)
	}
	for _, id := range ids {
		// ZRem first so two pollers cannot both promote the same job.
		removed, err := q.rdb.ZRem(ctx, delayedKey, id).Result()
		if err != nil {
			return fmt.Errorf("delayed remove: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, mainKey, id).Err(); err != nil {
			return fmt.Errorf("delayed promote: %w", err)
		}
	}
	return nil
}
