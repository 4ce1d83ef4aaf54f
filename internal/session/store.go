package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/simsarhq/simsar/internal/intent"
)

// ErrNotFound is returned when neither blob nor reverse index resolves.
var ErrNotFound = errors.New("session not found")

// ErrConflict is returned when the optimistic CAS loses twice in a row.
var ErrConflict = errors.New("session update conflict")

const (
	keyPrefix   = "session:"
	indexPrefix = "session-index:"
)

// Store persists sessions in Redis. One JSON blob per customer under
// session:{customerId}, plus a reverse index session-index:{sessionId} →
// customerId with the same TTL. Both keys are written in one transaction.
type Store struct {
	rdb        redis.UniversalClient
	ttl        time.Duration // SESSION_TIMEOUT
	maxHistory int           // MAX_MESSAGE_HISTORY
}

// NewStore creates a session store. ttl is the session timeout; maxHistory
// bounds the retained message list.
func NewStore(rdb redis.UniversalClient, ttl time.Duration, maxHistory int) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &Store{rdb: rdb, ttl: ttl, maxHistory: maxHistory}
}

func blobKey(customerID string) string { return keyPrefix + customerID }
func indexKey(sessionID string) string { return indexPrefix + sessionID }

// Get loads the session for a customer, or returns a fresh one in NEW if none
// exists. Reads never rewrite the blob or extend the TTL; only mutations do.
func (s *Store) Get(ctx context.Context, customerID, agentID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, blobKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewSession(customerID, agentID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", customerID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", customerID, err)
	}
	return &sess, nil
}

// GetBySessionID resolves a sessionId through the reverse index.
func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	customerID, err := s.rdb.Get(ctx, indexKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session index %s: %w", sessionID, err)
	}

	sess, err := s.Get(ctx, customerID, "")
	if err != nil {
		return nil, err
	}
	if sess.State == StateNew && sess.SessionID != sessionID {
		// Blob expired but index lingered; treat as gone.
		return nil, ErrNotFound
	}
	return sess, nil
}

// Update persists the session: history is truncated to the bound, the blob
// and reverse index are written atomically, and the TTL is refreshed. The
// write CASes on Version and retries once on conflict, reapplying nothing —
// callers own conflict semantics beyond the single retry.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	if len(sess.Messages) > s.maxHistory {
		sess.Messages = sess.Messages[len(sess.Messages)-s.maxHistory:]
	}

	key := blobKey(sess.CustomerID)
	attempt := func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var stored Session
				if jerr := json.Unmarshal(current, &stored); jerr == nil && stored.Version != sess.Version {
					return fmt.Errorf("%w: stored v%d, ours v%d", ErrConflict, stored.Version, sess.Version)
				}
			}

			next := *sess
			next.Version = sess.Version + 1
			blob, err := json.Marshal(&next)
			if err != nil {
				return fmt.Errorf("encode session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, blob, s.ttl)
				pipe.Set(ctx, indexKey(next.SessionID), next.CustomerID, s.ttl)
				return nil
			})
			if err == nil {
				sess.Version = next.Version
			}
			return err
		}, key)
	}

	err := attempt()
	if errors.Is(err, redis.TxFailedErr) {
		err = attempt()
	}
	if err != nil {
		return fmt.Errorf("persist session %s: %w", sess.CustomerID, err)
	}
	return nil
}

// AddMessage appends one history entry and persists.
func (s *Store) AddMessage(ctx context.Context, sess *Session, msg Message) error {
	sess.Append(msg)
	return s.Update(ctx, sess)
}

// UpdateState validates and applies a transition, then persists.
func (s *Store) UpdateState(ctx context.Context, sess *Session, to State) error {
	if err := sess.Transition(to); err != nil {
		return err
	}
	return s.Update(ctx, sess)
}

// UpdateIntent records the current intent and topic, then persists.
func (s *Store) UpdateIntent(ctx context.Context, sess *Session, it intent.Intent, topic string) error {
	sess.CurrentIntent = it
	if topic != "" {
		sess.CurrentTopic = topic
	}
	sess.Touch()
	return s.Update(ctx, sess)
}

// Close terminates a session by sessionId: the state is marked CLOSED and
// both keys are removed. CLOSED is terminal, so the blob has no further use.
func (s *Store) Close(ctx context.Context, sessionID string) error {
	sess, err := s.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := sess.Transition(StateClosed); err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, blobKey(sess.CustomerID))
	pipe.Del(ctx, indexKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

// CheckIdleSessions sweeps ACTIVE sessions whose lastActivity exceeds the
// session timeout and moves them to IDLE. It uses a cursor SCAN — never a
// blocking KEYS — and returns how many sessions it idled.
func (s *Store) CheckIdleSessions(ctx context.Context) (int, error) {
	var (
		cursor uint64
		idled  int
	)
	threshold := time.Now().UTC().Add(-s.ttl)

	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return idled, fmt.Errorf("scan sessions: %w", err)
		}

		for _, key := range keys {
			data, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue // expired between scan and read
			}
			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil {
				slog.Warn("skipping undecodable session blob", "key", key, "error", err)
				continue
			}
			if sess.State != StateActive || !sess.LastActivity.Before(threshold) {
				continue
			}
			if err := s.UpdateState(ctx, &sess, StateIdle); err != nil {
				slog.Error("idle sweep transition failed", "sessionId", sess.SessionID, "error", err)
				continue
			}
			idled++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return idled, nil
}

// MaxHistory exposes the configured history bound.
func (s *Store) MaxHistory() int { return s.maxHistory }

// Timeout exposes the configured session TTL.
func (s *Store) Timeout() time.Duration { return s.ttl }
