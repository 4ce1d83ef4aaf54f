package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration, maxHistory int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, ttl, maxHistory), mr
}

func TestGet_CreatesNewWithoutPersisting(t *testing.T) {
	store, mr := newTestStore(t, time.Minute, 20)
	ctx := context.Background()

	sess, err := store.Get(ctx, "+201001234567", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateNew {
		t.Errorf("state = %s, want NEW", sess.State)
	}
	// A pure read must not write: TTL-extension on get was the original bug.
	if mr.Exists("session:+201001234567") {
		t.Error("Get persisted a blob; reads must not rewrite")
	}
}

func TestUpdate_PersistsBlobAndReverseIndexWithTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute, 20)
	ctx := context.Background()

	sess, _ := store.Get(ctx, "+201001234567", "agent-1")
	if err := sess.Transition(StateActive); err != nil {
		t.Fatal(err)
	}
	if err := store.Update(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if !mr.Exists("session:+201001234567") {
		t.Fatal("blob not written")
	}
	if got, _ := mr.Get("session-index:" + sess.SessionID); got != "+201001234567" {
		t.Errorf("reverse index = %q, want customer phone", got)
	}
	if ttl := mr.TTL("session:+201001234567"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("blob TTL = %v, want (0, 1m]", ttl)
	}
	if ttl := mr.TTL("session-index:" + sess.SessionID); ttl <= 0 || ttl > time.Minute {
		t.Errorf("index TTL = %v, want (0, 1m]", ttl)
	}
}

func TestGetBySessionID_ReverseLookup(t *testing.T) {
	store, _ := newTestStore(t, time.Minute, 20)
	ctx := context.Background()

	sess, _ := store.Get(ctx, "+201001234567", "agent-1")
	sess.Transition(StateActive)
	store.Update(ctx, sess)

	got, err := store.GetBySessionID(ctx, sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CustomerID != "+201001234567" {
		t.Errorf("CustomerID = %s", got.CustomerID)
	}

	if _, err := store.GetBySessionID(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_TruncatesHistoryToBound(t *testing.T) {
	store, _ := newTestStore(t, time.Minute, 5)
	ctx := context.Background()

	sess, _ := store.Get(ctx, "+201001234567", "agent-1")
	sess.Transition(StateActive)
	for i := 0; i < 12; i++ {
		sess.Append(Message{Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}
	if err := store.Update(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if len(sess.Messages) != 5 {
		t.Fatalf("history length = %d, want 5", len(sess.Messages))
	}
	// Oldest evicted first: the retained window is the tail.
	if sess.Messages[0].Content != "msg 7" {
		t.Errorf("head = %q, want \"msg 7\"", sess.Messages[0].Content)
	}

	reloaded, _ := store.Get(ctx, "+201001234567", "agent-1")
	if len(reloaded.Messages) != 5 {
		t.Errorf("persisted history length = %d, want 5", len(reloaded.Messages))
	}
}

func TestUpdate_VersionConflictDetected(t *testing.T) {
	store, _ := newTestStore(t, time.Minute, 20)
	ctx := context.Background()

	sess, _ := store.Get(ctx, "+201001234567", "agent-1")
	sess.Transition(StateActive)
	if err := store.Update(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// A second worker loads and persists the same session.
	other, _ := store.Get(ctx, "+201001234567", "agent-1")
	other.CurrentTopic = "payment plans"
	if err := store.Update(ctx, other); err != nil {
		t.Fatal(err)
	}

	// Our stale copy must lose the CAS.
	sess.CurrentTopic = "viewing"
	err := store.Update(ctx, sess)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestClose_RemovesBlobAndIndex(t *testing.T) {
	store, mr := newTestStore(t, time.Minute, 20)
	ctx := context.Background()

	sess, _ := store.Get(ctx, "+201001234567", "agent-1")
	sess.Transition(StateActive)
	store.Update(ctx, sess)

	if err := store.Close(ctx, sess.SessionID); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("session:+201001234567") || mr.Exists("session-index:"+sess.SessionID) {
		t.Error("close left keys behind")
	}
}

func TestCheckIdleSessions_MovesStaleActiveToIdle(t *testing.T) {
	store, _ := newTestStore(t, 30*time.Minute, 20)
	ctx := context.Background()

	stale, _ := store.Get(ctx, "+201001111111", "agent-1")
	stale.Transition(StateActive)
	store.Update(ctx, stale)
	// Backdate activity past the timeout and re-persist.
	stale.LastActivity = time.Now().UTC().Add(-31 * time.Minute)
	store.Update(ctx, stale)

	fresh, _ := store.Get(ctx, "+201002222222", "agent-1")
	fresh.Transition(StateActive)
	store.Update(ctx, fresh)

	idled, err := store.CheckIdleSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idled != 1 {
		t.Fatalf("idled = %d, want 1", idled)
	}

	got, _ := store.Get(ctx, "+201001111111", "agent-1")
	if got.State != StateIdle {
		t.Errorf("stale session state = %s, want IDLE", got.State)
	}
	got2, _ := store.Get(ctx, "+201002222222", "agent-1")
	if got2.State != StateActive {
		t.Errorf("fresh session state = %s, want ACTIVE", got2.State)
	}
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute, 20)
	ctx := context.Background()

	sess, _ := store.Get(ctx, "+201001234567", "agent-1")
	sess.Transition(StateActive)
	store.Update(ctx, sess)

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "+201001234567", "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateNew {
		t.Errorf("expected a fresh NEW session after TTL expiry, got %s", got.State)
	}
	if _, err := store.GetBySessionID(ctx, sess.SessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("index should expire with blob, got %v", err)
	}
}
