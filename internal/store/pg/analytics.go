package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simsarhq/simsar/internal/store"
)

// PGAnalyticsStore implements store.AnalyticsStore as an append-only table.
type PGAnalyticsStore struct {
	db *sql.DB
}

func NewPGAnalyticsStore(db *sql.DB) *PGAnalyticsStore {
	return &PGAnalyticsStore{db: db}
}

func (s *PGAnalyticsStore) Append(ctx context.Context, ev store.AnalyticsEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.Must(uuid.NewV7())
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_events (id, event_type, conversation_id, agent_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.EventType, ev.ConversationID, ev.AgentID, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append analytics event %s: %w", ev.EventType, err)
	}
	return nil
}
