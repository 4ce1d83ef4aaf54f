package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simsarhq/simsar/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

const conversationCols = `id, customer_phone, customer_name, agent_id, status, current_intent,
	lead_score, lead_quality, metadata, last_message_at, created_at, updated_at`

func (s *PGConversationStore) GetOrCreate(ctx context.Context, customerPhone, agentID string) (*store.Conversation, error) {
	now := time.Now()
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, customer_phone, agent_id, status, metadata, last_message_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, '{}', $5, $5, $5)
		 ON CONFLICT (customer_phone, agent_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING `+conversationCols,
		uuid.Must(uuid.NewV7()), customerPhone, agentID, store.ConversationActive, now)
	return scanConversation(row)
}

func (s *PGConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// Update applies every changed field of one turn in a single UPDATE. The
// metadata merge happens inside Postgres (`metadata || $n`) so concurrent
// turns cannot clobber each other's keys.
func (s *PGConversationStore) Update(ctx context.Context, id uuid.UUID, upd store.ConversationUpdate) error {
	set := []string{"updated_at = now()"}
	args := []any{id}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if upd.Status != nil {
		set = append(set, "status = "+arg(*upd.Status))
	}
	if upd.CurrentIntent != nil {
		set = append(set, "current_intent = "+arg(*upd.CurrentIntent))
	}
	if upd.LeadScore != nil {
		set = append(set, "lead_score = "+arg(*upd.LeadScore))
	}
	if upd.LeadQuality != nil {
		set = append(set, "lead_quality = "+arg(*upd.LeadQuality))
	}
	if upd.LastMessageAt != nil {
		set = append(set, "last_message_at = "+arg(*upd.LastMessageAt))
	}
	if len(upd.Metadata) > 0 {
		patch, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata patch: %w", err)
		}
		set = append(set, "metadata = coalesce(metadata, '{}'::jsonb) || "+arg(patch)+"::jsonb")
	}

	query := "UPDATE conversations SET " + joinSet(set) + " WHERE id = $1"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func joinSet(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

func scanConversation(row *sql.Row) (*store.Conversation, error) {
	var c store.Conversation
	var name, intent, quality sql.NullString
	var metadata []byte
	err := row.Scan(&c.ID, &c.CustomerPhone, &name, &c.AgentID, &c.Status, &intent,
		&c.LeadScore, &quality, &metadata, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.CustomerName = name.String
	c.CurrentIntent = intent.String
	c.LeadQuality = quality.String
	c.Metadata = metadata
	return &c, nil
}
