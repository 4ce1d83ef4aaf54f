package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simsarhq/simsar/internal/store"
)

// PGAgentStore implements store.AgentStore backed by Postgres.
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore {
	return &PGAgentStore{db: db}
}

func (s *PGAgentStore) Get(ctx context.Context, id string) (*store.AgentProfile, error) {
	var a store.AgentProfile
	var whatsapp, email, sms sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, whatsapp_number, email, sms_number, sms_enabled
		 FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &whatsapp, &email, &sms, &a.SMSEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	a.WhatsAppNumber = whatsapp.String
	a.Email = email.String
	a.SMSNumber = sms.String
	return &a, nil
}
