// Package session holds per-customer conversational state in a shared Redis:
// one JSON blob per customer with a TTL, a reverse index for sessionID lookup,
// and a strict lifecycle state machine.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simsarhq/simsar/internal/bus"
	"github.com/simsarhq/simsar/internal/intent"
)

// State is the session lifecycle state.
type State string

const (
	StateNew          State = "NEW"
	StateActive       State = "ACTIVE"
	StateIdle         State = "IDLE"
	StateWaitingAgent State = "WAITING_AGENT"
	StateClosed       State = "CLOSED"
)

// ErrInvalidTransition is returned for state-machine moves outside the legal
// set. It is never retried and never crashes a worker.
var ErrInvalidTransition = errors.New("invalid session state transition")

// legalTransitions lists the only allowed moves. Self-transitions are always
// legal. CLOSED is terminal.
var legalTransitions = map[State][]State{
	StateNew:          {StateActive},
	StateActive:       {StateIdle, StateWaitingAgent, StateClosed},
	StateIdle:         {StateActive, StateClosed},
	StateWaitingAgent: {StateActive, StateClosed},
	StateClosed:       {},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Role identifies who authored a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
)

// Message is one entry in the session history. Content is text, or a media /
// location descriptor rendered as text for history purposes.
type Message struct {
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Type      bus.MessageType `json:"type,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Scheduling is the optional viewing-scheduling sub-state.
type Scheduling struct {
	Stage        string     `json:"stage"` // "proposed", "confirmed"
	PropertyID   string     `json:"propertyId,omitempty"`
	ProposedTime *time.Time `json:"proposedTime,omitempty"`
}

// Session is the per-customer conversational state container and the unit of
// concurrency control.
type Session struct {
	SessionID  string    `json:"sessionId"`
	CustomerID string    `json:"customerId"` // canonical phone
	AgentID    string    `json:"agentId"`
	StartTime  time.Time `json:"startTime"`
	State      State     `json:"state"`

	Messages           []Message            `json:"messageHistory"`
	ExtractedInfo      intent.ExtractedInfo `json:"extractedInfo"`
	CurrentIntent      intent.Intent        `json:"currentIntent,omitempty"`
	CurrentTopic       string               `json:"currentTopic,omitempty"`
	LastActivity       time.Time            `json:"lastActivity"`
	LanguagePreference string               `json:"languagePreference,omitempty"` // "ar", "en", "mixed"
	Scheduling         *Scheduling          `json:"scheduling,omitempty"`

	// Version implements optimistic concurrency: Update CASes on it.
	Version int64 `json:"version"`
}

// NewSession mints a fresh session in NEW for a customer.
func NewSession(customerID, agentID string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:    uuid.Must(uuid.NewV7()).String(),
		CustomerID:   customerID,
		AgentID:      agentID,
		StartTime:    now,
		State:        StateNew,
		Messages:     []Message{},
		LastActivity: now,
	}
}

// Transition applies a state change after validating it against the state
// machine. LastActivity is only ever moved forward.
func (s *Session) Transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	s.Touch()
	return nil
}

// Touch advances LastActivity, keeping it monotonically non-decreasing.
func (s *Session) Touch() {
	if now := time.Now().UTC(); now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// Append adds a history entry in memory. Truncation to the history bound
// happens only at persist time, in Store.Update.
func (s *Session) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
	s.Touch()
}

// LastUserMessages returns up to n most recent user-role entries, oldest
// first. Used by the repeated-question escalation trigger.
func (s *Session) LastUserMessages(n int) []Message {
	var out []Message
	for i := len(s.Messages) - 1; i >= 0 && len(out) < n; i-- {
		if s.Messages[i].Role == RoleUser {
			out = append(out, s.Messages[i])
		}
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// UserMessageCount counts user-role entries in the retained history.
func (s *Session) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
