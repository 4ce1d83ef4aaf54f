package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ConversationStatus mirrors the session lifecycle into the durable record.
type ConversationStatus string

const (
	ConversationActive       ConversationStatus = "ACTIVE"
	ConversationWaitingAgent ConversationStatus = "WAITING_AGENT"
	ConversationClosed       ConversationStatus = "CLOSED"
)

// Conversation is the durable mirror of one customer thread. The Redis
// session is the working copy; this row is what dashboards and agents read.
type Conversation struct {
	ID            uuid.UUID          `json:"id"`
	CustomerPhone string             `json:"customerPhone"`
	CustomerName  string             `json:"customerName,omitempty"`
	AgentID       string             `json:"agentId"`
	Status        ConversationStatus `json:"status"`
	CurrentIntent string             `json:"currentIntent,omitempty"`
	LeadScore     int                `json:"leadScore"`
	LeadQuality   string             `json:"leadQuality,omitempty"`
	Metadata      json.RawMessage    `json:"metadata,omitempty"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// ConversationUpdate carries every mutable field of one turn. All fields of
// a turn land in a single UPDATE so concurrent writers cannot interleave a
// half-applied turn. Nil fields are left unchanged.
type ConversationUpdate struct {
	Status        *ConversationStatus
	CurrentIntent *string
	LeadScore     *int
	LeadQuality   *string
	Metadata      map[string]any // merged into the existing JSONB object
	LastMessageAt *time.Time
}

// ConversationStore is the durable conversation capability.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, customerPhone, agentID string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	Update(ctx context.Context, id uuid.UUID, upd ConversationUpdate) error
}

// AnalyticsEvent is one append-only fact about a conversation.
type AnalyticsEvent struct {
	ID             uuid.UUID       `json:"id"`
	EventType      string          `json:"eventType"`
	ConversationID uuid.UUID       `json:"conversationId"`
	AgentID        string          `json:"agentId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Event type strings are part of the analytics contract; never rename them.
const (
	EventMessageReceived       = "message_received"
	EventResponseSent          = "response_sent"
	EventConversationEscalated = "conversation_escalated"
	EventAIResumed             = "ai_control_resumed"
	EventHotLead               = "hot_lead_identified"
	EventWarmLead              = "warm_lead_identified"
	EventColdLead              = "cold_lead_identified"
	EventHotLeadNotified       = "hot_lead_notification"
	EventEscalationNotified    = "escalation_notification"
	EventSMSAttempted          = "sms_notification_attempted"
)

// AnalyticsStore appends events. Append must never block a message turn on
// analytics problems; implementations log and return the error for the
// caller to ignore.
type AnalyticsStore interface {
	Append(ctx context.Context, ev AnalyticsEvent) error
}

// AgentProfile is a selling agent with their notification targets.
type AgentProfile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	WhatsAppNumber string `json:"whatsappNumber,omitempty"`
	Email          string `json:"email,omitempty"`
	SMSNumber      string `json:"smsNumber,omitempty"`
	SMSEnabled     bool   `json:"smsEnabled"`
}

// AgentStore resolves agent notification targets.
type AgentStore interface {
	Get(ctx context.Context, id string) (*AgentProfile, error)
}

// Stores aggregates every durable capability the pipeline needs.
type Stores struct {
	Conversations ConversationStore
	Analytics     AnalyticsStore
	Agents        AgentStore
}
