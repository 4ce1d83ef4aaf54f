package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/simsarhq/simsar/internal/escalation"
	"github.com/simsarhq/simsar/internal/session"
	"github.com/simsarhq/simsar/internal/store"
)

// Notification is what the router produced for one quality change. The
// caller merges Metadata into the same conversation update that writes the
// score, so score and notification state land in one atomic write.
type Notification struct {
	QualityChanged bool
	Metadata       map[string]any
}

// Router gates lead notifications on quality transitions.
type Router struct {
	analytics store.AnalyticsStore
	agents    store.AgentStore
	messenger escalation.CustomerMessenger
	email     escalation.EmailSender // nil disables
}

func NewRouter(stores *store.Stores, messenger escalation.CustomerMessenger, email escalation.EmailSender) *Router {
	return &Router{
		analytics: stores.Analytics,
		agents:    stores.Agents,
		messenger: messenger,
		email:     email,
	}
}

// Route compares the new quality with the conversation's previous one and
// notifies on change only. Unchanged quality is a silent no-op: scoring runs
// every turn and would otherwise spam the agent.
func (r *Router) Route(ctx context.Context, sess *session.Session, conv *store.Conversation, score Score) Notification {
	if conv.LeadQuality == score.Quality {
		return Notification{}
	}

	eventType := map[string]string{
		QualityHot:  store.EventHotLead,
		QualityWarm: store.EventWarmLead,
		QualityCold: store.EventColdLead,
	}[score.Quality]

	payload, _ := json.Marshal(map[string]any{
		"score":           score.Total,
		"quality":         score.Quality,
		"previousQuality": conv.LeadQuality,
		"factors":         score.Factors,
	})
	err := r.analytics.Append(ctx, store.AnalyticsEvent{
		EventType:      eventType,
		ConversationID: conv.ID,
		AgentID:        sess.AgentID,
		Payload:        payload,
	})
	if err != nil {
		slog.Error("lead event append failed", "conversationId", conv.ID, "error", err)
	}

	meta := map[string]any{
		"lastNotification": time.Now().Format(time.RFC3339),
		"previousQuality":  conv.LeadQuality,
	}
	if score.Quality == QualityHot {
		r.notifyHot(ctx, sess, conv, score)
		meta["hotLeadAlerted"] = true
	}
	return Notification{QualityChanged: true, Metadata: meta}
}

// notifyHot pushes the immediate alert to the agent. Channels are best
// effort, same policy as escalation fan-out.
func (r *Router) notifyHot(ctx context.Context, sess *session.Session, conv *store.Conversation, score Score) {
	agent, err := r.agents.Get(ctx, sess.AgentID)
	if err != nil {
		slog.Error("hot lead: agent profile unavailable", "agentId", sess.AgentID, "error", err)
		return
	}

	body := fmt.Sprintf("Hot lead: %s scored %d/100.\nBudget clarity %.0f, urgency %.0f. Reach out soon.",
		sess.CustomerID, score.Total, score.Factors.BudgetClarity, score.Factors.Urgency)

	if agent.WhatsAppNumber != "" && r.messenger != nil {
		if err := r.messenger.SendText(ctx, agent.WhatsAppNumber, body); err != nil {
			slog.Error("hot lead whatsapp notify failed", "agentId", agent.ID, "error", err)
		}
	}
	if agent.Email != "" && r.email != nil {
		subject := fmt.Sprintf("Hot lead: %s (%d/100)", sess.CustomerID, score.Total)
		if err := r.email.Send(ctx, agent.Email, subject, body); err != nil {
			slog.Error("hot lead email notify failed", "agentId", agent.ID, "error", err)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"score":    score.Total,
		"agentId":  agent.ID,
		"customer": sess.CustomerID,
	})
	err = r.analytics.Append(ctx, store.AnalyticsEvent{
		EventType:      store.EventHotLeadNotified,
		ConversationID: conv.ID,
		AgentID:        sess.AgentID,
		Payload:        payload,
	})
	if err != nil {
		slog.Error("hot lead notification event append failed", "conversationId", conv.ID, "error", err)
	}
}
