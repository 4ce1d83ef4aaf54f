package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simsarhq/simsar/internal/llm"
	"github.com/simsarhq/simsar/internal/session"
	"github.com/simsarhq/simsar/internal/store"
)

// CustomerMessenger sends a plain text WhatsApp message. Implemented by the
// outbound gateway.
type CustomerMessenger interface {
	SendText(ctx context.Context, to, text string) error
}

// EmailSender delivers agent notification emails.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers agent notification texts.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// LoggedSMSSender writes SMS notifications to the log instead of sending
// them. Stands in until a real SMS provider is configured.
type LoggedSMSSender struct{}

func (LoggedSMSSender) Send(_ context.Context, to, body string) error {
	slog.Info("sms notification (log only)", "to", to, "body", body)
	return nil
}

// Handoff orchestrates the transfer of a conversation to a human agent.
type Handoff struct {
	sessions      *session.Store
	conversations store.ConversationStore
	analytics     store.AnalyticsStore
	agents        store.AgentStore
	client        llm.Client
	messenger     CustomerMessenger
	email         EmailSender // nil disables the channel
	sms           SMSSender   // nil disables the channel
}

func NewHandoff(sessions *session.Store, stores *store.Stores, client llm.Client,
	messenger CustomerMessenger, email EmailSender, sms SMSSender) *Handoff {
	return &Handoff{
		sessions:      sessions,
		conversations: stores.Conversations,
		analytics:     stores.Analytics,
		agents:        stores.Agents,
		client:        client,
		messenger:     messenger,
		email:         email,
		sms:           sms,
	}
}

// Escalate runs the handoff steps. The returned text is the bilingual
// customer notice the caller sends as the reply for this turn.
func (h *Handoff) Escalate(ctx context.Context, sess *session.Session, conv *store.Conversation, det Result) (string, error) {
	status := store.ConversationWaitingAgent
	now := time.Now()
	err := h.conversations.Update(ctx, conv.ID, store.ConversationUpdate{
		Status: &status,
		Metadata: map[string]any{
			"escalated":         true,
			"escalatedAt":       now.Format(time.RFC3339),
			"escalationTrigger": string(det.Trigger),
		},
	})
	if err != nil {
		return "", fmt.Errorf("mark conversation escalated: %w", err)
	}

	if err := sess.Transition(session.StateWaitingAgent); err != nil {
		return "", fmt.Errorf("escalate session %s: %w", sess.SessionID, err)
	}
	if err := h.sessions.Update(ctx, sess); err != nil {
		return "", fmt.Errorf("persist escalated session: %w", err)
	}

	summary := h.summarize(ctx, sess, det)

	// The analytics event is the authoritative in-app notification; it must
	// land before any best-effort channel.
	payload, _ := json.Marshal(map[string]any{
		"trigger": det.Trigger,
		"reason":  det.Reason,
		"urgency": det.Trigger.Urgency(),
		"summary": summary,
	})
	err = h.analytics.Append(ctx, store.AnalyticsEvent{
		EventType:      store.EventConversationEscalated,
		ConversationID: conv.ID,
		AgentID:        sess.AgentID,
		Payload:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("record escalation event: %w", err)
	}

	h.notifyAgent(ctx, sess, conv, det, summary)

	notice := customerNotice(det.Trigger)
	if det.CustomerMessage != "" {
		notice = det.CustomerMessage
	}
	return notice, nil
}

// notifyAgent fans out to the agent's channels. Every channel is best
// effort: a failure is logged and the rest still run.
func (h *Handoff) notifyAgent(ctx context.Context, sess *session.Session, conv *store.Conversation, det Result, summary string) {
	agent, err := h.agents.Get(ctx, sess.AgentID)
	if err != nil {
		slog.Error("escalation: agent profile unavailable, channel fan-out skipped",
			"agentId", sess.AgentID, "error", err)
		return
	}

	urgency := det.Trigger.Urgency()
	body := fmt.Sprintf("Conversation with %s needs you (%s urgency).\nTrigger: %s\n\n%s",
		sess.CustomerID, urgency, det.Trigger, summary)

	if agent.WhatsAppNumber != "" && h.messenger != nil {
		if err := h.messenger.SendText(ctx, agent.WhatsAppNumber, body); err != nil {
			slog.Error("escalation whatsapp notify failed", "agentId", agent.ID, "error", err)
		}
	}
	if agent.Email != "" && h.email != nil {
		subject := fmt.Sprintf("[%s] Customer handoff: %s", strings.ToUpper(urgency), sess.CustomerID)
		if err := h.email.Send(ctx, agent.Email, subject, body); err != nil {
			slog.Error("escalation email notify failed", "agentId", agent.ID, "error", err)
		}
	}
	if agent.SMSEnabled && agent.SMSNumber != "" && h.sms != nil {
		sms := fmt.Sprintf("Handoff (%s): customer %s, trigger %s", urgency, sess.CustomerID, det.Trigger)
		smsErr := h.sms.Send(ctx, agent.SMSNumber, sms)
		if smsErr != nil {
			slog.Error("escalation sms notify failed", "agentId", agent.ID, "error", smsErr)
		}
		h.appendNotifyEvent(ctx, sess, conv, store.EventSMSAttempted, map[string]any{
			"agentId":   agent.ID,
			"delivered": smsErr == nil,
		})
	}

	h.appendNotifyEvent(ctx, sess, conv, store.EventEscalationNotified, map[string]any{
		"agentId": agent.ID,
		"trigger": string(det.Trigger),
		"urgency": urgency,
	})
}

// appendNotifyEvent records a notification attempt. Unlike the escalation
// event itself, these appends never fail the handoff.
func (h *Handoff) appendNotifyEvent(ctx context.Context, sess *session.Session, conv *store.Conversation, eventType string, fields map[string]any) {
	payload, _ := json.Marshal(fields)
	err := h.analytics.Append(ctx, store.AnalyticsEvent{
		EventType:      eventType,
		ConversationID: conv.ID,
		AgentID:        sess.AgentID,
		Payload:        payload,
	})
	if err != nil {
		slog.Error("notification event append failed",
			"eventType", eventType, "conversationId", conv.ID, "error", err)
	}
}

const summaryPrompt = `Summarize this real-estate conversation for the human agent taking over.
Use short bullet points: who the customer is, what they want, budget and
constraints, and why the conversation is being handed off. Keep it under 120 words.`

// summarize asks the LLM for a handoff brief and falls back to a
// deterministic template when the call fails.
func (h *Handoff) summarize(ctx context.Context, sess *session.Session, det Result) string {
	var b strings.Builder
	for _, m := range sess.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	info, _ := json.Marshal(sess.ExtractedInfo)
	user := fmt.Sprintf("Conversation:\n%s\nExtracted info: %s\nHandoff trigger: %s (%s)",
		b.String(), info, det.Trigger, det.Reason)

	temp := float32(0.3)
	resp, err := h.client.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		MaxTokens:   300,
		Temperature: &temp,
	})
	if err == nil && strings.TrimSpace(resp.Content) != "" {
		return strings.TrimSpace(resp.Content)
	}
	if err != nil {
		slog.Warn("handoff summary LLM call failed, using basic summary", "error", err)
	}
	return basicSummary(sess, det)
}

// basicSummary is the deterministic fallback: extracted info plus the last
// three messages.
func basicSummary(sess *session.Session, det Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer: %s\nTrigger: %s (%s)\n", sess.CustomerID, det.Trigger, det.Reason)
	if !sess.ExtractedInfo.IsEmpty() {
		info, _ := json.Marshal(sess.ExtractedInfo)
		fmt.Fprintf(&b, "Known requirements: %s\n", info)
	}
	msgs := sess.Messages
	if len(msgs) > 3 {
		msgs = msgs[len(msgs)-3:]
	}
	if len(msgs) > 0 {
		b.WriteString("Last messages:\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "- %s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}

// customerNotices are the bilingual replies sent while the agent is fetched.
var customerNotices = map[Trigger]string{
	TriggerExplicitRequest: "تمام، هوصلك بأحد مستشارينا حالاً.\nOf course, connecting you with one of our consultants right away.",
	TriggerComplaint:       "أعتذر عن أي إزعاج. أحد مستشارينا هيتواصل معك فوراً لحل الموضوع.\nI'm sorry for any inconvenience. A consultant will reach out immediately to resolve this.",
	TriggerNegotiation:     "أسعارنا قابلة للنقاش مع مستشارينا. هوصلك بأحدهم حالاً.\nOur consultants can discuss pricing options with you. Connecting you now.",
}

const defaultNotice = "هوصلك بأحد مستشارينا العقاريين للمساعدة.\nLet me connect you with one of our property consultants to help further."

func customerNotice(t Trigger) string {
	if msg, ok := customerNotices[t]; ok {
		return msg
	}
	return defaultNotice
}

func getConversation(ctx context.Context, cs store.ConversationStore, id string) (*store.Conversation, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("conversation id %q: %w", id, err)
	}
	conv, err := cs.Get(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return conv, nil
}

// ResumeAIControl moves an escalated conversation back to the AI: reverse
// state transition, customer notice, analytics trail.
func (h *Handoff) ResumeAIControl(ctx context.Context, conversationID string) error {
	conv, err := getConversation(ctx, h.conversations, conversationID)
	if err != nil {
		return err
	}

	sess, err := h.sessions.Get(ctx, conv.CustomerPhone, conv.AgentID)
	if err != nil {
		return fmt.Errorf("load session for resume: %w", err)
	}
	if err := sess.Transition(session.StateActive); err != nil {
		return fmt.Errorf("resume session %s: %w", sess.SessionID, err)
	}
	if err := h.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("persist resumed session: %w", err)
	}

	status := store.ConversationActive
	err = h.conversations.Update(ctx, conv.ID, store.ConversationUpdate{
		Status:   &status,
		Metadata: map[string]any{"escalated": false, "resumedAt": time.Now().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("mark conversation resumed: %w", err)
	}

	notice := "رجعت معاك تاني! كيف أقدر أساعدك؟\nI'm back! How can I help you?"
	if h.messenger != nil {
		if err := h.messenger.SendText(ctx, conv.CustomerPhone, notice); err != nil {
			slog.Error("resume notice failed", "conversationId", conv.ID, "error", err)
		}
	}

	if err := h.analytics.Append(ctx, store.AnalyticsEvent{
		EventType:      store.EventAIResumed,
		ConversationID: conv.ID,
		AgentID:        conv.AgentID,
	}); err != nil {
		slog.Error("resume analytics append failed", "conversationId", conv.ID, "error", err)
	}
	return nil
}
