// Package dispatcher orchestrates one inbound message end to end: session
// state, classification, retrieval, generation, post-processing, escalation,
// lead scoring, and the outbound send.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/simsarhq/simsar/internal/bus"
	"github.com/simsarhq/simsar/internal/channels"
	"github.com/simsarhq/simsar/internal/escalation"
	"github.com/simsarhq/simsar/internal/intent"
	"github.com/simsarhq/simsar/internal/leads"
	"github.com/simsarhq/simsar/internal/llm"
	"github.com/simsarhq/simsar/internal/postprocess"
	"github.com/simsarhq/simsar/internal/queue"
	"github.com/simsarhq/simsar/internal/rag"
	"github.com/simsarhq/simsar/internal/session"
	"github.com/simsarhq/simsar/internal/store"
)

const systemPromptBase = `You are a helpful real-estate sales assistant for an Egyptian property agency.
Answer in the customer's language (Arabic, English, or their mix). Be concise
and warm. Only state facts about properties that appear in the provided
context; never invent listings, prices, or availability.`

// fallbackReply is sent when the LLM is unavailable. Bilingual by design so
// it works regardless of the customer's language.
const fallbackReply = "عذراً، حصلت مشكلة مؤقتة. حاول تاني بعد شوية أو اطلب التحدث مع أحد مستشارينا.\n" +
	"Sorry, something went wrong on our side. Please try again shortly or ask to talk to one of our consultants."

// Outcome reports what one message produced. Processed is true whenever the
// job must not be retried.
type Outcome struct {
	Processed         bool
	ResponseGenerated bool
	Escalated         bool
	Intent            intent.Intent
}

// Dispatcher wires the pipeline stages.
type Dispatcher struct {
	sessions  *session.Store
	stores    *store.Stores
	client    llm.Client
	extractor *intent.Extractor
	retriever *rag.Retriever
	detector  *escalation.Detector
	handoff   *escalation.Handoff
	leadRoute *leads.Router
	sender    *channels.Sender
}

func New(sessions *session.Store, stores *store.Stores, client llm.Client,
	extractor *intent.Extractor, retriever *rag.Retriever,
	detector *escalation.Detector, handoff *escalation.Handoff,
	leadRoute *leads.Router, sender *channels.Sender) *Dispatcher {
	return &Dispatcher{
		sessions:  sessions,
		stores:    stores,
		client:    client,
		extractor: extractor,
		retriever: retriever,
		detector:  detector,
		handoff:   handoff,
		leadRoute: leadRoute,
		sender:    sender,
	}
}

// HandleJob is the queue handler.
func (d *Dispatcher) HandleJob(ctx context.Context, job *queue.Job) error {
	_, err := d.Handle(ctx, job.Message)
	return err
}

// Handle processes one parsed message. Errors returned here are retryable;
// handled degradations (LLM down, empty context) are not errors.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.ParsedMessage) (Outcome, error) {
	sess, err := d.sessions.Get(ctx, msg.From, msg.AgentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load session: %w", err)
	}

	// Retried jobs whose turn already landed in history only need the send
	// repeated. Everything before the send is idempotent per message ID.
	if reply, ok := priorReply(sess, msg.MessageID); ok {
		if err := d.sender.Send(ctx, bus.OutboundMessage{To: msg.From, Type: bus.TypeText, Text: reply}); err != nil {
			return Outcome{}, fmt.Errorf("resend reply: %w", err)
		}
		return Outcome{Processed: true, ResponseGenerated: true, Intent: sess.CurrentIntent}, nil
	}

	// Candidate transition, in memory only; persisted with the turn.
	switch sess.State {
	case session.StateNew, session.StateIdle:
		if err := sess.Transition(session.StateActive); err != nil {
			return Outcome{}, err
		}
	case session.StateWaitingAgent:
		// A human owns this thread; record the message and stay silent.
		sess.Append(userMessage(msg))
		if err := d.sessions.Update(ctx, sess); err != nil {
			return Outcome{}, fmt.Errorf("persist message during handoff: %w", err)
		}
		return Outcome{Processed: true}, nil
	}

	conv, err := d.stores.Conversations.GetOrCreate(ctx, msg.From, msg.AgentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load conversation: %w", err)
	}
	d.appendEvent(ctx, conv, sess.AgentID, store.EventMessageReceived, map[string]any{
		"messageId": msg.MessageID, "type": msg.Type,
	})

	text := msg.Text
	switch {
	case msg.Type.IsMedia():
		return d.handleNonText(ctx, sess, conv, msg, mediaHistoryLine(msg))
	case msg.Type == bus.TypeLocation:
		return d.handleNonText(ctx, sess, conv, msg, locationHistoryLine(msg))
	case msg.Type == bus.TypeInteractive:
		text = buttonText(msg.ButtonPayload)
		if text == "" {
			text = msg.Text
		}
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("empty message, nothing to do", "messageId", msg.MessageID)
		return Outcome{Processed: true}, nil
	}

	return d.handleText(ctx, sess, conv, msg, text)
}

func (d *Dispatcher) handleText(ctx context.Context, sess *session.Session, conv *store.Conversation, msg bus.ParsedMessage, text string) (Outcome, error) {
	lang := postprocess.DetectLanguage(text)
	sess.LanguagePreference = string(lang)

	// For button replies text is the mapped phrase, not msg.Text.
	userMsg := userMessage(msg)
	userMsg.Content = text

	history := make([]string, 0, 5)
	for _, m := range sess.LastUserMessages(5) {
		history = append(history, m.Content)
	}

	cls := d.extractor.Classify(ctx, text, history)
	sess.ExtractedInfo = intent.Merge(sess.ExtractedInfo, cls.Entities)
	sess.CurrentIntent = cls.Intent
	sess.CurrentTopic = cls.Explanation

	// A viewing request opens the scheduling sub-state; the agent confirms
	// the slot out of band, so it stays at "proposed" here.
	if cls.Intent == intent.ScheduleViewing && sess.Scheduling == nil {
		sess.Scheduling = &session.Scheduling{Stage: "proposed"}
	}

	if det := d.detector.Detect(ctx, text, sess); det.ShouldEscalate {
		return d.escalate(ctx, sess, conv, userMsg, det)
	}

	// Retrieval failure fails closed: the model answers without context
	// rather than the job failing.
	var matches []rag.PropertyMatch
	prompt := systemPromptBase
	if cls.Intent != intent.Greeting && cls.Intent != intent.Goodbye {
		augmented, rc, err := d.retriever.AugmentPrompt(ctx, systemPromptBase, text, sess.AgentID, rag.Options{
			Filters: intent.ExtractSearchFilters(sess.ExtractedInfo),
		})
		if err != nil {
			slog.Error("retrieval failed, answering without context", "messageId", msg.MessageID, "error", err)
		} else {
			prompt = augmented
			matches = rc.Properties
		}
	}

	reply, genErr := d.generate(ctx, prompt, sess, text)

	sess.Append(userMsg)
	if genErr != nil {
		// The user turn still counts; the customer gets the bilingual
		// fallback and the job is done (not retried).
		slog.Error("llm generation failed, sending fallback", "messageId", msg.MessageID, "error", genErr)
		sess.Append(session.Message{Role: session.RoleAssistant, Content: fallbackReply, Type: bus.TypeText})
		if err := d.sessions.Update(ctx, sess); err != nil {
			return Outcome{}, fmt.Errorf("persist session after llm failure: %w", err)
		}
		d.send(ctx, bus.OutboundMessage{To: msg.From, Type: bus.TypeText, Text: fallbackReply})
		return Outcome{Processed: true, Intent: cls.Intent}, nil
	}

	out := postprocess.Process(postprocess.Input{
		LLMText:      reply,
		Intent:       cls.Intent,
		Properties:   matches,
		CustomerName: customerName(conv, msg),
		Entities:     sess.ExtractedInfo,
		Language:     lang,
	})

	if out.RequiresEscalation {
		det := escalation.Result{
			ShouldEscalate:  true,
			Trigger:         escalation.TriggerExplicitRequest,
			Confidence:      cls.Confidence,
			Reason:          "response post-processing flagged a handoff",
			CustomerMessage: text,
		}
		if cls.Intent == intent.Complaint {
			det.Trigger = escalation.TriggerComplaint
		}
		return d.escalate(ctx, sess, conv, userMsg, det)
	}

	sess.Append(session.Message{Role: session.RoleAssistant, Content: out.Text, Type: bus.TypeText})
	if err := d.sessions.Update(ctx, sess); err != nil {
		return Outcome{}, fmt.Errorf("persist session: %w", err)
	}

	d.finishTurn(ctx, sess, conv, cls.Intent)

	// A rate-limited send is the one failure worth retrying: the turn is
	// persisted, so the retry resends without regenerating.
	err := d.sender.Send(ctx, bus.OutboundMessage{
		To:       msg.From,
		Type:     bus.TypeText,
		Text:     out.Text,
		Cards:    out.Cards,
		Buttons:  out.Buttons,
		Location: out.Location,
	})
	if errors.Is(err, channels.ErrRateLimited) {
		return Outcome{}, err
	}
	if err != nil {
		slog.Error("outbound send failed", "to", msg.From, "error", err)
	}
	d.appendEvent(ctx, conv, sess.AgentID, store.EventResponseSent, map[string]any{
		"intent": cls.Intent, "template": out.UsedTemplate,
	})

	return Outcome{Processed: true, ResponseGenerated: true, Intent: cls.Intent}, nil
}

// escalate short-circuits the turn into the handoff flow. The user message
// and the customer notice land in history in the same persist.
func (d *Dispatcher) escalate(ctx context.Context, sess *session.Session, conv *store.Conversation, userMsg session.Message, det escalation.Result) (Outcome, error) {
	sess.Append(userMsg)

	notice, err := d.handoff.Escalate(ctx, sess, conv, det)
	if err != nil {
		return Outcome{}, fmt.Errorf("handoff: %w", err)
	}

	sess.Append(session.Message{Role: session.RoleAssistant, Content: notice, Type: bus.TypeText})
	if err := d.sessions.Update(ctx, sess); err != nil {
		return Outcome{}, fmt.Errorf("persist escalated session: %w", err)
	}

	d.send(ctx, bus.OutboundMessage{To: sess.CustomerID, Type: bus.TypeText, Text: notice})
	return Outcome{Processed: true, ResponseGenerated: true, Escalated: true, Intent: sess.CurrentIntent}, nil
}

// handleNonText records media and location messages without generating a
// reply.
func (d *Dispatcher) handleNonText(ctx context.Context, sess *session.Session, conv *store.Conversation, msg bus.ParsedMessage, line string) (Outcome, error) {
	m := userMessage(msg)
	m.Content = line
	sess.Append(m)
	if err := d.sessions.Update(ctx, sess); err != nil {
		return Outcome{}, fmt.Errorf("persist non-text message: %w", err)
	}

	now := time.Now()
	if err := d.stores.Conversations.Update(ctx, conv.ID, store.ConversationUpdate{LastMessageAt: &now}); err != nil {
		slog.Error("conversation touch failed", "conversationId", conv.ID, "error", err)
	}
	slog.Info("non-text message recorded", "messageId", msg.MessageID, "type", msg.Type)
	return Outcome{Processed: true}, nil
}

// finishTurn scores the lead and writes every conversation change of this
// turn in one atomic update.
func (d *Dispatcher) finishTurn(ctx context.Context, sess *session.Session, conv *store.Conversation, it intent.Intent) {
	score := leads.CalculateScore(sess)
	notification := d.leadRoute.Route(ctx, sess, conv, score)

	now := time.Now()
	intentStr := string(it)
	upd := store.ConversationUpdate{
		CurrentIntent: &intentStr,
		LeadScore:     &score.Total,
		LeadQuality:   &score.Quality,
		LastMessageAt: &now,
		Metadata:      map[string]any{"leadFactors": score.Factors},
	}
	for k, v := range notification.Metadata {
		upd.Metadata[k] = v
	}
	if err := d.stores.Conversations.Update(ctx, conv.ID, upd); err != nil {
		slog.Error("conversation update failed", "conversationId", conv.ID, "error", err)
	}
}

func (d *Dispatcher) generate(ctx context.Context, systemPrompt string, sess *session.Session, text string) (string, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	for _, m := range sess.Messages {
		role := llm.RoleUser
		if m.Role != session.RoleUser {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := d.client.Generate(ctx, llm.GenerateRequest{Messages: msgs, MaxTokens: 800})
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", fmt.Errorf("empty completion")
	}
	return reply, nil
}

func (d *Dispatcher) send(ctx context.Context, msg bus.OutboundMessage) {
	if err := d.sender.Send(ctx, msg); err != nil {
		slog.Error("outbound send failed", "to", msg.To, "error", err)
	}
}

func (d *Dispatcher) appendEvent(ctx context.Context, conv *store.Conversation, agentID, eventType string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	err := d.stores.Analytics.Append(ctx, store.AnalyticsEvent{
		EventType:      eventType,
		ConversationID: conv.ID,
		AgentID:        agentID,
		Payload:        data,
	})
	if err != nil {
		slog.Error("analytics append failed", "eventType", eventType, "error", err)
	}
}

// priorReply finds the assistant reply that followed the given inbound
// message ID, if this message was already processed in a previous attempt.
func priorReply(sess *session.Session, messageID string) (string, bool) {
	if messageID == "" {
		return "", false
	}
	for i, m := range sess.Messages {
		if m.Role == session.RoleUser && m.MessageID == messageID {
			for _, next := range sess.Messages[i+1:] {
				if next.Role == session.RoleAssistant {
					return next.Content, true
				}
			}
			return "", false
		}
	}
	return "", false
}

func customerName(conv *store.Conversation, msg bus.ParsedMessage) string {
	if conv.CustomerName != "" {
		return conv.CustomerName
	}
	return msg.FromName
}

func userMessage(msg bus.ParsedMessage) session.Message {
	return session.Message{
		Role:      session.RoleUser,
		Content:   msg.Text,
		Type:      msg.Type,
		MessageID: msg.MessageID,
		Timestamp: msg.Timestamp,
	}
}

func mediaHistoryLine(msg bus.ParsedMessage) string {
	line := fmt.Sprintf("[%s]", msg.Type)
	if msg.Media != nil && msg.Media.Caption != "" {
		line += " " + msg.Media.Caption
	}
	return line
}

func locationHistoryLine(msg bus.ParsedMessage) string {
	if msg.Location == nil {
		return "[location]"
	}
	return fmt.Sprintf("[location %.5f,%.5f]", msg.Location.Latitude, msg.Location.Longitude)
}

// buttonText maps interactive button payloads to the text the pipeline
// understands.
func buttonText(payload string) string {
	switch payload {
	case bus.ButtonScheduleViewing:
		return "I would like to schedule a viewing"
	case bus.ButtonTalkToAgent:
		return "I want to talk to an agent"
	case bus.ButtonCalculatePayment:
		return "Can you calculate the payment plan for me?"
	case bus.ButtonViewMap:
		return "Where is this property located?"
	}
	return ""
}
