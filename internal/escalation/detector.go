// Package escalation decides when a conversation must leave the AI and how
// the handoff to a human agent runs.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/simsarhq/simsar/internal/llm"
	"github.com/simsarhq/simsar/internal/session"
)

// Trigger names the escalation cause. Values are part of the analytics
// contract.
type Trigger string

const (
	TriggerExplicitRequest  Trigger = "EXPLICIT_REQUEST"
	TriggerComplaint        Trigger = "COMPLAINT"
	TriggerNegotiation      Trigger = "NEGOTIATION_REQUEST"
	TriggerRepeatedQuestion Trigger = "REPEATED_QUESTION"
	TriggerFrustration      Trigger = "FRUSTRATION_DETECTED"
	TriggerComplexQuery     Trigger = "COMPLEX_QUERY"
)

// Urgency returns the handoff urgency class for a trigger. It drives email
// subject and color only.
func (t Trigger) Urgency() string {
	switch t {
	case TriggerExplicitRequest, TriggerComplaint, TriggerFrustration:
		return "high"
	case TriggerNegotiation, TriggerRepeatedQuestion:
		return "medium"
	}
	return "low"
}

// Result is the detector verdict for one message.
type Result struct {
	ShouldEscalate  bool    `json:"shouldEscalate"`
	Trigger         Trigger `json:"trigger,omitempty"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason,omitempty"`
	CustomerMessage string  `json:"customerMessage,omitempty"`
}

// Detector evaluates the six triggers in priority order; the first match
// wins. The two LLM probes run last because they cost a call each.
type Detector struct {
	client llm.Client
}

func NewDetector(client llm.Client) *Detector {
	return &Detector{client: client}
}

var explicitPatterns = compileAll(
	`(?i)\b(talk|speak|connect)\b.{0,30}\b(human|agent|person|rep|representative|someone)\b`,
	`(?i)\breal (person|human|agent)\b`,
	`عايز\s+(اكلم|أكلم)\s+(حد|بني آدم|موظف)`,
	`(كلمني|وصلني)\s+(حد|موظف|مندوب)`,
	`(اتكلم|أتكلم)\s+مع\s+(حد|موظف|انسان|إنسان)`,
)

var complaintPatterns = compileAll(
	`(?i)\b(complaint|complain|terrible|awful|unacceptable|worst|scam|fraud|misleading)\b`,
	`(?i)\bnot (happy|satisfied)\b`,
	`(شكوى|نصب|احتيال|زفت|فاشل|مش محترم|غير مقبول|هقدم شكوى)`,
)

var negotiationPatterns = compileAll(
	`(?i)\b(discount|negotiate|negotiation|better (price|deal)|lower the price|special (offer|deal))\b`,
	`(?i)\bcan you (do|go) (better|lower)\b`,
	`(خصم|تخفيض|نتفاوض|تفاوض|سعر (احسن|أحسن|اقل|أقل)|عرض خاص)`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Detect runs the trigger chain over one inbound message.
func (d *Detector) Detect(ctx context.Context, message string, sess *session.Session) Result {
	if matchAny(explicitPatterns, message) {
		return Result{ShouldEscalate: true, Trigger: TriggerExplicitRequest, Confidence: 0.95,
			Reason: "customer explicitly asked for a human"}
	}
	if matchAny(complaintPatterns, message) {
		return Result{ShouldEscalate: true, Trigger: TriggerComplaint, Confidence: 0.9,
			Reason: "complaint language detected"}
	}
	if matchAny(negotiationPatterns, message) {
		return Result{ShouldEscalate: true, Trigger: TriggerNegotiation, Confidence: 0.85,
			Reason: "customer wants to negotiate terms"}
	}
	if repeatedQuestion(message, sess.LastUserMessages(5)) {
		return Result{ShouldEscalate: true, Trigger: TriggerRepeatedQuestion, Confidence: 0.8,
			Reason: "same question repeated across recent messages"}
	}

	if r, ok := d.frustrationProbe(ctx, message, sess); ok {
		return r
	}
	if r, ok := d.complexityProbe(ctx, message); ok {
		return r
	}
	return Result{Confidence: 1}
}

// repeatedQuestion reports whether the message is near-identical (Jaccard
// word-set similarity >= 0.7) to at least two of the recent user messages.
func repeatedQuestion(message string, recent []session.Message) bool {
	hits := 0
	for _, m := range recent {
		if m.Content == message {
			continue // the message itself, when already appended
		}
		if JaccardSimilarity(message, m.Content) >= 0.7 {
			hits++
		}
	}
	return hits >= 2
}

// JaccardSimilarity is |A ∩ B| / |A ∪ B| over lowercased word sets.
func JaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?؟،:;\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

const frustrationPrompt = `You rate the emotional state of a real-estate customer message (Arabic or English).
Return ONLY JSON: {"frustrated": true|false, "confidence": 0.0-1.0, "reason": "<short>"}.
frustrated=true only for clear irritation, anger, or exasperation.`

func (d *Detector) frustrationProbe(ctx context.Context, message string, sess *session.Session) (Result, bool) {
	var out struct {
		Frustrated bool    `json:"frustrated"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := d.probe(ctx, frustrationPrompt, probeInput(message, sess), &out); err != nil {
		slog.Warn("frustration probe failed", "error", err)
		return Result{}, false
	}
	if out.Frustrated && out.Confidence >= 0.6 {
		return Result{ShouldEscalate: true, Trigger: TriggerFrustration,
			Confidence: out.Confidence, Reason: out.Reason}, true
	}
	return Result{}, false
}

const complexityPrompt = `You judge whether a real-estate customer question needs a human specialist
(legal disputes, custom contracts, corporate deals, matters outside property sales).
Return ONLY JSON: {"complex": true|false, "confidence": 0.0-1.0, "reason": "<short>"}.
Ordinary questions about listings, prices, payment plans, and viewings are NOT complex.`

func (d *Detector) complexityProbe(ctx context.Context, message string) (Result, bool) {
	var out struct {
		Complex    bool    `json:"complex"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := d.probe(ctx, complexityPrompt, message, &out); err != nil {
		slog.Warn("complexity probe failed", "error", err)
		return Result{}, false
	}
	if out.Complex && out.Confidence >= 0.7 {
		return Result{ShouldEscalate: true, Trigger: TriggerComplexQuery,
			Confidence: out.Confidence, Reason: out.Reason}, true
	}
	return Result{}, false
}

func probeInput(message string, sess *session.Session) string {
	recent := sess.LastUserMessages(3)
	if len(recent) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString("Recent messages:\n")
	for _, m := range recent {
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Current message: ")
	b.WriteString(message)
	return b.String()
}

// probe runs one JSON-constrained low-temperature LLM call.
func (d *Detector) probe(ctx context.Context, system, user string, out any) error {
	temp := float32(0.3)
	resp, err := d.client.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		MaxTokens:   150,
		Temperature: &temp,
		JSONMode:    true,
	})
	if err != nil {
		return err
	}

	body := resp.Content
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	if err := json.Unmarshal([]byte(body), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return fmt.Errorf("probe output unparseable: %w", err)
	}
	return json.Unmarshal([]byte(repaired), out)
}
