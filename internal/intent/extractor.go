package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/simsarhq/simsar/internal/llm"
)

const classifyPrompt = `You classify WhatsApp messages from real-estate customers in Egypt.
Messages arrive in Arabic, English, or a mix of both.

Return ONLY a JSON object with this shape:
{
  "intent": "<one of: PROPERTY_INQUIRY, PRICE_INQUIRY, PAYMENT_PLANS, LOCATION_INFO, SCHEDULE_VIEWING, COMPARISON, GENERAL_QUESTION, COMPLAINT, AGENT_REQUEST, GREETING, GOODBYE>",
  "entities": {
    "budget": <number or omit>, "minPrice": <number>, "maxPrice": <number>,
    "location": "<string>", "city": "<string>", "district": "<string>",
    "propertyType": "<apartment|villa|duplex|studio|townhouse|chalet|office|land>",
    "bedrooms": <int>, "bathrooms": <int>,
    "minArea": <sqm>, "maxArea": <sqm>, "area": <sqm>,
    "amenities": ["<string>"],
    "deliveryTimeline": "<string>", "urgency": "<low|medium|high>",
    "paymentMethod": "<cash|installments|mortgage>",
    "downPaymentPercentage": <0-100>, "installmentYears": <int>,
    "purpose": "<residence|investment>", "customerName": "<string>"
  },
  "confidence": <0.0-1.0>,
  "explanation": "<one short sentence>"
}

Omit any entity the message does not state. Never invent values.`

// Extractor classifies one user turn into an intent plus entities.
type Extractor struct {
	client llm.Client
	model  string
}

// NewExtractor creates the classifier. model empty means the client default.
func NewExtractor(client llm.Client, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Classify runs the LLM over the message with recent history for context.
// Any failure along the way degrades to the keyword fallback rather than
// erroring: classification must always produce something actionable.
func (e *Extractor) Classify(ctx context.Context, message string, history []string) Classification {
	req := llm.GenerateRequest{
		Model:       e.model,
		MaxTokens:   500,
		Temperature: tempPtr(0.1),
		JSONMode:    true,
		Messages:    e.buildMessages(message, history),
	}

	resp, err := e.client.Generate(ctx, req)
	if err != nil {
		slog.Warn("intent classification LLM call failed, using keyword fallback", "error", err)
		return FallbackClassify(message)
	}

	c, err := parseClassification(resp.Content)
	if err != nil {
		slog.Warn("intent classification unparseable, using keyword fallback", "error", err)
		return FallbackClassify(message)
	}
	return sanitize(c)
}

func (e *Extractor) buildMessages(message string, history []string) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: classifyPrompt}}
	if len(history) > 0 {
		var b strings.Builder
		b.WriteString("Recent messages from this customer, oldest first:\n")
		for _, h := range history {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: b.String()})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
	return msgs
}

// parseClassification extracts the JSON object from the model output. Models
// wrap JSON in prose or fences often enough that we scan for the outermost
// braces first and run a repair pass when plain decoding fails.
func parseClassification(raw string) (Classification, error) {
	var c Classification

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return c, fmt.Errorf("no JSON object in output")
	}
	body := raw[start : end+1]

	if err := json.Unmarshal([]byte(body), &c); err == nil {
		return c, nil
	}

	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return c, fmt.Errorf("repair classification JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &c); err != nil {
		return c, fmt.Errorf("decode repaired classification: %w", err)
	}
	return c, nil
}

// sanitize normalizes LLM output into the closed intent set and clean
// entities.
func sanitize(c Classification) Classification {
	c.Intent = Normalize(Intent(strings.ToUpper(strings.TrimSpace(string(c.Intent)))))

	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}

	lowerField(&c.Entities.PropertyType)
	lowerField(&c.Entities.Urgency)
	lowerField(&c.Entities.Purpose)
	lowerField(&c.Entities.PaymentMethod)
	c.Entities = Validate(c.Entities)
	return c
}

func lowerField(s **string) {
	if *s == nil {
		return
	}
	v := strings.ToLower(strings.TrimSpace(**s))
	if v == "" {
		*s = nil
		return
	}
	*s = &v
}

func tempPtr(v float32) *float32 { return &v }
