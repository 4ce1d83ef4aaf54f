package escalation

import (
	"context"
	"errors"
	"testing"

	"github.com/simsarhq/simsar/internal/llm"
	"github.com/simsarhq/simsar/internal/session"
)

type stubLLM struct {
	content string
	err     error
	calls   int
}

func (s *stubLLM) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.GenerateResponse{Content: s.content}, nil
}

func (s *stubLLM) DefaultModel() string { return "stub" }

func newSess() *session.Session {
	return session.NewSession("+201001234567", "agent-1")
}

func TestDetectExplicitRequest(t *testing.T) {
	stub := &stubLLM{content: `{"frustrated": false, "confidence": 0}`}
	d := NewDetector(stub)

	cases := []string{
		"I want to talk to a human please",
		"can I speak with a real person",
		"عايز اكلم حد من الموظفين",
	}
	for _, msg := range cases {
		r := d.Detect(context.Background(), msg, newSess())
		if !r.ShouldEscalate || r.Trigger != TriggerExplicitRequest {
			t.Errorf("Detect(%q) = %+v, want EXPLICIT_REQUEST", msg, r)
		}
	}
	if stub.calls != 0 {
		t.Errorf("regex triggers must not spend LLM calls, got %d", stub.calls)
	}
}

func TestDetectComplaint(t *testing.T) {
	d := NewDetector(&stubLLM{})
	r := d.Detect(context.Background(), "this is unacceptable, I will file a complaint", newSess())
	if r.Trigger != TriggerComplaint {
		t.Errorf("trigger = %s", r.Trigger)
	}
	r = d.Detect(context.Background(), "الخدمة زفت وهقدم شكوى", newSess())
	if r.Trigger != TriggerComplaint {
		t.Errorf("arabic complaint trigger = %s", r.Trigger)
	}
}

func TestDetectNegotiation(t *testing.T) {
	d := NewDetector(&stubLLM{})
	r := d.Detect(context.Background(), "can you give me a discount on the villa?", newSess())
	if r.Trigger != TriggerNegotiation {
		t.Errorf("trigger = %s", r.Trigger)
	}
	r = d.Detect(context.Background(), "ممكن خصم على الشقة؟", newSess())
	if r.Trigger != TriggerNegotiation {
		t.Errorf("arabic negotiation trigger = %s", r.Trigger)
	}
}

func TestDetectRepeatedQuestion(t *testing.T) {
	sess := newSess()
	for i := 0; i < 3; i++ {
		sess.Append(session.Message{Role: session.RoleUser, Content: "when will the compound be delivered exactly"})
		sess.Append(session.Message{Role: session.RoleAssistant, Content: "expected 2027"})
	}
	d := NewDetector(&stubLLM{content: `{"frustrated": false}`})

	r := d.Detect(context.Background(), "when will the compound be delivered exactly?", sess)
	if r.Trigger != TriggerRepeatedQuestion {
		t.Errorf("trigger = %s, want REPEATED_QUESTION", r.Trigger)
	}

	// One prior occurrence is not enough.
	fresh := newSess()
	fresh.Append(session.Message{Role: session.RoleUser, Content: "when will the compound be delivered exactly"})
	r = d.Detect(context.Background(), "when will the compound be delivered exactly?", fresh)
	if r.Trigger == TriggerRepeatedQuestion {
		t.Error("a single repetition should not escalate")
	}
}

func TestDetectFrustrationProbe(t *testing.T) {
	stub := &stubLLM{content: `{"frustrated": true, "confidence": 0.85, "reason": "customer is fed up"}`}
	d := NewDetector(stub)

	r := d.Detect(context.Background(), "I've been waiting forever for an answer", newSess())
	if r.Trigger != TriggerFrustration {
		t.Errorf("trigger = %s, want FRUSTRATION_DETECTED", r.Trigger)
	}
	if r.Confidence != 0.85 {
		t.Errorf("confidence = %f", r.Confidence)
	}
}

func TestDetectProbeFailureDoesNotEscalate(t *testing.T) {
	d := NewDetector(&stubLLM{err: errors.New("llm down")})
	r := d.Detect(context.Background(), "tell me about the compound", newSess())
	if r.ShouldEscalate {
		t.Errorf("probe failure must not escalate: %+v", r)
	}
}

func TestDetectNoTrigger(t *testing.T) {
	stub := &stubLLM{content: `{"frustrated": false, "complex": false, "confidence": 0.9}`}
	d := NewDetector(stub)
	r := d.Detect(context.Background(), "how many bedrooms does the villa have?", newSess())
	if r.ShouldEscalate {
		t.Errorf("plain question escalated: %+v", r)
	}
}

func TestJaccardSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"when is delivery", "when is delivery", 1, 1},
		{"when is delivery", "completely different words here", 0, 0},
		{"when is the delivery date", "when is the delivery time", 0.6, 0.7},
		{"", "anything", 0, 0},
	}
	for _, tc := range cases {
		got := JaccardSimilarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("JaccardSimilarity(%q, %q) = %f, want [%f, %f]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestTriggerUrgency(t *testing.T) {
	cases := []struct {
		trigger Trigger
		want    string
	}{
		{TriggerExplicitRequest, "high"},
		{TriggerComplaint, "high"},
		{TriggerFrustration, "high"},
		{TriggerNegotiation, "medium"},
		{TriggerRepeatedQuestion, "medium"},
		{TriggerComplexQuery, "low"},
	}
	for _, tc := range cases {
		if got := tc.trigger.Urgency(); got != tc.want {
			t.Errorf("%s urgency = %s, want %s", tc.trigger, got, tc.want)
		}
	}
}
