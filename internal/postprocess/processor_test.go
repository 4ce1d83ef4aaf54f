package postprocess

import (
	"strings"
	"testing"

	"github.com/simsarhq/simsar/internal/intent"
	"github.com/simsarhq/simsar/internal/rag"
)

func matches(n int) []rag.PropertyMatch {
	out := make([]rag.PropertyMatch, n)
	for i := range out {
		out[i] = rag.PropertyMatch{
			Property: rag.PropertyDocument{
				ID:        "p" + string(rune('1'+i)),
				Title:     "Unit " + string(rune('A'+i)),
				BasePrice: 2500000,
				City:      "Cairo",
				Latitude:  30.05,
				Longitude: 31.23,
			},
			Similarity: 0.8,
		}
	}
	return out
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want Language
	}{
		{"hello there", LangEnglish},
		{"مرحبا بيك", LangArabic},
		{"عايز apartment في Cairo", LangMixed},
		{"12345", LangEnglish},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.text); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestGreetingShortCircuit(t *testing.T) {
	out := Process(Input{
		Intent:       intent.Greeting,
		CustomerName: "Ahmed",
		UserMessage:  "hello",
		LLMText:      "should not be used",
	})
	if !out.UsedTemplate {
		t.Fatal("greeting must short-circuit to a template")
	}
	if !strings.Contains(out.Text, "Ahmed") {
		t.Errorf("template lost the customer name: %q", out.Text)
	}
	if strings.Contains(out.Text, "should not be used") {
		t.Error("LLM text leaked into a template response")
	}
	if out.RequiresEscalation {
		t.Error("greeting must not escalate")
	}
}

func TestArabicGreetingTemplate(t *testing.T) {
	out := Process(Input{Intent: intent.Greeting, UserMessage: "مرحبا"})
	if out.Language != LangArabic {
		t.Fatalf("language = %s", out.Language)
	}
	if !strings.HasPrefix(out.Text, "مرحباً") {
		t.Errorf("arabic template expected, got %q", out.Text)
	}
}

func TestZeroResultInquiryTemplate(t *testing.T) {
	out := Process(Input{
		Intent:      intent.PropertyInquiry,
		UserMessage: "any villas in October?",
		LLMText:     "llm text",
	})
	if !out.UsedTemplate {
		t.Error("zero-result property inquiry must use the no-results template")
	}

	// With results the LLM text flows through.
	out = Process(Input{
		Intent:      intent.PropertyInquiry,
		UserMessage: "any villas?",
		LLMText:     "llm text",
		Properties:  matches(1),
	})
	if out.UsedTemplate {
		t.Error("inquiry with results must not short-circuit")
	}
}

func TestRewritePrices(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{
			"The villa costs 3000000 EGP total.",
			"The villa costs 3,000,000 EGP (٣،٠٠٠،٠٠٠ جنيه) total.",
		},
		{
			"Price is 2,500,000 جنيه with a plan.",
			"Price is 2,500,000 EGP (٢،٥٠٠،٠٠٠ جنيه) with a plan.",
		},
		{
			"Around EGP 1500000 for the unit.",
			"Around 1,500,000 EGP (١،٥٠٠،٠٠٠ جنيه) for the unit.",
		},
		// No currency hint: leave the figure alone.
		{"The area is 2500 sqm.", "The area is 2500 sqm."},
		// Under four digits: leave it alone even with a hint.
		{"Only 500 EGP deposit.", "Only 500 EGP deposit."},
		// "le" inside a word is not a currency hint.
		{"It is possible 3000 units exist.", "It is possible 3000 units exist."},
	}
	for _, tc := range cases {
		if got := RewritePrices(tc.in); got != tc.want {
			t.Errorf("RewritePrices(%q)\n got %q\nwant %q", tc.in, got, tc.want)
		}
	}
}

func TestCardsCappedAtThree(t *testing.T) {
	out := Process(Input{
		Intent:      intent.PropertyInquiry,
		UserMessage: "villas",
		LLMText:     "here are some",
		Properties:  matches(5),
	})
	if len(out.Cards) != 3 {
		t.Fatalf("got %d cards, want 3", len(out.Cards))
	}
	if out.Cards[0].Price != "2,500,000 EGP (٢،٥٠٠،٠٠٠ جنيه)" {
		t.Errorf("card price = %q", out.Cards[0].Price)
	}
}

func TestButtonsByIntent(t *testing.T) {
	cases := []struct {
		intent  intent.Intent
		props   int
		wantIDs []string
	}{
		{intent.PropertyInquiry, 1, []string{"schedule_viewing", "talk_to_agent"}},
		{intent.PaymentPlans, 0, []string{"calculate_payment", "talk_to_agent"}},
		{intent.LocationInfo, 1, []string{"view_map"}},
		{intent.LocationInfo, 0, nil},
		{intent.GeneralQuestion, 0, nil},
	}
	for _, tc := range cases {
		out := Process(Input{Intent: tc.intent, UserMessage: "q", LLMText: "a", Properties: matches(tc.props)})
		if len(out.Buttons) != len(tc.wantIDs) {
			t.Errorf("%s: got %d buttons, want %d", tc.intent, len(out.Buttons), len(tc.wantIDs))
			continue
		}
		for i, id := range tc.wantIDs {
			if out.Buttons[i].ID != id {
				t.Errorf("%s: button %d = %s, want %s", tc.intent, i, out.Buttons[i].ID, id)
			}
		}
	}
}

func TestLocationPin(t *testing.T) {
	out := Process(Input{
		Intent:      intent.LocationInfo,
		UserMessage: "where is it",
		LLMText:     "it is in Cairo",
		Properties:  matches(1),
	})
	if out.Location == nil {
		t.Fatal("location pin missing")
	}
	if out.Location.Latitude != 30.05 {
		t.Errorf("latitude = %f", out.Location.Latitude)
	}

	// Other intents never attach a pin.
	out = Process(Input{Intent: intent.PropertyInquiry, UserMessage: "q", LLMText: "a", Properties: matches(1)})
	if out.Location != nil {
		t.Error("pin attached outside LOCATION_INFO")
	}
}

func TestEscalationFlag(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want bool
	}{
		{"agent request", Input{Intent: intent.AgentRequest, UserMessage: "q"}, true},
		{"complaint", Input{Intent: intent.Complaint, UserMessage: "q", LLMText: "sorry"}, true},
		{"cannot help en", Input{Intent: intent.GeneralQuestion, UserMessage: "q",
			LLMText: "I'm sorry, I cannot help with legal disputes."}, true},
		{"cannot help ar", Input{Intent: intent.GeneralQuestion, UserMessage: "q",
			LLMText: "للأسف لا أستطيع مساعدتك في هذا الموضوع."}, true},
		{"mentions agent as option", Input{Intent: intent.GeneralQuestion, UserMessage: "q",
			LLMText: "You can also talk to an agent if you prefer."}, false},
		{"plain answer", Input{Intent: intent.PriceInquiry, UserMessage: "q",
			LLMText: "The price is 3000000 EGP.", Properties: matches(1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Process(tc.in).RequiresEscalation; got != tc.want {
				t.Errorf("RequiresEscalation = %v, want %v", got, tc.want)
			}
		})
	}
}
