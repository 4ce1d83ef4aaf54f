package postprocess

import (
	"fmt"
	"strings"

	"github.com/simsarhq/simsar/internal/intent"
)

// templateKey selects a canned response family.
type templateKey string

const (
	tplGreeting     templateKey = "greeting"
	tplGoodbye      templateKey = "goodbye"
	tplAgentRequest templateKey = "agent_request"
	tplNoResults    templateKey = "no_results"
)

// templates holds the language-aware canned responses. %s is the customer or
// agency name where the template uses one.
var templates = map[templateKey]map[Language]string{
	tplGreeting: {
		LangArabic:  "مرحباً %s! أنا مساعدك العقاري. كيف أقدر أساعدك اليوم؟",
		LangEnglish: "Hello %s! I'm your real-estate assistant. How can I help you today?",
		LangMixed:   "مرحباً %s! Hello! أنا مساعدك العقاري. How can I help you today?",
	},
	tplGoodbye: {
		LangArabic:  "شكراً لتواصلك معنا! أتمنى لك يوماً سعيداً. نحن هنا متى احتجتنا.",
		LangEnglish: "Thank you for reaching out! Have a great day. We're here whenever you need us.",
		LangMixed:   "شكراً لتواصلك معنا! Thank you for reaching out. We're here whenever you need us.",
	},
	tplAgentRequest: {
		LangArabic:  "تمام، هوصلك بأحد مستشارينا العقاريين حالاً. من فضلك انتظر لحظات.",
		LangEnglish: "Of course, I'm connecting you with one of our property consultants now. Please hold on a moment.",
		LangMixed:   "تمام! I'm connecting you with one of our property consultants now. انتظر لحظات من فضلك.",
	},
	tplNoResults: {
		LangArabic:  "للأسف لم أجد عقارات مطابقة لطلبك حالياً. ممكن توسع البحث شوية أو تكلم أحد مستشارينا؟",
		LangEnglish: "I couldn't find properties matching your criteria right now. Would you like to broaden the search or talk to one of our consultants?",
		LangMixed:   "للأسف لم أجد عقارات مطابقة حالياً. Would you like to broaden the search or talk to a consultant?",
	},
}

// renderTemplate fills the canned response, dropping the name slot cleanly
// when no name is known.
func renderTemplate(key templateKey, lang Language, customerName string) string {
	tpl, ok := templates[key][lang]
	if !ok {
		tpl = templates[key][LangEnglish]
	}
	if !strings.Contains(tpl, "%s") {
		return tpl
	}
	out := fmt.Sprintf(tpl, customerName)
	// No name leaves "Hello !"-style artifacts; collapse them.
	out = strings.ReplaceAll(out, "  ", " ")
	out = strings.ReplaceAll(out, " !", "!")
	return out
}

// templateFor returns the short-circuit template for an intent, if any.
func templateFor(it intent.Intent, zeroResults bool) (templateKey, bool) {
	switch it {
	case intent.Greeting:
		return tplGreeting, true
	case intent.Goodbye:
		return tplGoodbye, true
	case intent.AgentRequest:
		return tplAgentRequest, true
	}
	if zeroResults && (it == intent.PropertyInquiry || it == intent.PriceInquiry) {
		return tplNoResults, true
	}
	return "", false
}
