package intent

import "strings"

// fallbackRules map intents to bilingual trigger keywords, checked in order.
// Specific intents come before broad ones so "how much is the villa" lands on
// PRICE_INQUIRY, not PROPERTY_INQUIRY.
var fallbackRules = []struct {
	intent   Intent
	keywords []string
}{
	{AgentRequest, []string{
		"talk to agent", "real person", "human", "speak to someone",
		"عايز اكلم حد", "موظف", "حد من البشر", "اتكلم مع حد",
	}},
	{Complaint, []string{
		"complaint", "terrible", "unacceptable", "scam", "worst",
		"شكوى", "زفت", "نصب", "غير مقبول", "مش محترم",
	}},
	{ScheduleViewing, []string{
		"viewing", "visit", "appointment", "see the", "معاينة", "زيارة", "ميعاد", "اشوف",
	}},
	{PaymentPlans, []string{
		"installment", "payment plan", "down payment", "تقسيط", "قسط", "مقدم", "اقساط",
	}},
	{PriceInquiry, []string{
		"price", "how much", "cost", "بكام", "السعر", "كام", "التكلفة",
	}},
	{LocationInfo, []string{
		"where", "location", "address", "map", "فين", "الموقع", "العنوان", "مكان",
	}},
	{Comparison, []string{
		"compare", "difference between", "versus", " vs ", "مقارنة", "الفرق بين", "ولا",
	}},
	{Goodbye, []string{
		"bye", "goodbye", "thanks, that's all", "مع السلامة", "سلام", "شكرا خلاص",
	}},
	{Greeting, []string{
		"hello", "hi ", "good morning", "good evening", "مرحبا", "السلام عليكم", "صباح الخير", "مساء الخير", "اهلا", "أهلا",
	}},
	{PropertyInquiry, []string{
		"apartment", "villa", "duplex", "studio", "compound", "property", "bedroom",
		"شقة", "فيلا", "دوبلكس", "ستوديو", "كمبوند", "عقار", "غرف",
	}},
}

// FallbackClassify is the keyword classifier used when the LLM is down or its
// output cannot be parsed. It extracts no entities and reports low confidence
// so downstream consumers can tell it apart from a real classification.
func FallbackClassify(message string) Classification {
	m := strings.ToLower(message)
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(m, kw) {
				return Classification{
					Intent:      rule.intent,
					Confidence:  0.5,
					Explanation: "keyword match",
				}
			}
		}
	}
	return Classification{
		Intent:      GeneralQuestion,
		Confidence:  0.3,
		Explanation: "no keyword match",
	}
}
