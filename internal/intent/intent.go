package intent

// Intent is the closed set of customer communicative goals.
type Intent string

const (
	PropertyInquiry Intent = "PROPERTY_INQUIRY"
	PriceInquiry    Intent = "PRICE_INQUIRY"
	PaymentPlans    Intent = "PAYMENT_PLANS"
	LocationInfo    Intent = "LOCATION_INFO"
	ScheduleViewing Intent = "SCHEDULE_VIEWING"
	Comparison      Intent = "COMPARISON"
	GeneralQuestion Intent = "GENERAL_QUESTION"
	Complaint       Intent = "COMPLAINT"
	AgentRequest    Intent = "AGENT_REQUEST"
	Greeting        Intent = "GREETING"
	Goodbye         Intent = "GOODBYE"
)

var allIntents = map[Intent]bool{
	PropertyInquiry: true,
	PriceInquiry:    true,
	PaymentPlans:    true,
	LocationInfo:    true,
	ScheduleViewing: true,
	Comparison:      true,
	GeneralQuestion: true,
	Complaint:       true,
	AgentRequest:    true,
	Greeting:        true,
	Goodbye:         true,
}

// Valid reports whether i is in the closed intent set.
func (i Intent) Valid() bool { return allIntents[i] }

// Normalize coerces any out-of-set intent to PROPERTY_INQUIRY.
func Normalize(i Intent) Intent {
	if i.Valid() {
		return i
	}
	return PropertyInquiry
}

// Classification is the extractor output for one user turn.
type Classification struct {
	Intent      Intent        `json:"intent"`
	Entities    ExtractedInfo `json:"entities"`
	Confidence  float64       `json:"confidence"`
	Explanation string        `json:"explanation,omitempty"`
}
