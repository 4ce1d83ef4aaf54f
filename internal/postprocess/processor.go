package postprocess

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/simsarhq/simsar/internal/bus"
	"github.com/simsarhq/simsar/internal/intent"
	"github.com/simsarhq/simsar/internal/rag"
)

const maxCards = 3
const maxButtons = 3

// Input carries everything the post-processor needs for one reply.
type Input struct {
	LLMText      string
	Intent       intent.Intent
	Properties   []rag.PropertyMatch
	CustomerName string
	Entities     intent.ExtractedInfo
	Language     Language // empty = detect from the customer message
	UserMessage  string   // used for language detection when Language is empty
}

// Result is the enriched outbound reply.
type Result struct {
	Text               string
	Cards              []bus.PropertyCard
	Buttons            []bus.Button
	Location           *bus.LocationRef
	RequiresEscalation bool
	UsedTemplate       bool
	Language           Language
}

// Process runs the response pipeline: template short-circuit, price
// rewriting, property cards, CTA buttons, location pin, escalation flag.
func Process(in Input) Result {
	lang := in.Language
	if lang == "" {
		lang = DetectLanguage(in.UserMessage)
	}

	out := Result{Language: lang}

	if key, ok := templateFor(in.Intent, len(in.Properties) == 0); ok {
		out.Text = renderTemplate(key, lang, in.CustomerName)
		out.UsedTemplate = true
	} else {
		out.Text = RewritePrices(in.LLMText)
	}

	out.Cards = buildCards(in.Properties)
	out.Buttons = buttonsFor(in.Intent, len(in.Properties) > 0)
	out.Location = locationPin(in.Intent, in.Properties)
	out.RequiresEscalation = requiresEscalation(in.Intent, in.LLMText)
	return out
}

// priceRe matches a 4+ digit figure (optionally comma-grouped) adjacent to a
// currency hint in either order. The \b guards keep "LE" from matching inside
// English words; جنيه needs none since ASCII boundaries do not apply to it.
var priceRe = regexp.MustCompile(
	`(?i)(?:\b(?:EGP|LE|L\.E\.?)\s*)?(\d{1,3}(?:,\d{3})+|\d{4,})(?:\s*(?:(?:EGP|LE|L\.E\.?|pounds?)\b|جنيه(?:ات)?))?`)

var currencyHintRe = regexp.MustCompile(`(?i)EGP|LE|L\.E|جنيه|pound`)

// RewritePrices replaces currency-hinted amounts with the bilingual form.
// Bare numbers without a hint are left alone: they may be areas, years, or
// phone fragments.
func RewritePrices(text string) string {
	return priceRe.ReplaceAllStringFunc(text, func(m string) string {
		if !currencyHintRe.MatchString(m) {
			return m
		}
		digits := strings.ReplaceAll(priceRe.FindStringSubmatch(m)[1], ",", "")
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || n < 1000 {
			return m
		}
		return rag.FormatPriceBilingual(float64(n))
	})
}

func buildCards(props []rag.PropertyMatch) []bus.PropertyCard {
	var cards []bus.PropertyCard
	for _, m := range props {
		if len(cards) == maxCards {
			break
		}
		p := m.Property
		cards = append(cards, bus.PropertyCard{
			PropertyID: p.ID,
			Title:      p.Title,
			Price:      rag.FormatPriceBilingual(p.BasePrice),
			City:       p.City,
			District:   p.District,
			Bedrooms:   p.Bedrooms,
			Bathrooms:  p.Bathrooms,
			AreaSqm:    p.AreaSqm,
			ImageURLs:  p.ImageURLs,
		})
	}
	return cards
}

// buttonsFor selects CTA buttons by intent. WhatsApp caps replies at three.
func buttonsFor(it intent.Intent, hasProperties bool) []bus.Button {
	var buttons []bus.Button
	switch it {
	case intent.PropertyInquiry, intent.PriceInquiry, intent.Comparison:
		buttons = []bus.Button{
			{ID: bus.ButtonScheduleViewing, Title: "Schedule viewing / حجز معاينة"},
			{ID: bus.ButtonTalkToAgent, Title: "Talk to agent / كلم مستشار"},
		}
	case intent.PaymentPlans:
		buttons = []bus.Button{
			{ID: bus.ButtonCalculatePayment, Title: "Calculate payment / احسب القسط"},
			{ID: bus.ButtonTalkToAgent, Title: "Talk to agent / كلم مستشار"},
		}
	case intent.ScheduleViewing:
		buttons = []bus.Button{
			{ID: bus.ButtonTalkToAgent, Title: "Talk to agent / كلم مستشار"},
		}
	case intent.LocationInfo:
		if hasProperties {
			buttons = []bus.Button{
				{ID: bus.ButtonViewMap, Title: "View map / شوف الخريطة"},
			}
		}
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	return buttons
}

// locationPin attaches the top property's coordinates for LOCATION_INFO.
func locationPin(it intent.Intent, props []rag.PropertyMatch) *bus.LocationRef {
	if it != intent.LocationInfo || len(props) == 0 {
		return nil
	}
	p := props[0].Property
	if p.Latitude == 0 && p.Longitude == 0 {
		return nil
	}
	return &bus.LocationRef{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Name:      p.Title,
		Address:   strings.TrimSuffix(strings.TrimSpace(p.District+", "+p.City), ","),
	}
}

// cannotHelpPhrases is deliberately conservative: mentioning an agent as an
// option must not trip escalation, only a stated inability to help does.
var cannotHelpPhrases = []string{
	"i cannot help",
	"i can't help",
	"i am unable to help",
	"i'm unable to help",
	"beyond my capabilities",
	"i don't have the authority",
	"لا أستطيع مساعدتك",
	"لا يمكنني مساعدتك",
	"خارج قدراتي",
	"ليس لدي صلاحية",
}

func requiresEscalation(it intent.Intent, llmText string) bool {
	if it == intent.AgentRequest || it == intent.Complaint {
		return true
	}
	t := strings.ToLower(llmText)
	for _, phrase := range cannotHelpPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}
