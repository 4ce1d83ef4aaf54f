// Package leads scores conversations for sales follow-up and routes
// quality-change notifications.
package leads

import (
	"fmt"
	"math"
	"strings"

	"github.com/simsarhq/simsar/internal/intent"
	"github.com/simsarhq/simsar/internal/session"
)

// Quality tiers for the total score.
const (
	QualityCold = "cold" // 0..39
	QualityWarm = "warm" // 40..69
	QualityHot  = "hot"  // 70..100
)

// Factor weights. They must sum to 1.0.
const (
	weightBudget       = 0.25
	weightLocation     = 0.20
	weightUrgency      = 0.20
	weightEngagement   = 0.15
	weightInformation  = 0.10
	weightPropertyType = 0.10
)

// Factors holds each sub-score in [0,100].
type Factors struct {
	BudgetClarity       float64 `json:"budgetClarity"`
	LocationSpecific    float64 `json:"locationSpecific"`
	Urgency             float64 `json:"urgency"`
	Engagement          float64 `json:"engagement"`
	InformationProvided float64 `json:"informationProvided"`
	PropertyTypeClarity float64 `json:"propertyTypeClarity"`
}

// Score is the weighted lead score with its tier.
type Score struct {
	Total   int     `json:"total"`
	Factors Factors `json:"factors"`
	Quality string  `json:"quality"`
}

// CalculateScore is a pure function over the session: no I/O, no clock.
func CalculateScore(sess *session.Session) Score {
	e := sess.ExtractedInfo
	f := Factors{
		BudgetClarity:       budgetClarity(e),
		LocationSpecific:    locationSpecific(e),
		Urgency:             urgencyScore(e),
		Engagement:          engagement(sess),
		InformationProvided: informationProvided(e),
		PropertyTypeClarity: propertyTypeClarity(e),
	}

	total := f.BudgetClarity*weightBudget +
		f.LocationSpecific*weightLocation +
		f.Urgency*weightUrgency +
		f.Engagement*weightEngagement +
		f.InformationProvided*weightInformation +
		f.PropertyTypeClarity*weightPropertyType

	return Score{
		Total:   int(math.Round(total)),
		Factors: f,
		Quality: qualityFor(int(math.Round(total))),
	}
}

func qualityFor(total int) string {
	switch {
	case total >= 70:
		return QualityHot
	case total >= 40:
		return QualityWarm
	default:
		return QualityCold
	}
}

// budgetClarity: exact figure beats a range; a named financing method adds
// confidence.
func budgetClarity(e intent.ExtractedInfo) float64 {
	var score float64
	hasRange := e.MinPrice != nil || e.MaxPrice != nil
	switch {
	case e.Budget != nil && !hasRange:
		score = 80
	case e.Budget != nil || hasRange:
		score = 40
	}
	if score > 0 && e.PaymentMethod != nil {
		score += 20
	}
	return math.Min(score, 100)
}

func locationSpecific(e intent.ExtractedInfo) float64 {
	synthesized := e.City != nil && e.District != nil &&
		e.Location != nil && *e.Location == fmt.Sprintf("%s, %s", *e.City, *e.District)
	switch {
	case e.Location != nil && e.District != nil && !synthesized:
		return 100 // compound or neighborhood named beyond the district
	case e.District != nil:
		return 70
	case e.Location != nil:
		return 70
	case e.City != nil:
		return 40
	}
	return 0
}

var immediateWords = []string{"now", "immediately", "asap", "this week", "فورا", "فوراً", "حالا", "حالاً", "الاسبوع ده"}
var soonWords = []string{"soon", "قريب", "قريبا", "قريباً"}
var monthsWords = []string{"month", "months", "شهر", "شهور", "أشهر"}

func urgencyScore(e intent.ExtractedInfo) float64 {
	var score float64
	if e.Urgency != nil {
		switch *e.Urgency {
		case "high":
			score = 100
		case "medium":
			score = 70
		case "low":
			score = 30
		}
	}
	if e.DeliveryTimeline != nil {
		t := strings.ToLower(*e.DeliveryTimeline)
		switch {
		case containsAny(t, immediateWords):
			score = math.Max(score, 100)
		case containsAny(t, monthsWords):
			score = math.Max(score, 70)
		case containsAny(t, soonWords):
			score = math.Max(score, 50)
		default:
			score = math.Max(score, 30) // stated a timeline, however vague
		}
	}
	return score
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// engagement scores by conversation depth, with a bonus for asking real
// questions.
func engagement(sess *session.Session) float64 {
	var score float64
	switch n := sess.UserMessageCount(); {
	case n >= 10:
		score = 100
	case n >= 7:
		score = 80
	case n >= 4:
		score = 60
	case n >= 2:
		score = 40
	case n == 1:
		score = 20
	}

	questions := 0
	for _, m := range sess.Messages {
		if m.Role == session.RoleUser && strings.ContainsAny(m.Content, "?؟") {
			questions++
		}
	}
	if questions >= 3 {
		score += 15
	}
	return math.Min(score, 100)
}

func informationProvided(e intent.ExtractedInfo) float64 {
	switch n := e.FieldCount(); {
	case n >= 7:
		return 100
	case n >= 5:
		return 75
	case n >= 3:
		return 50
	case n >= 1:
		return 25
	}
	return 0
}

func propertyTypeClarity(e intent.ExtractedInfo) float64 {
	var score float64
	if e.PropertyType != nil {
		score = 50
	}
	if e.Bedrooms != nil {
		score += 20
	}
	if e.Area != nil || e.MinArea != nil || e.MaxArea != nil {
		score += 20
	}
	if len(e.Amenities) > 0 {
		score += 10
	}
	return math.Min(score, 100)
}
