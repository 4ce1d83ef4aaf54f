package leads

import (
	"math"
	"testing"

	"github.com/simsarhq/simsar/internal/intent"
	"github.com/simsarhq/simsar/internal/session"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func sptr(v string) *string   { return &v }

func TestWeightsSumToOne(t *testing.T) {
	sum := weightBudget + weightLocation + weightUrgency +
		weightEngagement + weightInformation + weightPropertyType
	if math.Abs(sum-1.0) > 0.01 {
		t.Fatalf("weights sum to %f, want 1.0", sum)
	}
}

func TestEmptySessionIsCold(t *testing.T) {
	sess := session.NewSession("+2010", "agent-1")
	score := CalculateScore(sess)
	if score.Total != 0 {
		t.Errorf("total = %d, want 0", score.Total)
	}
	if score.Quality != QualityCold {
		t.Errorf("quality = %s", score.Quality)
	}
}

func TestRichSessionIsHot(t *testing.T) {
	sess := session.NewSession("+2010", "agent-1")
	sess.ExtractedInfo = intent.ExtractedInfo{
		Budget:        fptr(3000000),
		PaymentMethod: sptr("installments"),
		City:          sptr("Cairo"),
		District:      sptr("New Cairo"),
		Location:      sptr("Mountain View iCity"),
		Urgency:       sptr("high"),
		PropertyType:  sptr("apartment"),
		Bedrooms:      iptr(3),
		Area:          fptr(150),
		Amenities:     []string{"pool"},
	}
	for i := 0; i < 10; i++ {
		sess.Append(session.Message{Role: session.RoleUser, Content: "what about the price?"})
	}

	score := CalculateScore(sess)
	if score.Quality != QualityHot {
		t.Fatalf("quality = %s (total %d), want hot", score.Quality, score.Total)
	}
	if score.Factors.BudgetClarity != 100 {
		t.Errorf("budgetClarity = %f, want 100 (exact + financing)", score.Factors.BudgetClarity)
	}
	if score.Factors.LocationSpecific != 100 {
		t.Errorf("locationSpecific = %f, want 100 (named compound)", score.Factors.LocationSpecific)
	}
	if score.Factors.Engagement != 100 {
		t.Errorf("engagement = %f", score.Factors.Engagement)
	}
}

func TestBudgetClarityTiers(t *testing.T) {
	cases := []struct {
		name string
		e    intent.ExtractedInfo
		want float64
	}{
		{"none", intent.ExtractedInfo{}, 0},
		{"range only", intent.ExtractedInfo{MinPrice: fptr(2e6), MaxPrice: fptr(3e6), Budget: fptr(3e6)}, 40},
		{"exact", intent.ExtractedInfo{Budget: fptr(3e6)}, 80},
		{"exact with financing", intent.ExtractedInfo{Budget: fptr(3e6), PaymentMethod: sptr("cash")}, 100},
	}
	for _, tc := range cases {
		if got := budgetClarity(tc.e); got != tc.want {
			t.Errorf("%s: budgetClarity = %f, want %f", tc.name, got, tc.want)
		}
	}
}

func TestLocationTiers(t *testing.T) {
	cases := []struct {
		name string
		e    intent.ExtractedInfo
		want float64
	}{
		{"none", intent.ExtractedInfo{}, 0},
		{"city only", intent.ExtractedInfo{City: sptr("Cairo")}, 40},
		{"district", intent.ExtractedInfo{City: sptr("Cairo"), District: sptr("Maadi")}, 70},
		{"synthesized location stays district level",
			intent.ExtractedInfo{City: sptr("Cairo"), District: sptr("Maadi"), Location: sptr("Cairo, Maadi")}, 70},
		{"named compound",
			intent.ExtractedInfo{City: sptr("Cairo"), District: sptr("New Cairo"), Location: sptr("Hyde Park")}, 100},
	}
	for _, tc := range cases {
		if got := locationSpecific(tc.e); got != tc.want {
			t.Errorf("%s: locationSpecific = %f, want %f", tc.name, got, tc.want)
		}
	}
}

func TestUrgencyKeywords(t *testing.T) {
	cases := []struct {
		timeline string
		want     float64
	}{
		{"I need it now", 100},
		{"asap please", 100},
		{"within 3 months", 70},
		{"sometime soon", 50},
		{"eventually", 30},
	}
	for _, tc := range cases {
		e := intent.ExtractedInfo{DeliveryTimeline: sptr(tc.timeline)}
		if got := urgencyScore(e); got != tc.want {
			t.Errorf("urgencyScore(%q) = %f, want %f", tc.timeline, got, tc.want)
		}
	}
}

func TestEngagementQuestionBonus(t *testing.T) {
	sess := session.NewSession("+2010", "agent-1")
	for i := 0; i < 4; i++ {
		sess.Append(session.Message{Role: session.RoleUser, Content: "how much is it?"})
	}
	// 4 messages = 60, 4 questions adds 15.
	if got := engagement(sess); got != 75 {
		t.Errorf("engagement = %f, want 75", got)
	}
}

func TestQualityBoundaries(t *testing.T) {
	cases := []struct {
		total int
		want  string
	}{
		{0, QualityCold}, {39, QualityCold},
		{40, QualityWarm}, {69, QualityWarm},
		{70, QualityHot}, {100, QualityHot},
	}
	for _, tc := range cases {
		if got := qualityFor(tc.total); got != tc.want {
			t.Errorf("qualityFor(%d) = %s, want %s", tc.total, got, tc.want)
		}
	}
}
