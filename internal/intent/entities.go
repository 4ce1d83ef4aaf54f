package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractedInfo is the open-world entity bag accumulated across turns.
// Unknown fields survive merges via Extra.
type ExtractedInfo struct {
	Budget                *float64 `json:"budget,omitempty"`
	MinPrice              *float64 `json:"minPrice,omitempty"`
	MaxPrice              *float64 `json:"maxPrice,omitempty"`
	Location              *string  `json:"location,omitempty"`
	City                  *string  `json:"city,omitempty"`
	District              *string  `json:"district,omitempty"`
	PropertyType          *string  `json:"propertyType,omitempty"`
	Bedrooms              *int     `json:"bedrooms,omitempty"`
	Bathrooms             *int     `json:"bathrooms,omitempty"`
	MinArea               *float64 `json:"minArea,omitempty"`
	MaxArea               *float64 `json:"maxArea,omitempty"`
	Area                  *float64 `json:"area,omitempty"`
	Amenities             []string `json:"amenities,omitempty"`
	DeliveryTimeline      *string  `json:"deliveryTimeline,omitempty"`
	Urgency               *string  `json:"urgency,omitempty"`
	PaymentMethod         *string  `json:"paymentMethod,omitempty"`
	DownPaymentPercentage *float64 `json:"downPaymentPercentage,omitempty"`
	InstallmentYears      *int     `json:"installmentYears,omitempty"`
	Purpose               *string  `json:"purpose,omitempty"`
	CustomerName          *string  `json:"customerName,omitempty"`

	// Extra carries fields the schema does not know about.
	Extra map[string]any `json:"-"`
}

var knownEntityFields = map[string]bool{
	"budget": true, "minPrice": true, "maxPrice": true,
	"location": true, "city": true, "district": true,
	"propertyType": true, "bedrooms": true, "bathrooms": true,
	"minArea": true, "maxArea": true, "area": true, "amenities": true,
	"deliveryTimeline": true, "urgency": true, "paymentMethod": true,
	"downPaymentPercentage": true, "installmentYears": true,
	"purpose": true, "customerName": true,
}

// UnmarshalJSON decodes known fields and captures the rest into Extra.
func (e *ExtractedInfo) UnmarshalJSON(data []byte) error {
	type alias ExtractedInfo
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownEntityFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = val
	}
	*e = ExtractedInfo(a)
	return nil
}

// MarshalJSON emits known fields plus everything in Extra.
func (e ExtractedInfo) MarshalJSON() ([]byte, error) {
	type alias ExtractedInfo
	data, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return data, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// IsEmpty reports whether no entity has been captured yet.
func (e ExtractedInfo) IsEmpty() bool {
	return e.FieldCount() == 0 && len(e.Extra) == 0
}

// FieldCount counts the filled known fields. Used by the lead scorer.
func (e ExtractedInfo) FieldCount() int {
	n := 0
	for _, set := range []bool{
		e.Budget != nil, e.MinPrice != nil, e.MaxPrice != nil,
		e.Location != nil, e.City != nil, e.District != nil,
		e.PropertyType != nil, e.Bedrooms != nil, e.Bathrooms != nil,
		e.MinArea != nil, e.MaxArea != nil, e.Area != nil,
		len(e.Amenities) > 0,
		e.DeliveryTimeline != nil, e.Urgency != nil, e.PaymentMethod != nil,
		e.DownPaymentPercentage != nil, e.InstallmentYears != nil,
		e.Purpose != nil, e.CustomerName != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Merge overlays the per-turn bag onto the cumulative one and collapses
// derived fields. Entities absent from new remain untouched; the result is
// validated before being returned.
func Merge(existing, turn ExtractedInfo) ExtractedInfo {
	out := existing

	overlayFloat(&out.Budget, turn.Budget)
	overlayFloat(&out.MinPrice, turn.MinPrice)
	overlayFloat(&out.MaxPrice, turn.MaxPrice)
	overlayStr(&out.Location, turn.Location)
	overlayStr(&out.City, turn.City)
	overlayStr(&out.District, turn.District)
	overlayStr(&out.PropertyType, turn.PropertyType)
	overlayInt(&out.Bedrooms, turn.Bedrooms)
	overlayInt(&out.Bathrooms, turn.Bathrooms)
	overlayFloat(&out.MinArea, turn.MinArea)
	overlayFloat(&out.MaxArea, turn.MaxArea)
	overlayFloat(&out.Area, turn.Area)
	overlayStr(&out.DeliveryTimeline, turn.DeliveryTimeline)
	overlayStr(&out.Urgency, turn.Urgency)
	overlayStr(&out.PaymentMethod, turn.PaymentMethod)
	overlayFloat(&out.DownPaymentPercentage, turn.DownPaymentPercentage)
	overlayInt(&out.InstallmentYears, turn.InstallmentYears)
	overlayStr(&out.Purpose, turn.Purpose)
	overlayStr(&out.CustomerName, turn.CustomerName)

	if len(turn.Amenities) > 0 {
		out.Amenities = mergeAmenities(out.Amenities, turn.Amenities)
	}
	if len(turn.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(turn.Extra))
		}
		for k, v := range turn.Extra {
			out.Extra[k] = v
		}
	}

	// A price range collapses into one budget figure: max when both bounds
	// are known, otherwise the bound we have.
	if out.Budget == nil {
		switch {
		case out.MinPrice != nil && out.MaxPrice != nil:
			out.Budget = ptr(max(*out.MinPrice, *out.MaxPrice))
		case out.MaxPrice != nil:
			out.Budget = ptr(*out.MaxPrice)
		case out.MinPrice != nil:
			out.Budget = ptr(*out.MinPrice)
		}
	}

	// city + district without an explicit location synthesize one.
	if out.Location == nil && out.City != nil && out.District != nil {
		out.Location = ptr(fmt.Sprintf("%s, %s", *out.City, *out.District))
	}

	// Area range collapses to an approximate single figure.
	if out.Area == nil {
		switch {
		case out.MinArea != nil && out.MaxArea != nil:
			out.Area = ptr((*out.MinArea + *out.MaxArea) / 2)
		case out.MaxArea != nil:
			out.Area = ptr(*out.MaxArea)
		case out.MinArea != nil:
			out.Area = ptr(*out.MinArea)
		}
	}

	return Validate(out)
}

// Validate drops out-of-range values rather than erroring: bad entities come
// from LLM output and are locally recoverable.
func Validate(e ExtractedInfo) ExtractedInfo {
	if e.Budget != nil && (*e.Budget < 0 || *e.Budget > 1e9) {
		e.Budget = nil
	}
	if e.MinPrice != nil && (*e.MinPrice < 0 || *e.MinPrice > 1e9) {
		e.MinPrice = nil
	}
	if e.MaxPrice != nil && (*e.MaxPrice < 0 || *e.MaxPrice > 1e9) {
		e.MaxPrice = nil
	}
	if e.Bedrooms != nil && (*e.Bedrooms < 0 || *e.Bedrooms > 20) {
		e.Bedrooms = nil
	}
	if e.Bathrooms != nil && (*e.Bathrooms < 0 || *e.Bathrooms > 20) {
		e.Bathrooms = nil
	}
	if e.MinArea != nil && *e.MinArea < 0 {
		e.MinArea = nil
	}
	if e.MaxArea != nil && *e.MaxArea < 0 {
		e.MaxArea = nil
	}
	if e.Area != nil && *e.Area < 0 {
		e.Area = nil
	}
	if e.DownPaymentPercentage != nil && (*e.DownPaymentPercentage < 0 || *e.DownPaymentPercentage > 100) {
		e.DownPaymentPercentage = nil
	}
	if e.InstallmentYears != nil && (*e.InstallmentYears < 0 || *e.InstallmentYears > 30) {
		e.InstallmentYears = nil
	}
	return e
}

// SearchFilters is the projection of the entity bag used as vector-store
// metadata filters.
type SearchFilters struct {
	MinPrice     *float64
	MaxPrice     *float64
	Location     *string
	City         *string
	District     *string
	PropertyType *string
	Bedrooms     *int
	MinArea      *float64
	MaxArea      *float64
	Amenities    []string
}

// ExtractSearchFilters projects the cumulative bag into filter fields. A lone
// budget becomes a price ceiling; a lone target area widens by ±10 %.
func ExtractSearchFilters(e ExtractedInfo) SearchFilters {
	f := SearchFilters{
		MinPrice:     e.MinPrice,
		MaxPrice:     e.MaxPrice,
		Location:     e.Location,
		City:         e.City,
		District:     e.District,
		PropertyType: e.PropertyType,
		Bedrooms:     e.Bedrooms,
		MinArea:      e.MinArea,
		MaxArea:      e.MaxArea,
		Amenities:    e.Amenities,
	}
	if f.MaxPrice == nil && e.Budget != nil {
		f.MaxPrice = ptr(*e.Budget)
	}
	if f.MinArea == nil && f.MaxArea == nil && e.Area != nil {
		f.MinArea = ptr(*e.Area * 0.9)
		f.MaxArea = ptr(*e.Area * 1.1)
	}
	return f
}

func mergeAmenities(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, a := range existing {
		key := strings.ToLower(strings.TrimSpace(a))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	for _, a := range incoming {
		key := strings.ToLower(strings.TrimSpace(a))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(a))
	}
	return out
}

func overlayStr(dst **string, src *string) {
	if src != nil && strings.TrimSpace(*src) != "" {
		v := strings.TrimSpace(*src)
		*dst = &v
	}
}

func overlayFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func overlayInt(dst **int, src *int) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func ptr[T any](v T) *T { return &v }
