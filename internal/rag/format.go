package rag

import (
	"fmt"
	"strings"
	"time"
)

// GroupThousands renders n with comma thousand separators ("3,000,000").
func GroupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// arabicDigits maps ASCII digits to Arabic-Indic ones; the Latin comma
// becomes the Arabic thousands separator.
var arabicDigits = map[rune]rune{
	'0': '٠', '1': '١', '2': '٢', '3': '٣', '4': '٤',
	'5': '٥', '6': '٦', '7': '٧', '8': '٨', '9': '٩',
	',': '،',
}

// ArabicNumerals converts a grouped number string to Arabic-Indic digits.
func ArabicNumerals(s string) string {
	var b strings.Builder
	for _, r := range s {
		if ar, ok := arabicDigits[r]; ok {
			b.WriteRune(ar)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPriceBilingual renders an amount as `3,000,000 EGP (٣،٠٠٠،٠٠٠ جنيه)`.
func FormatPriceBilingual(amount float64) string {
	grouped := GroupThousands(int64(amount + 0.5))
	return fmt.Sprintf("%s EGP (%s جنيه)", grouped, ArabicNumerals(grouped))
}

// FormatDeliveryDate renders a delivery date as "March 2027", or "ready"
// when it has passed.
func FormatDeliveryDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	if t.Before(time.Now()) {
		return "ready"
	}
	return t.Format("January 2006")
}
