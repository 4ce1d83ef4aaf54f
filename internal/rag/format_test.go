package rag

import (
	"testing"
	"time"
)

func TestGroupThousands(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{3000000, "3,000,000"},
		{1234567, "1,234,567"},
		{-45000, "-45,000"},
	}
	for _, tc := range cases {
		if got := GroupThousands(tc.in); got != tc.want {
			t.Errorf("GroupThousands(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPriceBilingual(t *testing.T) {
	got := FormatPriceBilingual(3000000)
	want := "3,000,000 EGP (٣،٠٠٠،٠٠٠ جنيه)"
	if got != want {
		t.Errorf("FormatPriceBilingual(3000000) = %q, want %q", got, want)
	}
}

func TestArabicNumerals(t *testing.T) {
	if got := ArabicNumerals("1,250"); got != "١،٢٥٠" {
		t.Errorf("ArabicNumerals(1,250) = %q", got)
	}
	// Non-digit text passes through untouched.
	if got := ArabicNumerals("abc"); got != "abc" {
		t.Errorf("ArabicNumerals(abc) = %q", got)
	}
}

func TestFormatDeliveryDate(t *testing.T) {
	if got := FormatDeliveryDate(nil); got != "" {
		t.Errorf("nil date = %q, want empty", got)
	}
	past := time.Now().Add(-24 * time.Hour)
	if got := FormatDeliveryDate(&past); got != "ready" {
		t.Errorf("past date = %q, want ready", got)
	}
	future := time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)
	if got := FormatDeliveryDate(&future); got != "March 2030" {
		t.Errorf("future date = %q, want March 2030", got)
	}
}
