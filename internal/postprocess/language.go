package postprocess

import "unicode"

// Language is the detected script mix of a message.
type Language string

const (
	LangArabic  Language = "ar"
	LangEnglish Language = "en"
	LangMixed   Language = "mixed"
)

// DetectLanguage classifies text by its letter scripts. Digits and
// punctuation do not count; a text with both scripts is mixed, and a text
// with neither defaults to English.
func DetectLanguage(text string) Language {
	var arabic, latin bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic = true
		case unicode.IsLetter(r) && r < 0x250:
			latin = true
		}
		if arabic && latin {
			return LangMixed
		}
	}
	switch {
	case arabic:
		return LangArabic
	case latin:
		return LangEnglish
	default:
		return LangEnglish
	}
}
