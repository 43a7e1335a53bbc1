package translate

import (
	"strings"
	"unicode"
)

const errorTag = "[Translation Error] "

// greetings and answers that look like names but must still be translated.
var commonWords = map[string]struct{}{
	"Hello":  {},
	"Hi":     {},
	"Bye":    {},
	"Thanks": {},
	"Yes":    {},
	"No":     {},
}

// IsProperName reports whether text is a single capitalized alphabetic token
// outside the common-word set, e.g. "Priyanshi".
func IsProperName(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len(strings.Fields(text)) != 1 {
		return false
	}
	for i, r := range text {
		if !unicode.IsLetter(r) {
			return false
		}
		if i == 0 && !unicode.IsUpper(r) {
			return false
		}
	}
	_, common := commonWords[text]
	return !common
}

func isSingleToken(text string) bool {
	return len(strings.Fields(text)) == 1
}

// Fallback is what a recipient sees when the provider fails: names and single
// words pass through untouched, anything longer is tagged.
func Fallback(text string) string {
	if IsProperName(text) || isSingleToken(text) {
		return text
	}
	return errorTag + text
}
