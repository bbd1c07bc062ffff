package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims the input, drops control characters and truncates to
// maxLen bytes without splitting a multi-byte rune. maxLen <= 0 disables the cap.
func SanitizeString(input string, maxLen int) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))

	if maxLen <= 0 || len(clean) <= maxLen {
		return clean
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(clean[cut]) {
		cut--
	}
	return strings.TrimSpace(clean[:cut])
}
