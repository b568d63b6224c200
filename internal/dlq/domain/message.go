package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxErrorLength bounds the last_error text stored on a job
const MaxErrorLength = 2000

// TruncateText returns s as valid UTF-8 without NUL bytes, cut to at most
// maxBytes without splitting a character. Postgres rejects both in TEXT columns.
func TruncateText(s string, maxBytes int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
