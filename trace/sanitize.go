package trace

import (
	"strings"
	"unicode/utf8"
)

// MaxRecordLength is the longest sanitized record the platform log accepts, in bytes
const MaxRecordLength = 2047

// Sanitize prepares free-form text for the platform log, which interprets every record as a format
// string: each '%' is doubled so that it prints literally. Text that would grow past MaxRecordLength
// is truncated, never in the middle of an escape pair or a UTF-8 sequence.
func Sanitize(text string) string {
	var builder strings.Builder
	builder.Grow(len(text) + strings.Count(text, "%"))

	truncated := false
	for i := 0; i < len(text); i++ {
		c := text[i]

		if c == '%' {
			if builder.Len()+2 > MaxRecordLength {
				truncated = true
				break
			}
			builder.WriteString("%%")
			continue
		}

		if builder.Len()+1 > MaxRecordLength {
			truncated = true
			break
		}
		builder.WriteByte(c)
	}

	sanitized := builder.String()
	if truncated {
		sanitized = trimPartialRune(sanitized)
	}
	return sanitized
}

// trimPartialRune drops a multi-byte sequence left incomplete at the end of s
func trimPartialRune(s string) string {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if !utf8.FullRuneInString(s[i:]) {
			return s[:i]
		}
		return s
	}
	return s
}

// Unescape renders a sanitized record the way the platform log's formatter does: every "%%" becomes
// a single '%'. Transports that are not format-string based use it to recover the original text.
func Unescape(sanitized string) string {
	if !strings.Contains(sanitized, "%") {
		return sanitized
	}

	return strings.ReplaceAll(sanitized, "%%", "%")
}
