// Package text holds small string helpers for log and error output.
package text

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most max runes, marking the cut with "...". Surrounding whitespace
// is trimmed first; max <= 0 disables truncation.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
