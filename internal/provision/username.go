package provision

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DeriveUsername builds the base username from a full name: first initial
// plus last name, lowercased, letters and digits only. "John Doe" yields
// "jdoe"; a single-word name is used whole.
func DeriveUsername(name string) string {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return sanitize(strings.ToLower(parts[0]))
	}
	first := sanitize(strings.ToLower(parts[0]))
	last := sanitize(strings.ToLower(parts[len(parts)-1]))
	if first == "" {
		return last
	}
	if last == "" {
		return first
	}
	// The initial is the first rune, not the first byte.
	r, _ := utf8.DecodeRuneInString(first)
	return string(r) + last
}

// usernameCandidate returns the n-th disambiguation candidate for a base:
// the base itself, then base2, base3, and so on.
func usernameCandidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s%d", base, n)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
