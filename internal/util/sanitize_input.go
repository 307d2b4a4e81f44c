package util

import (
	"strings"
	"unicode"
)

// StripControl removes control characters that would break line-oriented logs.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

// MaskTail keeps the last n characters of a value and masks the rest.
func MaskTail(value string, n int) string {
	if n <= 0 || len(value) <= n {
		return value
	}
	return strings.Repeat("*", len(value)-n) + value[len(value)-n:]
}
