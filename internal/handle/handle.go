// Package handle checks player handle syntax
package handle

import "strings"

const (
	MinLength = 2
	MaxLength = 24
)

// Normalize trims surrounding whitespace from a raw candidate
func Normalize(raw string) string {
	return strings.TrimSpace(raw)
}

// IsWellFormed reports whether the trimmed candidate is 2-24 characters of
// ASCII letters, digits, space, underscore or hyphen
func IsWellFormed(candidate string) bool {
	name := Normalize(candidate)
	if len(name) < MinLength || len(name) > MaxLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !allowed(name[i]) {
			return false
		}
	}
	return true
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == ' ', c == '_', c == '-':
		return true
	}
	return false
}
