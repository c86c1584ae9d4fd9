// Package phone canonicalizes phone numbers and template names so that
// outbound sends and webhook callbacks resolve to the same records.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmpty   = errors.New("empty phone number")
	ErrInvalid = errors.New("invalid phone number")
)

var e164 = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// Normalize strips formatting from a phone number, keeping digits and a
// single leading '+'. Numbers arriving without a prefix get one, so
// "+1 (555) 123-4567" and "15551234567" both canonicalize to "+15551234567".
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	// A single canonical spelling per number; a bare "5551234567" and a
	// prefixed "+5551234567" must land in the same thread.
	if !strings.HasPrefix(cleaned, "+") {
		cleaned = "+" + cleaned
	}

	if !e164.MatchString(cleaned) {
		return "", ErrInvalid
	}
	return cleaned, nil
}

// NormalizeTemplateName lowercases a template name and replaces whitespace
// runs with underscores, matching the platform's naming rules.
func NormalizeTemplateName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}
