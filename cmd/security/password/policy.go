package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak enables a minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Validate checks password against the policy. Lengths count runes, not bytes.
func (p Policy) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	if n < p.MinLength {
		return ErrPasswordTooShort
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return ErrPasswordTooLong
	}
	if p.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak is not a strength estimator; it only catches the obvious cases.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	allSame := true
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	onlyDigits := true
	for _, r := range s {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111":
		return true
	}
	return false
}
