// Package validation provides input validation utilities
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxUsernameLength is the longest accepted username.
const MaxUsernameLength = 64

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9][0-9 ()-]*[0-9]$`)
)

// ValidateUsername checks that a (trimmed) username can be stored and shared.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	// Check maximum length (prevent unreasonable inputs)
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return fmt.Errorf("username must be at most %d characters", MaxUsernameLength)
	}

	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username may only contain letters, digits, '.', '_' and '-' and must start with a letter or digit")
	}

	return nil
}

// ValidatePhone checks an optional phone number. Empty is allowed.
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if len(phone) > 32 {
		return fmt.Errorf("phone must not exceed 32 characters")
	}
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("phone may only contain digits, spaces, '(', ')', '-' and a leading '+'")
	}

	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 5 {
		return fmt.Errorf("phone must contain at least 5 digits")
	}
	return nil
}
