package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrCityEmpty is returned for empty or whitespace-only input. Callers treat it as a no-op, not a failure.
var ErrCityEmpty = errors.New("city is required")

var (
	ErrCityTooShort     = errors.New("city too short")
	ErrCityTooLong      = errors.New("city too long")
	ErrCityControlChars = errors.New("city contains control characters")
)

// CityRules bounds accepted city names, in runes. Zero disables a bound.
type CityRules struct {
	MinLength int
	MaxLength int
}

// Validate trims input, collapses internal whitespace runs to one space, enforces the
// length bounds and rejects control characters. Returns the cleaned city.
func (r CityRules) Validate(input string) (string, error) {
	s := strings.Join(strings.Fields(input), " ")
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if r.MinLength > 0 && n < r.MinLength {
		return "", ErrCityTooShort
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return "", ErrCityTooLong
	}
	for _, c := range runes {
		if unicode.IsControl(c) {
			return "", ErrCityControlChars
		}
	}
	return s, nil
}

// IsBlank reports whether s has no non-space content.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
