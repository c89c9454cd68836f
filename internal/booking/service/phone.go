package service

import (
	"strings"
	"unicode"

	"github.com/smallbiznis/warmline/internal/booking/domain"
)

// NormalizePhone canonicalizes a dialable number to E.164. Bare 10-digit
// numbers are assumed to be US.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}

	number := digits.String()
	switch {
	case len(number) == 10:
		number = "1" + number
	case len(number) >= 11 && len(number) <= 15:
	default:
		return "", domain.ErrInvalidPhone
	}

	return "+" + number, nil
}
