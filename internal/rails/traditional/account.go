package traditional

import (
	"errors"
	"strings"
	"unicode"

	"github.com/fundverse/backend/internal/models"
)

// ErrInvalidAccount is returned for account identifiers that cannot belong to the method.
var ErrInvalidAccount = errors.New("invalid account identifier")

// ValidateAccountIdentifier checks an account identifier against the shape
// its payment method expects: a Luhn-valid 13-19 digit card number, a 7-15
// digit wallet number, or an 8-34 character alphanumeric bank account/IBAN.
// Separators (spaces and dashes) are ignored.
func ValidateAccountIdentifier(m models.Method, raw string) error {
	id := normalize(raw)
	switch m {
	case models.MethodCardRail:
		if !allDigits(id) || len(id) < 13 || len(id) > 19 || !luhn(id) {
			return ErrInvalidAccount
		}
	case models.MethodWalletRail:
		if !allDigits(id) || len(id) < 7 || len(id) > 15 {
			return ErrInvalidAccount
		}
	case models.MethodBankTransfer:
		if len(id) < 8 || len(id) > 34 || !allAlnum(id) {
			return ErrInvalidAccount
		}
	default:
		if strings.TrimSpace(raw) == "" {
			return ErrInvalidAccount
		}
	}
	return nil
}

// MaskAccountIdentifier keeps the last four characters and masks the rest.
func MaskAccountIdentifier(raw string) string {
	id := normalize(raw)
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}

func normalize(raw string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func allAlnum(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return s != ""
}

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
