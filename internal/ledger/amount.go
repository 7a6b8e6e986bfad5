package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kiumaa/kixikila/internal/apperr"
)

// maxScale is the finest fraction of a currency unit accepted on input.
const maxScale = 4

// ParseAmount parses a decimal money amount. Empty, unparsable, non-finite
// and zero values fail with apperr.ErrInvalidAmount. The sign is preserved.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount is required")
	}
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount %q is not finite", s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindInvalidAmount, err, "amount %q is not a number", s)
	}
	if d.IsZero() {
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount must be non-zero")
	}
	if !d.Equal(d.Truncate(maxScale)) {
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount %q has more than %d decimal places", s, maxScale)
	}
	return d, nil
}

// ParsePositiveAmount is ParseAmount restricted to values above zero.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return d, err
	}
	if d.IsNegative() {
		return decimal.Zero, apperr.New(apperr.KindInvalidAmount, "amount must be positive")
	}
	return d, nil
}
