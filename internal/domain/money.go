package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExp is the exponent of the smallest currency unit (fen).
const MinorUnitExp = -2

var maxAmount = decimal.New(math.MaxInt64, MinorUnitExp)

// ToMinorUnits converts a positive decimal amount to fen. Amounts that are not
// positive, carry sub-fen precision, or overflow int64 fen are ErrInvalidAmount.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(-MinorUnitExp)) {
		return 0, ErrInvalidAmount
	}
	if amount.GreaterThan(maxAmount) {
		return 0, ErrInvalidAmount
	}
	return amount.Shift(-MinorUnitExp).IntPart(), nil
}

// FromMinorUnits converts fen back to a decimal amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, MinorUnitExp)
}

// FormatYuan renders fen as "¥1,234.56元".
func FormatYuan(v int64) string {
	return "¥" + GroupThousands(FromMinorUnits(v).StringFixed(2)) + "元"
}

// GroupThousands inserts comma separators into the integer part of a
// plain decimal string such as "-1234567.80".
func GroupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	b.WriteString(sign)
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(frac)
	return b.String()
}
