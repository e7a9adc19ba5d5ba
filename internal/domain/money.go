package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when catalog data does not declare one.
const DefaultCurrency = "USD"

// ErrAmountOverflow reports a minor-unit amount outside the int64 range.
var ErrAmountOverflow = errors.New("domain: amount exceeds the supported range")

var (
	half     = decimal.New(5, -1)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// MinorUnitScale returns the number of minor-unit digits for an ISO 4217 currency code.
func MinorUnitScale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("domain: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// RoundHalfUp rounds to the nearest integer, resolving .5 towards positive infinity.
func RoundHalfUp(value decimal.Decimal) decimal.Decimal {
	return value.Add(half).Floor()
}

// ToMinorUnits converts a major-unit amount into minor units using round-half-up.
func ToMinorUnits(major decimal.Decimal, scale int32) (int64, error) {
	return checkedMinor(RoundHalfUp(major.Shift(scale)))
}

// MulMinor multiplies a minor-unit amount by a count.
func MulMinor(amount int64, count int) (int64, error) {
	return checkedMinor(decimal.NewFromInt(amount).Mul(decimal.NewFromInt(int64(count))))
}

// AddMinor adds two minor-unit amounts.
func AddMinor(a, b int64) (int64, error) {
	return checkedMinor(decimal.NewFromInt(a).Add(decimal.NewFromInt(b)))
}

func checkedMinor(value decimal.Decimal) (int64, error) {
	if value.Abs().GreaterThan(maxMinor) {
		return 0, ErrAmountOverflow
	}
	return value.IntPart(), nil
}

// FromMinorUnits converts minor units back into a major-unit decimal.
func FromMinorUnits(amount int64, scale int32) decimal.Decimal {
	return decimal.New(amount, -scale)
}

// FormatMinor renders minor units as a display string such as "USD 12.50".
// Unknown currencies fall back to two decimal places.
func FormatMinor(amount int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	scale, err := MinorUnitScale(code)
	if err != nil {
		scale = 2
	}
	return code + " " + FromMinorUnits(amount, scale).StringFixed(scale)
}
