package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LineKind classifies a breakdown line.
type LineKind string

const (
	// LineKindBase is the base material line of a configured panel.
	LineKindBase LineKind = "base"
	// LineKindSurcharge is an option surcharge such as color or attachment hardware.
	LineKindSurcharge LineKind = "surcharge"
	// LineKindTierFee is a fee selected from a tiered-fee table.
	LineKindTierFee LineKind = "tier_fee"
	// LineKindItem is the single line of a plain catalog item.
	LineKindItem LineKind = "item"
)

// BreakdownLine is one itemized contributor to a price. Money is in minor currency units.
type BreakdownLine struct {
	Kind       LineKind
	Label      string
	ProductKey string
	OptionKey  string
	Unit       UnitType
	// Measure is the billable measure per panel (square feet, linear feet or a count).
	Measure   decimal.Decimal
	UnitPrice int64
	Quantity  int
	LineTotal int64
}

// PriceBreakdown is the itemized result of quoting a configuration or catalog item.
// Total always equals the sum of line totals.
type PriceBreakdown struct {
	Currency string
	Lines    []BreakdownLine
	Total    int64
}

// Sum recomputes the grand total from the line totals.
func (b PriceBreakdown) Sum() int64 {
	var total int64
	for _, line := range b.Lines {
		total += line.LineTotal
	}
	return total
}

// Clone returns a deep copy of the breakdown.
func (b PriceBreakdown) Clone() PriceBreakdown {
	out := b
	out.Lines = append([]BreakdownLine(nil), b.Lines...)
	return out
}

// CheckedSum is Sum failing with ErrAmountOverflow instead of wrapping.
func (b PriceBreakdown) CheckedSum() (int64, error) {
	var total int64
	for _, line := range b.Lines {
		next, err := AddMinor(total, line.LineTotal)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// WithQuantity rescales every line to a new quantity, keeping the stored unit prices.
func (b PriceBreakdown) WithQuantity(quantity int) (PriceBreakdown, error) {
	out := b.Clone()
	for i := range out.Lines {
		lineTotal, err := MulMinor(out.Lines[i].UnitPrice, quantity)
		if err != nil {
			return PriceBreakdown{}, err
		}
		out.Lines[i].Quantity = quantity
		out.Lines[i].LineTotal = lineTotal
	}
	total, err := out.CheckedSum()
	if err != nil {
		return PriceBreakdown{}, err
	}
	out.Total = total
	return out, nil
}

// SamePrice reports whether two breakdowns charge the same amounts line by line.
func (b PriceBreakdown) SamePrice(other PriceBreakdown) bool {
	if b.Total != other.Total || len(b.Lines) != len(other.Lines) || b.Currency != other.Currency {
		return false
	}
	for i := range b.Lines {
		left, right := b.Lines[i], other.Lines[i]
		if left.Kind != right.Kind || left.OptionKey != right.OptionKey {
			return false
		}
		if left.UnitPrice != right.UnitPrice || left.Quantity != right.Quantity || left.LineTotal != right.LineTotal {
			return false
		}
	}
	return true
}

// PricingErrorCode enumerates the reasons a configuration cannot be priced.
type PricingErrorCode string

const (
	// PricingErrorProductUnpriced means a required catalog entry is missing or inactive.
	PricingErrorProductUnpriced PricingErrorCode = "product_unpriced"
	// PricingErrorInvalidDimensions means a dimension or quantity is missing, zero or negative.
	PricingErrorInvalidDimensions PricingErrorCode = "invalid_dimensions"
	// PricingErrorTierLookupFailure means no tier breakpoint applies to the computed measure.
	PricingErrorTierLookupFailure PricingErrorCode = "tier_lookup_failure"
)

// PricingError is a recoverable failure to price a configuration. It is never replaced by a zero price.
type PricingError struct {
	Code       PricingErrorCode
	ProductKey string
	OptionKey  string
	Detail     string
}

// Error implements the error interface.
func (e *PricingError) Error() string {
	if e == nil {
		return ""
	}
	target := e.ProductKey
	if e.OptionKey != "" {
		target += "/" + e.OptionKey
	}
	if e.Detail == "" {
		return fmt.Sprintf("pricing: %s (%s)", e.Code, target)
	}
	return fmt.Sprintf("pricing: %s (%s): %s", e.Code, target, e.Detail)
}

// NewPricingError constructs a PricingError.
func NewPricingError(code PricingErrorCode, productKey, optionKey, detail string) *PricingError {
	return &PricingError{Code: code, ProductKey: productKey, OptionKey: optionKey, Detail: detail}
}
