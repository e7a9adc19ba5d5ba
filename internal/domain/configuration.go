package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxQuantity caps the panel or item count of a single cart line.
const MaxQuantity = 10000

// MaxDimensionInches caps every configured dimension (200 ft).
var MaxDimensionInches = decimal.NewFromInt(2400)

var (
	inchesPerFoot       = decimal.NewFromInt(12)
	squareInchesPerFoot = decimal.NewFromInt(144)
	two                 = decimal.NewFromInt(2)
)

// PanelConfiguration is the customer input describing one made-to-order panel.
// Dimensions are in inches. Values are never mutated after creation; use the With* helpers.
type PanelConfiguration struct {
	ProductKey  string
	Width       decimal.Decimal
	Height      decimal.Decimal
	Length      decimal.Decimal
	MeshType    string
	Color       string
	Attachments []string
	Quantity    int
}

// Normalised returns a copy with trimmed, lowercased keys and a sorted, de-duplicated attachment set.
func (c PanelConfiguration) Normalised() PanelConfiguration {
	out := c
	out.ProductKey = NormaliseKey(c.ProductKey)
	out.MeshType = NormaliseKey(c.MeshType)
	out.Color = NormaliseKey(c.Color)

	seen := make(map[string]struct{}, len(c.Attachments))
	attachments := make([]string, 0, len(c.Attachments))
	for _, raw := range c.Attachments {
		key := NormaliseKey(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		attachments = append(attachments, key)
	}
	sort.Strings(attachments)
	out.Attachments = attachments
	return out
}

// WithQuantity returns a copy of the configuration with a different panel count.
func (c PanelConfiguration) WithQuantity(quantity int) PanelConfiguration {
	out := c
	out.Attachments = append([]string(nil), c.Attachments...)
	out.Quantity = quantity
	return out
}

// OutOfBounds describes the first dimension or quantity outside the accepted range. It returns ""
// when every value is in range. Zero dimensions are accepted here; Measure rejects them per unit.
func (c PanelConfiguration) OutOfBounds() string {
	if c.Quantity <= 0 {
		return fmt.Sprintf("quantity %d must be positive", c.Quantity)
	}
	if c.Quantity > MaxQuantity {
		return fmt.Sprintf("quantity %d exceeds %d", c.Quantity, MaxQuantity)
	}
	for _, dim := range []struct {
		name  string
		value decimal.Decimal
	}{{"width", c.Width}, {"height", c.Height}, {"length", c.Length}} {
		if dim.value.IsNegative() {
			return "dimensions must not be negative"
		}
		if dim.value.GreaterThan(MaxDimensionInches) {
			return fmt.Sprintf("%s %s exceeds %s inches", dim.name, dim.value.String(), MaxDimensionInches.String())
		}
	}
	return ""
}

// HasAttachment reports whether the configuration selects the attachment key.
func (c PanelConfiguration) HasAttachment(key string) bool {
	key = NormaliseKey(key)
	for _, attachment := range c.Attachments {
		if NormaliseKey(attachment) == key {
			return true
		}
	}
	return false
}

// PerimeterInches returns 2 x (width + height).
func (c PanelConfiguration) PerimeterInches() decimal.Decimal {
	return c.Width.Add(c.Height).Mul(two)
}

// AreaSquareFeet returns width x height in square feet.
func (c PanelConfiguration) AreaSquareFeet() decimal.Decimal {
	return c.Width.Mul(c.Height).Div(squareInchesPerFoot)
}

// Summary renders a short human readable description used for cart line labels.
func (c PanelConfiguration) Summary() string {
	parts := []string{c.ProductKey}
	if !c.Width.IsZero() || !c.Height.IsZero() {
		parts = append(parts, c.Width.String()+"\"x"+c.Height.String()+"\"")
	}
	if !c.Length.IsZero() {
		parts = append(parts, c.Length.String()+"\" long")
	}
	if c.MeshType != "" {
		parts = append(parts, c.MeshType)
	}
	if c.Color != "" {
		parts = append(parts, c.Color)
	}
	if len(c.Attachments) > 0 {
		parts = append(parts, strings.Join(c.Attachments, "+"))
	}
	return strings.Join(parts, " ")
}

// Measure returns the billable measure for a unit type, per panel.
// ok is false when the unit type needs a dimension the configuration does not carry.
func (c PanelConfiguration) Measure(unit UnitType) (decimal.Decimal, bool) {
	switch unit {
	case UnitSquareFoot:
		if !c.Width.IsPositive() || !c.Height.IsPositive() {
			return decimal.Zero, false
		}
		return c.AreaSquareFeet(), true
	case UnitLinearFootPerimeter:
		if !c.Width.IsPositive() || !c.Height.IsPositive() {
			return decimal.Zero, false
		}
		return c.PerimeterInches().Div(inchesPerFoot), true
	case UnitLinearFootWidth:
		if !c.Width.IsPositive() {
			return decimal.Zero, false
		}
		return c.Width.Div(inchesPerFoot), true
	case UnitLinearFootLength:
		if !c.Length.IsPositive() {
			return decimal.Zero, false
		}
		return c.Length.Div(inchesPerFoot), true
	case UnitPanel, UnitEach, UnitFlat:
		return decimal.NewFromInt(1), true
	default:
		return decimal.Zero, false
	}
}
