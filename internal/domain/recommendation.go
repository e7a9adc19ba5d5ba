package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ConditionOp is the tag of a condition node.
type ConditionOp string

const (
	ConditionAll ConditionOp = "all"
	ConditionAny ConditionOp = "any"
	ConditionNot ConditionOp = "not"
	ConditionEq  ConditionOp = "eq"
	ConditionNe  ConditionOp = "ne"
	ConditionIn  ConditionOp = "in"
	ConditionGt  ConditionOp = "gt"
	ConditionGte ConditionOp = "gte"
	ConditionLt  ConditionOp = "lt"
	ConditionLte ConditionOp = "lte"
	ConditionHas ConditionOp = "has"
)

// Numeric reports whether the op compares numbers.
func (op ConditionOp) Numeric() bool {
	switch op {
	case ConditionGt, ConditionGte, ConditionLt, ConditionLte:
		return true
	default:
		return false
	}
}

// ConditionField names a configuration attribute a leaf condition reads.
type ConditionField string

const (
	FieldProduct    ConditionField = "product"
	FieldMeshType   ConditionField = "meshType"
	FieldColor      ConditionField = "color"
	FieldAttachment ConditionField = "attachment"
	FieldWidth      ConditionField = "width"
	FieldHeight     ConditionField = "height"
	FieldLength     ConditionField = "length"
	FieldPerimeter  ConditionField = "perimeter"
	FieldArea       ConditionField = "area"
	FieldQuantity   ConditionField = "quantity"
	FieldQuoteTotal ConditionField = "quoteTotal"
)

// Textual reports whether the field holds a key rather than a number.
func (f ConditionField) Textual() bool {
	switch f {
	case FieldProduct, FieldMeshType, FieldColor, FieldAttachment:
		return true
	default:
		return false
	}
}

// Known reports whether the field is recognised.
func (f ConditionField) Known() bool {
	switch f {
	case FieldProduct, FieldMeshType, FieldColor, FieldAttachment,
		FieldWidth, FieldHeight, FieldLength, FieldPerimeter, FieldArea, FieldQuantity, FieldQuoteTotal:
		return true
	default:
		return false
	}
}

// Condition is a tagged predicate tree. Composite nodes use Children; leaves compare Field against
// Values (textual fields) or Numbers (numeric fields).
type Condition struct {
	Op       ConditionOp
	Children []Condition
	Field    ConditionField
	Values   []string
	Numbers  []decimal.Decimal
}

// FormulaKind is the tag of a quantity formula.
type FormulaKind string

const (
	// FormulaSpacing places one unit every N inches of a measure, per panel.
	FormulaSpacing FormulaKind = "spacing"
	// FormulaFixed recommends a fixed count for the whole configuration.
	FormulaFixed FormulaKind = "fixed"
	// FormulaPerUnit recommends a count per panel.
	FormulaPerUnit FormulaKind = "per_unit"
)

// Rounding is the explicit rounding direction of a spacing formula.
type Rounding string

const (
	RoundingCeil  Rounding = "ceil"
	RoundingFloor Rounding = "floor"
)

// MeasureKind names the linear measure a spacing formula divides.
type MeasureKind string

const (
	MeasurePerimeter MeasureKind = "perimeter"
	MeasureWidth     MeasureKind = "width"
	MeasureHeight    MeasureKind = "height"
	MeasureLength    MeasureKind = "length"
)

// QuantityFormula computes a recommended quantity from configuration measurements.
// Spacing formulas round per panel unless PerPanel is false, in which case the measure of all
// panels is summed before dividing.
type QuantityFormula struct {
	Kind     FormulaKind
	Measure  MeasureKind
	Every    decimal.Decimal
	Rounding Rounding
	PerPanel bool
	Count    int
	Minimum  int
}

// RecommendationRule maps a condition over a configuration to a recommended catalog item.
type RecommendationRule struct {
	ID            string
	Name          string
	Priority      int
	Active        bool
	ExclusiveWith []string
	ProductKey    string
	OptionKey     string
	Condition     Condition
	Formula       QuantityFormula
}

// RecommendedItem is a priced accessory suggestion produced by a matching rule.
type RecommendedItem struct {
	RuleID     string
	ProductKey string
	OptionKey  string
	Label      string
	Quantity   int
	UnitPrice  int64
	LineTotal  int64
}

// RuleError isolates a failure of a single rule. It never aborts evaluation of other rules.
type RuleError struct {
	RuleID string
	Reason string
}

// Error implements the error interface.
func (e RuleError) Error() string {
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}
