package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

// ErrRuleMalformed indicates a rule record could not be parsed.
var ErrRuleMalformed = errors.New("rule: malformed")

const maxConditionDepth = 16

// ParseRule converts an untrusted rule record into a RecommendationRule.
//
// Conditions are maps of the form {"op": "all"|"any", "conditions": [...]}, {"op": "not",
// "condition": {...}} or a leaf {"field": "width", "op": "gte", "value": 96}. An empty condition
// matches every configuration. Formulas carry a "kind" of spacing, fixed or per_unit.
func ParseRule(record repositories.RuleRecord) (RecommendationRule, error) {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return RecommendationRule{}, fmt.Errorf("%w: id is required", ErrRuleMalformed)
	}
	productKey := domain.NormaliseKey(record.ProductKey)
	optionKey := domain.NormaliseKey(record.OptionKey)
	if productKey == "" || optionKey == "" {
		return RecommendationRule{}, fmt.Errorf("%w: rule %s must name a product and option", ErrRuleMalformed, id)
	}

	condition := domain.Condition{Op: domain.ConditionAll}
	if len(record.Condition) > 0 {
		parsed, err := parseCondition(record.Condition, 0)
		if err != nil {
			return RecommendationRule{}, fmt.Errorf("%w: rule %s condition: %v", ErrRuleMalformed, id, err)
		}
		condition = parsed
	}

	formula, err := parseFormula(record.Formula)
	if err != nil {
		return RecommendationRule{}, fmt.Errorf("%w: rule %s formula: %v", ErrRuleMalformed, id, err)
	}

	exclusive := make([]string, 0, len(record.ExclusiveWith))
	for _, other := range record.ExclusiveWith {
		other = strings.TrimSpace(other)
		if other != "" && other != id {
			exclusive = append(exclusive, other)
		}
	}
	sort.Strings(exclusive)

	name := strings.TrimSpace(record.Name)
	if name == "" {
		name = id
	}

	return RecommendationRule{
		ID:            id,
		Name:          name,
		Priority:      record.Priority,
		Active:        record.Active,
		ExclusiveWith: exclusive,
		ProductKey:    productKey,
		OptionKey:     optionKey,
		Condition:     condition,
		Formula:       formula,
	}, nil
}

func parseCondition(raw map[string]any, depth int) (domain.Condition, error) {
	if depth > maxConditionDepth {
		return domain.Condition{}, errors.New("condition nested too deeply")
	}
	op := domain.ConditionOp(strings.TrimSpace(stringValue(raw["op"])))
	switch op {
	case domain.ConditionAll, domain.ConditionAny:
		list, ok := raw["conditions"].([]any)
		if !ok {
			return domain.Condition{}, fmt.Errorf("%s requires a conditions list", op)
		}
		children := make([]domain.Condition, 0, len(list))
		for idx, item := range list {
			child, ok := asMap(item)
			if !ok {
				return domain.Condition{}, fmt.Errorf("%s[%d] is not an object", op, idx)
			}
			parsed, err := parseCondition(child, depth+1)
			if err != nil {
				return domain.Condition{}, err
			}
			children = append(children, parsed)
		}
		return domain.Condition{Op: op, Children: children}, nil
	case domain.ConditionNot:
		child, ok := asMap(raw["condition"])
		if !ok {
			return domain.Condition{}, errors.New("not requires a condition object")
		}
		parsed, err := parseCondition(child, depth+1)
		if err != nil {
			return domain.Condition{}, err
		}
		return domain.Condition{Op: op, Children: []domain.Condition{parsed}}, nil
	case domain.ConditionEq, domain.ConditionNe, domain.ConditionIn,
		domain.ConditionGt, domain.ConditionGte, domain.ConditionLt, domain.ConditionLte, domain.ConditionHas:
		return parseLeaf(op, raw)
	case "":
		return domain.Condition{}, errors.New("op is required")
	default:
		return domain.Condition{}, fmt.Errorf("unknown op %q", op)
	}
}

func parseLeaf(op domain.ConditionOp, raw map[string]any) (domain.Condition, error) {
	field := domain.ConditionField(strings.TrimSpace(stringValue(raw["field"])))
	if !field.Known() {
		return domain.Condition{}, fmt.Errorf("unknown field %q", field)
	}
	value, present := raw["value"]
	if !present {
		return domain.Condition{}, fmt.Errorf("%s %s requires a value", field, op)
	}

	var values []any
	if op == domain.ConditionIn {
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return domain.Condition{}, fmt.Errorf("%s in requires a non-empty list", field)
		}
		values = list
	} else {
		values = []any{value}
	}

	leaf := domain.Condition{Op: op, Field: field}
	if field.Textual() {
		if op.Numeric() {
			return domain.Condition{}, fmt.Errorf("%s does not support %s", field, op)
		}
		if op == domain.ConditionHas && field != domain.FieldAttachment {
			return domain.Condition{}, fmt.Errorf("has only applies to attachment, not %s", field)
		}
		for _, v := range values {
			text := domain.NormaliseKey(stringValue(v))
			if text == "" {
				return domain.Condition{}, fmt.Errorf("%s %s has an empty value", field, op)
			}
			leaf.Values = append(leaf.Values, text)
		}
		return leaf, nil
	}

	if op == domain.ConditionHas {
		return domain.Condition{}, fmt.Errorf("has does not apply to numeric field %s", field)
	}
	for _, v := range values {
		number, err := decimalValue(v)
		if err != nil {
			return domain.Condition{}, fmt.Errorf("%s %s: %v", field, op, err)
		}
		leaf.Numbers = append(leaf.Numbers, number)
	}
	return leaf, nil
}

func parseFormula(raw map[string]any) (domain.QuantityFormula, error) {
	if len(raw) == 0 {
		return domain.QuantityFormula{}, errors.New("formula is required")
	}
	minimum, err := optionalCount(raw, "min")
	if err != nil {
		return domain.QuantityFormula{}, err
	}
	kind := domain.FormulaKind(strings.TrimSpace(stringValue(raw["kind"])))
	switch kind {
	case domain.FormulaSpacing:
		measure := domain.MeasureKind(strings.TrimSpace(stringValue(raw["measure"])))
		switch measure {
		case domain.MeasurePerimeter, domain.MeasureWidth, domain.MeasureHeight, domain.MeasureLength:
		default:
			return domain.QuantityFormula{}, fmt.Errorf("spacing measure %q is unknown", measure)
		}
		every, err := decimalValue(raw["every"])
		if err != nil {
			return domain.QuantityFormula{}, fmt.Errorf("spacing every: %v", err)
		}
		if !every.IsPositive() {
			return domain.QuantityFormula{}, errors.New("spacing every must be positive")
		}
		rounding := domain.Rounding(strings.TrimSpace(stringValue(raw["rounding"])))
		if rounding != domain.RoundingCeil && rounding != domain.RoundingFloor {
			return domain.QuantityFormula{}, fmt.Errorf("spacing rounding must be ceil or floor, got %q", rounding)
		}
		perPanel := true
		if rawPerPanel, ok := raw["perPanel"]; ok {
			flag, ok := rawPerPanel.(bool)
			if !ok {
				return domain.QuantityFormula{}, errors.New("spacing perPanel must be a boolean")
			}
			perPanel = flag
		}
		return domain.QuantityFormula{
			Kind:     kind,
			Measure:  measure,
			Every:    every,
			Rounding: rounding,
			PerPanel: perPanel,
			Minimum:  minimum,
		}, nil
	case domain.FormulaFixed, domain.FormulaPerUnit:
		count, err := optionalCount(raw, "count")
		if err != nil {
			return domain.QuantityFormula{}, err
		}
		if count <= 0 {
			return domain.QuantityFormula{}, fmt.Errorf("%s count must be positive", kind)
		}
		return domain.QuantityFormula{Kind: kind, Count: count, Minimum: minimum}, nil
	case "":
		return domain.QuantityFormula{}, errors.New("formula kind is required")
	default:
		return domain.QuantityFormula{}, fmt.Errorf("unknown formula kind %q", kind)
	}
}

// ruleFacts are the configuration attributes a condition can read.
type ruleFacts struct {
	cfg        PanelConfiguration
	quoteTotal decimal.Decimal
}

func newRuleFacts(cfg PanelConfiguration, breakdown PriceBreakdown) ruleFacts {
	scale, err := domain.MinorUnitScale(breakdown.Currency)
	if err != nil {
		scale = 2
	}
	return ruleFacts{cfg: cfg, quoteTotal: domain.FromMinorUnits(breakdown.Total, scale)}
}

func (f ruleFacts) text(field domain.ConditionField) []string {
	switch field {
	case domain.FieldProduct:
		return []string{f.cfg.ProductKey}
	case domain.FieldMeshType:
		return []string{f.cfg.MeshType}
	case domain.FieldColor:
		return []string{f.cfg.Color}
	case domain.FieldAttachment:
		return f.cfg.Attachments
	default:
		return nil
	}
}

// number returns false when the configuration has no value for the field.
func (f ruleFacts) number(field domain.ConditionField) (decimal.Decimal, bool) {
	switch field {
	case domain.FieldWidth:
		return f.cfg.Width, f.cfg.Width.IsPositive()
	case domain.FieldHeight:
		return f.cfg.Height, f.cfg.Height.IsPositive()
	case domain.FieldLength:
		return f.cfg.Length, f.cfg.Length.IsPositive()
	case domain.FieldPerimeter:
		return f.cfg.PerimeterInches(), f.cfg.Width.IsPositive() && f.cfg.Height.IsPositive()
	case domain.FieldArea:
		return f.cfg.AreaSquareFeet(), f.cfg.Width.IsPositive() && f.cfg.Height.IsPositive()
	case domain.FieldQuantity:
		return decimal.NewFromInt(int64(f.cfg.Quantity)), true
	case domain.FieldQuoteTotal:
		return f.quoteTotal, true
	default:
		return decimal.Zero, false
	}
}

// evaluateCondition reports whether the condition holds. Numeric comparisons against a measure the
// configuration does not carry never match.
func evaluateCondition(cond domain.Condition, facts ruleFacts) bool {
	switch cond.Op {
	case domain.ConditionAll:
		for _, child := range cond.Children {
			if !evaluateCondition(child, facts) {
				return false
			}
		}
		return true
	case domain.ConditionAny:
		for _, child := range cond.Children {
			if evaluateCondition(child, facts) {
				return true
			}
		}
		return false
	case domain.ConditionNot:
		return len(cond.Children) == 1 && !evaluateCondition(cond.Children[0], facts)
	}

	if cond.Field.Textual() {
		actual := facts.text(cond.Field)
		matched := containsAny(actual, cond.Values)
		if cond.Op == domain.ConditionNe {
			return !matched
		}
		return matched
	}

	actual, ok := facts.number(cond.Field)
	if !ok || len(cond.Numbers) == 0 {
		return false
	}
	switch cond.Op {
	case domain.ConditionEq:
		return actual.Equal(cond.Numbers[0])
	case domain.ConditionNe:
		return !actual.Equal(cond.Numbers[0])
	case domain.ConditionIn:
		for _, candidate := range cond.Numbers {
			if actual.Equal(candidate) {
				return true
			}
		}
		return false
	case domain.ConditionGt:
		return actual.GreaterThan(cond.Numbers[0])
	case domain.ConditionGte:
		return actual.GreaterThanOrEqual(cond.Numbers[0])
	case domain.ConditionLt:
		return actual.LessThan(cond.Numbers[0])
	case domain.ConditionLte:
		return actual.LessThanOrEqual(cond.Numbers[0])
	default:
		return false
	}
}

// computeQuantity applies the rule formula to a configuration.
func computeQuantity(formula domain.QuantityFormula, cfg PanelConfiguration) (int, error) {
	panels := cfg.Quantity
	var quantity int64
	switch formula.Kind {
	case domain.FormulaFixed:
		quantity = int64(formula.Count)
	case domain.FormulaPerUnit:
		quantity = int64(formula.Count) * int64(panels)
	case domain.FormulaSpacing:
		measure, ok := spacingMeasure(formula.Measure, cfg)
		if !ok {
			return 0, fmt.Errorf("measure %s unavailable for product %s", formula.Measure, cfg.ProductKey)
		}
		if formula.PerPanel {
			quantity = roundUnits(measure.Div(formula.Every), formula.Rounding) * int64(panels)
		} else {
			total := measure.Mul(decimal.NewFromInt(int64(panels)))
			quantity = roundUnits(total.Div(formula.Every), formula.Rounding)
		}
	default:
		return 0, fmt.Errorf("unsupported formula kind %q", formula.Kind)
	}
	if quantity < int64(formula.Minimum) {
		quantity = int64(formula.Minimum)
	}
	if quantity > math.MaxInt32 {
		return 0, fmt.Errorf("computed quantity %d out of range", quantity)
	}
	return int(quantity), nil
}

func spacingMeasure(kind domain.MeasureKind, cfg PanelConfiguration) (decimal.Decimal, bool) {
	switch kind {
	case domain.MeasurePerimeter:
		return cfg.PerimeterInches(), cfg.Width.IsPositive() && cfg.Height.IsPositive()
	case domain.MeasureWidth:
		return cfg.Width, cfg.Width.IsPositive()
	case domain.MeasureHeight:
		return cfg.Height, cfg.Height.IsPositive()
	case domain.MeasureLength:
		return cfg.Length, cfg.Length.IsPositive()
	default:
		return decimal.Zero, false
	}
}

func roundUnits(value decimal.Decimal, rounding domain.Rounding) int64 {
	if rounding == domain.RoundingFloor {
		return value.Floor().IntPart()
	}
	return value.Ceil().IntPart()
}

func containsAny(actual, wanted []string) bool {
	for _, a := range actual {
		a = domain.NormaliseKey(a)
		if a == "" {
			continue
		}
		for _, w := range wanted {
			if a == w {
				return true
			}
		}
	}
	return false
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func decimalValue(value any) (decimal.Decimal, error) {
	switch typed := value.(type) {
	case int:
		return decimal.NewFromInt(int64(typed)), nil
	case int32:
		return decimal.NewFromInt(int64(typed)), nil
	case int64:
		return decimal.NewFromInt(typed), nil
	case uint64:
		if typed > math.MaxInt64 {
			return decimal.Zero, fmt.Errorf("number %d out of range", typed)
		}
		return decimal.NewFromInt(int64(typed)), nil
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return decimal.Zero, errors.New("number is not finite")
		}
		return decimal.NewFromFloat(typed), nil
	case json.Number:
		return decimal.NewFromString(typed.String())
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(typed))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%q is not a number", typed)
		}
		return parsed, nil
	case nil:
		return decimal.Zero, errors.New("number is required")
	default:
		return decimal.Zero, fmt.Errorf("unsupported number type %T", value)
	}
}

func optionalCount(raw map[string]any, key string) (int, error) {
	value, ok := raw[key]
	if !ok || value == nil {
		return 0, nil
	}
	number, err := decimalValue(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	if !number.Equal(number.Truncate(0)) {
		return 0, fmt.Errorf("%s must be a whole number", key)
	}
	if number.IsNegative() {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	if number.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, fmt.Errorf("%s is too large", key)
	}
	return int(number.IntPart()), nil
}

// FormatRuleQuantity renders a spacing expression for CLI and log output.
func FormatRuleQuantity(formula domain.QuantityFormula) string {
	switch formula.Kind {
	case domain.FormulaSpacing:
		scope := "per panel"
		if !formula.PerPanel {
			scope = "across panels"
		}
		return fmt.Sprintf("%s(%s / %s) %s, min %d", formula.Rounding, formula.Measure, formula.Every.String(), scope, formula.Minimum)
	case domain.FormulaFixed:
		return fmt.Sprintf("%d fixed, min %d", formula.Count, formula.Minimum)
	case domain.FormulaPerUnit:
		return fmt.Sprintf("%d per panel, min %d", formula.Count, formula.Minimum)
	default:
		return string(formula.Kind)
	}
}
