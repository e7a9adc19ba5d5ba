package services

import (
	"encoding/json"
	"errors"
	"testing"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

func stuccoRule(rounding string) repositories.RuleRecord {
	return repositories.RuleRecord{
		ID:         "stucco",
		Name:       "Stucco strip every 36in",
		Priority:   10,
		Active:     true,
		ProductKey: "stucco_strip",
		OptionKey:  "item:standard",
		Condition: map[string]any{
			"op": "all",
			"conditions": []any{
				map[string]any{"field": "product", "op": "eq", "value": "mesh_panel"},
				map[string]any{"field": "perimeter", "op": "gt", "value": "0"},
			},
		},
		Formula: map[string]any{"kind": "spacing", "measure": "perimeter", "every": 36, "rounding": rounding},
	}
}

func TestParseRuleSpacing(t *testing.T) {
	rule, err := ParseRule(stuccoRule("ceil"))
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if rule.Formula.Kind != domain.FormulaSpacing || !rule.Formula.Every.Equal(dec("36")) || rule.Formula.Rounding != domain.RoundingCeil {
		t.Fatalf("unexpected formula %+v", rule.Formula)
	}
	if !rule.Formula.PerPanel {
		t.Fatalf("expected spacing to default to per panel")
	}
	if rule.Condition.Op != domain.ConditionAll || len(rule.Condition.Children) != 2 {
		t.Fatalf("unexpected condition %+v", rule.Condition)
	}
}

func TestParseRuleAcceptsNumberEncodings(t *testing.T) {
	for _, every := range []any{36, int64(36), float64(36), "36", json.Number("36")} {
		record := stuccoRule("floor")
		record.Formula["every"] = every
		rule, err := ParseRule(record)
		if err != nil {
			t.Fatalf("every %T: ParseRule: %v", every, err)
		}
		if !rule.Formula.Every.Equal(dec("36")) {
			t.Fatalf("every %T: expected 36, got %s", every, rule.Formula.Every)
		}
	}
}

func TestParseRuleRejectsMalformedRecords(t *testing.T) {
	cases := map[string]func(*repositories.RuleRecord){
		"missing rounding":  func(r *repositories.RuleRecord) { delete(r.Formula, "rounding") },
		"bad rounding":      func(r *repositories.RuleRecord) { r.Formula["rounding"] = "nearest" },
		"zero spacing":      func(r *repositories.RuleRecord) { r.Formula["every"] = 0 },
		"unknown kind":      func(r *repositories.RuleRecord) { r.Formula = map[string]any{"kind": "magic"} },
		"missing formula":   func(r *repositories.RuleRecord) { r.Formula = nil },
		"fixed zero count":  func(r *repositories.RuleRecord) { r.Formula = map[string]any{"kind": "fixed", "count": 0} },
		"fractional min":    func(r *repositories.RuleRecord) { r.Formula["min"] = 1.5 },
		"unknown field":     func(r *repositories.RuleRecord) { r.Condition = map[string]any{"field": "weight", "op": "gt", "value": 1} },
		"numeric text op":   func(r *repositories.RuleRecord) { r.Condition = map[string]any{"field": "color", "op": "gt", "value": "x"} },
		"has on numeric":    func(r *repositories.RuleRecord) { r.Condition = map[string]any{"field": "width", "op": "has", "value": 1} },
		"in without list":   func(r *repositories.RuleRecord) { r.Condition = map[string]any{"field": "color", "op": "in", "value": "black"} },
		"not without child": func(r *repositories.RuleRecord) { r.Condition = map[string]any{"op": "not"} },
		"bad number":        func(r *repositories.RuleRecord) { r.Condition = map[string]any{"field": "width", "op": "gt", "value": "wide"} },
		"missing id":        func(r *repositories.RuleRecord) { r.ID = " " },
		"missing product":   func(r *repositories.RuleRecord) { r.ProductKey = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			record := stuccoRule("ceil")
			mutate(&record)
			if _, err := ParseRule(record); !errors.Is(err, ErrRuleMalformed) {
				t.Fatalf("expected ErrRuleMalformed, got %v", err)
			}
		})
	}
}

func TestComputeQuantityRounding(t *testing.T) {
	// 60 x 60 inches has a 240 inch perimeter
	cfg := PanelConfiguration{ProductKey: "mesh_panel", Width: dec("60"), Height: dec("60"), MeshType: "heavy", Quantity: 1}
	cases := []struct {
		rounding string
		want     int
	}{
		{"ceil", 7},
		{"floor", 6},
	}
	for _, tc := range cases {
		rule, err := ParseRule(stuccoRule(tc.rounding))
		if err != nil {
			t.Fatalf("ParseRule: %v", err)
		}
		got, err := computeQuantity(rule.Formula, cfg)
		if err != nil {
			t.Fatalf("computeQuantity: %v", err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.rounding, tc.want, got)
		}
	}
}

func TestComputeQuantityScopesAndMinimum(t *testing.T) {
	cfg := PanelConfiguration{ProductKey: "mesh_panel", Width: dec("60"), Height: dec("60"), Quantity: 3}
	perPanel := domain.QuantityFormula{Kind: domain.FormulaSpacing, Measure: domain.MeasurePerimeter, Every: dec("36"), Rounding: domain.RoundingCeil, PerPanel: true}
	if got, _ := computeQuantity(perPanel, cfg); got != 21 {
		t.Fatalf("expected 7 per panel x 3 = 21, got %d", got)
	}
	pooled := perPanel
	pooled.PerPanel = false
	if got, _ := computeQuantity(pooled, cfg); got != 20 {
		t.Fatalf("expected ceil(720/36) = 20, got %d", got)
	}
	if got, _ := computeQuantity(domain.QuantityFormula{Kind: domain.FormulaFixed, Count: 2}, cfg); got != 2 {
		t.Fatalf("expected fixed 2, got %d", got)
	}
	if got, _ := computeQuantity(domain.QuantityFormula{Kind: domain.FormulaPerUnit, Count: 2}, cfg); got != 6 {
		t.Fatalf("expected 2 per panel x 3 = 6, got %d", got)
	}
	floorMin := domain.QuantityFormula{Kind: domain.FormulaSpacing, Measure: domain.MeasureWidth, Every: dec("100"), Rounding: domain.RoundingFloor, PerPanel: true, Minimum: 2}
	if got, _ := computeQuantity(floorMin, cfg); got != 2 {
		t.Fatalf("expected minimum 2 to apply, got %d", got)
	}
	lengthSpacing := domain.QuantityFormula{Kind: domain.FormulaSpacing, Measure: domain.MeasureLength, Every: dec("12"), Rounding: domain.RoundingCeil, PerPanel: true}
	if _, err := computeQuantity(lengthSpacing, cfg); err == nil {
		t.Fatalf("expected error for unavailable length")
	}
}

func TestEvaluateCondition(t *testing.T) {
	cfg := PanelConfiguration{
		ProductKey:  "mesh_panel",
		Width:       dec("96"),
		Height:      dec("84"),
		MeshType:    "heavy",
		Color:       "black",
		Attachments: []string{"snaps", "velcro"},
		Quantity:    2,
	}.Normalised()
	facts := newRuleFacts(cfg, PriceBreakdown{Currency: "USD", Total: 52500})

	cases := []struct {
		name string
		raw  map[string]any
		want bool
	}{
		{"eq text", map[string]any{"field": "color", "op": "eq", "value": "BLACK"}, true},
		{"ne text", map[string]any{"field": "meshType", "op": "ne", "value": "heavy"}, false},
		{"in text", map[string]any{"field": "meshType", "op": "in", "value": []any{"light", "heavy"}}, true},
		{"has attachment", map[string]any{"field": "attachment", "op": "has", "value": "velcro"}, true},
		{"missing attachment", map[string]any{"field": "attachment", "op": "has", "value": "zipper"}, false},
		{"area gte", map[string]any{"field": "area", "op": "gte", "value": 56}, true},
		{"perimeter lt", map[string]any{"field": "perimeter", "op": "lt", "value": 360}, true},
		{"quantity in", map[string]any{"field": "quantity", "op": "in", "value": []any{1, 2}}, true},
		{"quote total major units", map[string]any{"field": "quoteTotal", "op": "gt", "value": "500"}, true},
		{"length unavailable", map[string]any{"field": "length", "op": "lte", "value": 1000}, false},
		{"not", map[string]any{"op": "not", "condition": map[string]any{"field": "color", "op": "eq", "value": "ivory"}}, true},
		{"any", map[string]any{"op": "any", "conditions": []any{
			map[string]any{"field": "width", "op": "lt", "value": 10},
			map[string]any{"field": "height", "op": "eq", "value": "84.0"},
		}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cond, err := parseCondition(tc.raw, 0)
			if err != nil {
				t.Fatalf("parseCondition: %v", err)
			}
			if got := evaluateCondition(cond, facts); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
