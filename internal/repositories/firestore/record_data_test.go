package firestore

import "testing"

func TestCatalogEntryFromDataAcceptsNumericRates(t *testing.T) {
	record := catalogEntryFromData(map[string]any{
		"productKey": " mesh ",
		"optionKey":  "heavy",
		"label":      "Heavy mesh",
		"rate":       1.75,
		"unit":       "sqft",
		"active":     true,
		"tiers": map[string]any{
			"boundary": "lower",
			"breakpoints": []any{
				map[string]any{"threshold": int64(96), "fee": "15.00"},
				"garbage",
			},
		},
	})

	if record.ProductKey != "mesh" || record.Rate != "1.75" || !record.Active {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Tiers == nil || record.Tiers.Boundary != "lower" {
		t.Fatalf("expected tier table, got %+v", record.Tiers)
	}
	if len(record.Tiers.Breakpoints) != 2 {
		t.Fatalf("expected malformed breakpoint to keep its slot, got %d", len(record.Tiers.Breakpoints))
	}
	if got := record.Tiers.Breakpoints[0]; got.Threshold != "96" || got.Fee != "15.00" {
		t.Fatalf("unexpected breakpoint %+v", got)
	}
}

func TestCatalogEntryFromDataIgnoresWrongTypes(t *testing.T) {
	record := catalogEntryFromData(map[string]any{
		"productKey": []any{"mesh"},
		"active":     "yes",
		"tiers":      "none",
	})
	if record.ProductKey != "" || record.Active || record.Tiers != nil {
		t.Fatalf("expected zero values for wrong types, got %+v", record)
	}
}

func TestRuleFromData(t *testing.T) {
	record := ruleFromData(map[string]any{
		"id":            "stucco-strips",
		"name":          "Stucco strips",
		"priority":      int64(10),
		"active":        true,
		"exclusiveWith": []any{"velcro-strips", 7},
		"productKey":    "stucco_strip",
		"condition":     map[string]any{"field": "attachment", "op": "has", "value": "stucco"},
		"formula":       map[string]any{"kind": "spacing", "measure": "width", "every": int64(36)},
	})

	if record.ID != "stucco-strips" || record.Priority != 10 || !record.Active {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(record.ExclusiveWith) != 1 || record.ExclusiveWith[0] != "velcro-strips" {
		t.Fatalf("unexpected exclusivity %v", record.ExclusiveWith)
	}
	if record.Condition["op"] != "has" || record.Formula["kind"] != "spacing" {
		t.Fatalf("expected condition and formula maps to pass through")
	}
}
