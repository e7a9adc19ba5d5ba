package firestore

import (
	"strconv"
	"strings"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

// Catalog and rule documents are hand-edited in the console, so they are read field by field
// rather than through DataTo. A wrongly typed field becomes its zero value and the record is
// rejected downstream by the provider that validates it.

func catalogEntryFromData(data map[string]any) repositories.CatalogEntryRecord {
	record := repositories.CatalogEntryRecord{
		ProductKey: textField(data, "productKey"),
		OptionKey:  textField(data, "optionKey"),
		Label:      textField(data, "label"),
		Rate:       textField(data, "rate"),
		Unit:       textField(data, "unit"),
		Active:     boolField(data, "active"),
	}
	tiers, ok := data["tiers"].(map[string]any)
	if !ok {
		return record
	}
	table := &repositories.TierTableRecord{
		Label:    textField(tiers, "label"),
		Boundary: textField(tiers, "boundary"),
	}
	if raw, ok := tiers["breakpoints"].([]any); ok {
		for _, item := range raw {
			point, ok := item.(map[string]any)
			if !ok {
				// keep the slot so the table fails validation instead of silently shrinking
				table.Breakpoints = append(table.Breakpoints, repositories.TierBreakpointRecord{})
				continue
			}
			table.Breakpoints = append(table.Breakpoints, repositories.TierBreakpointRecord{
				Threshold: textField(point, "threshold"),
				Fee:       textField(point, "fee"),
			})
		}
	}
	record.Tiers = table
	return record
}

func ruleFromData(data map[string]any) repositories.RuleRecord {
	record := repositories.RuleRecord{
		ID:         textField(data, "id"),
		Name:       textField(data, "name"),
		Priority:   intField(data, "priority"),
		Active:     boolField(data, "active"),
		ProductKey: textField(data, "productKey"),
		OptionKey:  textField(data, "optionKey"),
	}
	if raw, ok := data["exclusiveWith"].([]any); ok {
		for _, item := range raw {
			if id, ok := item.(string); ok {
				record.ExclusiveWith = append(record.ExclusiveWith, id)
			}
		}
	}
	if condition, ok := data["condition"].(map[string]any); ok {
		record.Condition = condition
	}
	if formula, ok := data["formula"].(map[string]any); ok {
		record.Formula = formula
	}
	return record
}

// textField renders numbers as decimal strings so rates authored as numbers still parse exactly
// as typed.
func textField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}
