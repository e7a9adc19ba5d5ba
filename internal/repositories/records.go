package repositories

import "time"

// CatalogRecords is the raw catalog export consumed by the catalog provider.
// Decimal values are carried as strings to avoid float drift between authoring and pricing.
type CatalogRecords struct {
	Version   string               `json:"version" yaml:"version" firestore:"version"`
	Currency  string               `json:"currency" yaml:"currency" firestore:"currency"`
	UpdatedAt time.Time            `json:"updatedAt" yaml:"updatedAt" firestore:"updatedAt"`
	Entries   []CatalogEntryRecord `json:"entries" yaml:"entries" firestore:"-"`
}

// CatalogEntryRecord is one untrusted pricing record keyed by product and option.
type CatalogEntryRecord struct {
	ProductKey string           `json:"productKey" yaml:"productKey" firestore:"productKey"`
	OptionKey  string           `json:"optionKey" yaml:"optionKey" firestore:"optionKey"`
	Label      string           `json:"label" yaml:"label" firestore:"label"`
	Rate       string           `json:"rate" yaml:"rate" firestore:"rate"`
	Unit       string           `json:"unit" yaml:"unit" firestore:"unit"`
	Active     bool             `json:"active" yaml:"active" firestore:"active"`
	Tiers      *TierTableRecord `json:"tiers,omitempty" yaml:"tiers,omitempty" firestore:"tiers,omitempty"`
}

// TierTableRecord is the raw form of a tiered-fee table. Boundary is "higher" (default) or "lower".
type TierTableRecord struct {
	Label       string                 `json:"label,omitempty" yaml:"label,omitempty" firestore:"label,omitempty"`
	Boundary    string                 `json:"boundary,omitempty" yaml:"boundary,omitempty" firestore:"boundary,omitempty"`
	Breakpoints []TierBreakpointRecord `json:"breakpoints" yaml:"breakpoints" firestore:"breakpoints"`
}

// TierBreakpointRecord maps a measure threshold to a fee in major currency units.
type TierBreakpointRecord struct {
	Threshold string `json:"threshold" yaml:"threshold" firestore:"threshold"`
	Fee       string `json:"fee" yaml:"fee" firestore:"fee"`
}

// RuleRecord is one untrusted recommendation rule. Condition and Formula are tagged maps
// interpreted by the rule provider.
type RuleRecord struct {
	ID            string         `json:"id" yaml:"id" firestore:"id"`
	Name          string         `json:"name" yaml:"name" firestore:"name"`
	Priority      int            `json:"priority" yaml:"priority" firestore:"priority"`
	Active        bool           `json:"active" yaml:"active" firestore:"active"`
	ExclusiveWith []string       `json:"exclusiveWith,omitempty" yaml:"exclusiveWith,omitempty" firestore:"exclusiveWith,omitempty"`
	ProductKey    string         `json:"productKey" yaml:"productKey" firestore:"productKey"`
	OptionKey     string         `json:"optionKey" yaml:"optionKey" firestore:"optionKey"`
	Condition     map[string]any `json:"condition" yaml:"condition" firestore:"condition"`
	Formula       map[string]any `json:"formula" yaml:"formula" firestore:"formula"`
}
