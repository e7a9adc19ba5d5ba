package domain

import "time"

// LineItemKind distinguishes configured panels from plain catalog items.
type LineItemKind string

const (
	LineItemConfigured  LineItemKind = "configured"
	LineItemCatalogItem LineItemKind = "catalog_item"
)

// LineItemState tracks a cart line through draft, priced, persisted, stale and removed.
type LineItemState string

const (
	LineStateDraft     LineItemState = "draft"
	LineStatePriced    LineItemState = "priced"
	LineStatePersisted LineItemState = "persisted"
	LineStateStale     LineItemState = "stale"
	LineStateRemoved   LineItemState = "removed"
)

// priced lines stay priced while the cart only lives in session memory
var lineTransitions = map[LineItemState][]LineItemState{
	LineStateDraft:     {LineStatePriced},
	LineStatePriced:    {LineStatePriced, LineStatePersisted, LineStateStale, LineStateRemoved},
	LineStatePersisted: {LineStatePersisted, LineStateStale, LineStateRemoved},
	LineStateStale:     {LineStateStale, LineStatePersisted, LineStatePriced, LineStateRemoved},
}

// CanTransition reports whether a line item may move from s to next.
func (s LineItemState) CanTransition(next LineItemState) bool {
	for _, allowed := range lineTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CartLineItem is one entry of a cart. Price is the stored snapshot charged to the customer
// until a re-price is acknowledged.
type CartLineItem struct {
	ID             string
	Kind           LineItemKind
	Configuration  *PanelConfiguration
	ProductKey     string
	OptionKey      string
	Label          string
	Quantity       int
	Price          PriceBreakdown
	CatalogVersion string
	PricedAt       time.Time
	AddedAt        time.Time
	State          LineItemState

	// RepricedBreakdown holds the current catalog price of a stale item.
	RepricedBreakdown *PriceBreakdown
	// PricingIssue is set when a stale item can no longer be priced at all.
	PricingIssue string
}

// Clone returns a deep copy of the line item.
func (i CartLineItem) Clone() CartLineItem {
	out := i
	if i.Configuration != nil {
		cfg := i.Configuration.WithQuantity(i.Configuration.Quantity)
		out.Configuration = &cfg
	}
	out.Price = i.Price.Clone()
	if i.RepricedBreakdown != nil {
		repriced := i.RepricedBreakdown.Clone()
		out.RepricedBreakdown = &repriced
	}
	return out
}

// Cart warning codes surfaced to the UI.
const (
	WarningCartNotPersisted = "cart_not_persisted"
	WarningPricesChanged    = "prices_changed"
	WarningRecordsSkipped   = "cart_records_skipped"
	WarningPricesUnverified = "prices_unverified"
)

// Cart is the ordered set of line items for one browsing session.
type Cart struct {
	SessionID string
	Currency  string
	Items     []CartLineItem
	Persisted bool
	Warnings  []string
	UpdatedAt time.Time
}

// AddWarning records a warning once.
func (c *Cart) AddWarning(code string) {
	if !c.HasWarning(code) {
		c.Warnings = append(c.Warnings, code)
	}
}

func (c Cart) HasWarning(code string) bool {
	for _, existing := range c.Warnings {
		if existing == code {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartLineItem, len(c.Items))
	for idx, item := range c.Items {
		out.Items[idx] = item.Clone()
	}
	out.Warnings = append([]string(nil), c.Warnings...)
	return out
}

// CartTotals is derived from the line items on demand and never stored.
type CartTotals struct {
	Currency   string
	Subtotal   int64
	ItemCount  int
	LineCount  int
	StaleCount int
}

// ComputeCartTotals derives totals from the stored line prices.
func ComputeCartTotals(currency string, items []CartLineItem) CartTotals {
	totals := CartTotals{Currency: currency, LineCount: len(items)}
	for _, item := range items {
		totals.Subtotal += item.Price.Total
		totals.ItemCount += item.Quantity
		if item.State == LineStateStale {
			totals.StaleCount++
		}
	}
	return totals
}
