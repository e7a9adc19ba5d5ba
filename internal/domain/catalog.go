package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnitType describes how the billable measure of a catalog entry is derived from a configuration.
type UnitType string

const (
	// UnitSquareFoot bills width x height in square feet.
	UnitSquareFoot UnitType = "sqft"
	// UnitLinearFootPerimeter bills the panel perimeter in linear feet.
	UnitLinearFootPerimeter UnitType = "linear_ft_perimeter"
	// UnitLinearFootWidth bills the panel width in linear feet.
	UnitLinearFootWidth UnitType = "linear_ft_width"
	// UnitLinearFootLength bills the product length in linear feet (tracks, trims).
	UnitLinearFootLength UnitType = "linear_ft_length"
	// UnitPanel bills once per panel.
	UnitPanel UnitType = "panel"
	// UnitEach bills once per discrete item.
	UnitEach UnitType = "each"
	// UnitFlat bills a flat amount per panel regardless of size.
	UnitFlat UnitType = "flat"
)

// Valid reports whether the unit type is one the quote engine understands.
func (u UnitType) Valid() bool {
	switch u {
	case UnitSquareFoot, UnitLinearFootPerimeter, UnitLinearFootWidth, UnitLinearFootLength, UnitPanel, UnitEach, UnitFlat:
		return true
	default:
		return false
	}
}

// Discrete reports whether the unit type bills a count rather than a dimension-derived measure.
func (u UnitType) Discrete() bool {
	return u == UnitPanel || u == UnitEach || u == UnitFlat
}

// TierBoundary selects which tier applies when a measure sits exactly on a breakpoint.
type TierBoundary string

const (
	// TierBoundaryHigher applies a breakpoint once the measure reaches it (measure >= threshold).
	TierBoundaryHigher TierBoundary = "higher"
	// TierBoundaryLower applies a breakpoint only once the measure exceeds it (measure > threshold).
	TierBoundaryLower TierBoundary = "lower"
)

// TierBreakpoint maps a measure threshold to a per-panel fee in major currency units.
type TierBreakpoint struct {
	Threshold decimal.Decimal
	Fee       decimal.Decimal
}

// TierTable is an ordered set of breakpoints attached to a catalog entry.
type TierTable struct {
	Label       string
	Boundary    TierBoundary
	Breakpoints []TierBreakpoint
}

// CatalogKey identifies a purchasable unit by product and option.
type CatalogKey struct {
	ProductKey string
	OptionKey  string
}

// NewCatalogKey normalises the product and option keys.
func NewCatalogKey(productKey, optionKey string) CatalogKey {
	return CatalogKey{
		ProductKey: NormaliseKey(productKey),
		OptionKey:  NormaliseKey(optionKey),
	}
}

// String renders the key as product/option.
func (k CatalogKey) String() string {
	return k.ProductKey + "/" + k.OptionKey
}

// Option key namespaces used by the quote engine when resolving configuration choices.
const (
	OptionNamespaceMesh       = "mesh"
	OptionNamespaceColor      = "color"
	OptionNamespaceAttachment = "attachment"
	OptionNamespaceItem       = "item"
)

// OptionKey joins a namespace and a value into a catalog option key.
func OptionKey(namespace, value string) string {
	return NormaliseKey(namespace) + ":" + NormaliseKey(value)
}

// NormaliseKey trims and lowercases catalog identifiers.
func NormaliseKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// CatalogEntry is a single priced record of the catalog.
type CatalogEntry struct {
	ProductKey string
	OptionKey  string
	Label      string
	// Rate is expressed in major currency units per billable unit.
	Rate   decimal.Decimal
	Unit   UnitType
	Active bool
	Tiers  *TierTable
}

// Key returns the catalog key of the entry.
func (e CatalogEntry) Key() CatalogKey {
	return NewCatalogKey(e.ProductKey, e.OptionKey)
}

// CatalogSnapshot is an immutable, versioned copy of all pricing records.
type CatalogSnapshot struct {
	Version   string
	Currency  string
	FetchedAt time.Time

	entries map[CatalogKey]CatalogEntry
	order   []CatalogKey
}

// NewCatalogSnapshot builds a snapshot from the given entries. Later duplicates are ignored.
func NewCatalogSnapshot(version, currency string, fetchedAt time.Time, entries []CatalogEntry) CatalogSnapshot {
	snap := CatalogSnapshot{
		Version:   strings.TrimSpace(version),
		Currency:  strings.ToUpper(strings.TrimSpace(currency)),
		FetchedAt: fetchedAt.UTC(),
		entries:   make(map[CatalogKey]CatalogEntry, len(entries)),
		order:     make([]CatalogKey, 0, len(entries)),
	}
	for _, entry := range entries {
		key := entry.Key()
		if _, exists := snap.entries[key]; exists {
			continue
		}
		entry.ProductKey = key.ProductKey
		entry.OptionKey = key.OptionKey
		entry.Tiers = cloneTierTable(entry.Tiers)
		snap.entries[key] = entry
		snap.order = append(snap.order, key)
	}
	sort.Slice(snap.order, func(i, j int) bool {
		if snap.order[i].ProductKey != snap.order[j].ProductKey {
			return snap.order[i].ProductKey < snap.order[j].ProductKey
		}
		return snap.order[i].OptionKey < snap.order[j].OptionKey
	})
	return snap
}

// Lookup returns the entry stored under product and option keys.
func (s CatalogSnapshot) Lookup(productKey, optionKey string) (CatalogEntry, bool) {
	if s.entries == nil {
		return CatalogEntry{}, false
	}
	entry, ok := s.entries[NewCatalogKey(productKey, optionKey)]
	if !ok {
		return CatalogEntry{}, false
	}
	entry.Tiers = cloneTierTable(entry.Tiers)
	return entry, true
}

// Entries returns a copy of every entry ordered by product then option key.
func (s CatalogSnapshot) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(s.order))
	for _, key := range s.order {
		entry := s.entries[key]
		entry.Tiers = cloneTierTable(entry.Tiers)
		out = append(out, entry)
	}
	return out
}

// Len returns the number of entries in the snapshot.
func (s CatalogSnapshot) Len() int {
	return len(s.order)
}

func cloneTierTable(table *TierTable) *TierTable {
	if table == nil {
		return nil
	}
	copyTable := *table
	copyTable.Breakpoints = append([]TierBreakpoint(nil), table.Breakpoints...)
	return &copyTable
}
