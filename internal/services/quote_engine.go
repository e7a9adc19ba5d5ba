package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
)

// Quote prices a panel configuration against a catalog snapshot. It performs no I/O and returns the
// same breakdown for the same inputs.
//
// Lines are emitted as: base material, color surcharge, attachment surcharges in key order, then one
// tier-fee line per entry whose table selects a non-zero fee.
func Quote(cfg PanelConfiguration, snap CatalogSnapshot) (PriceBreakdown, error) {
	cfg = cfg.Normalised()
	if cfg.ProductKey == "" {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, "", "", "product is required")
	}
	if detail := cfg.OutOfBounds(); detail != "" {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, cfg.ProductKey, "", detail)
	}
	if cfg.MeshType == "" {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, cfg.ProductKey, "", "mesh type is required")
	}

	scale, err := domain.MinorUnitScale(snap.Currency)
	if err != nil {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, cfg.ProductKey, "", err.Error())
	}

	wanted := make([]pricedOption, 0, 2+len(cfg.Attachments))
	wanted = append(wanted, pricedOption{optionKey: domain.OptionKey(domain.OptionNamespaceMesh, cfg.MeshType), kind: domain.LineKindBase})
	if cfg.Color != "" {
		wanted = append(wanted, pricedOption{optionKey: domain.OptionKey(domain.OptionNamespaceColor, cfg.Color), kind: domain.LineKindSurcharge, skipZero: true})
	}
	for _, attachment := range cfg.Attachments {
		wanted = append(wanted, pricedOption{optionKey: domain.OptionKey(domain.OptionNamespaceAttachment, attachment), kind: domain.LineKindSurcharge})
	}

	breakdown := PriceBreakdown{Currency: snap.Currency}
	var tierLines []BreakdownLine
	for _, option := range wanted {
		entry, ok := snap.Lookup(cfg.ProductKey, option.optionKey)
		if !ok {
			return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, cfg.ProductKey, option.optionKey, "no catalog entry")
		}
		if !entry.Active {
			return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, cfg.ProductKey, option.optionKey, "catalog entry is inactive")
		}
		measure, ok := cfg.Measure(entry.Unit)
		if !ok {
			return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, cfg.ProductKey, option.optionKey,
				fmt.Sprintf("unit %s needs a positive dimension", entry.Unit))
		}

		line, err := priceLine(entry, option.kind, measure, cfg.Quantity, scale)
		if err != nil {
			return PriceBreakdown{}, err
		}
		if !(option.skipZero && line.UnitPrice == 0) {
			breakdown.Lines = append(breakdown.Lines, line)
		}

		if entry.Tiers != nil {
			fee, err := selectTierFee(*entry.Tiers, measure)
			if err != nil {
				return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorTierLookupFailure, cfg.ProductKey, option.optionKey, err.Error())
			}
			unitFee, err := domain.ToMinorUnits(fee, scale)
			if err != nil {
				return PriceBreakdown{}, overflowError(entry, err)
			}
			if unitFee > 0 {
				lineTotal, err := domain.MulMinor(unitFee, cfg.Quantity)
				if err != nil {
					return PriceBreakdown{}, overflowError(entry, err)
				}
				label := entry.Tiers.Label
				if label == "" {
					label = entry.Label + " fee"
				}
				tierLines = append(tierLines, BreakdownLine{
					Kind:       domain.LineKindTierFee,
					Label:      label,
					ProductKey: entry.ProductKey,
					OptionKey:  entry.OptionKey,
					Unit:       domain.UnitPanel,
					Measure:    measure,
					UnitPrice:  unitFee,
					Quantity:   cfg.Quantity,
					LineTotal:  lineTotal,
				})
			}
		}
	}

	breakdown.Lines = append(breakdown.Lines, tierLines...)
	return withTotal(breakdown, cfg.ProductKey)
}

// QuoteCatalogItem prices a plain catalog item as a single line. Only count-based units are allowed.
func QuoteCatalogItem(productKey, optionKey string, quantity int, snap CatalogSnapshot) (PriceBreakdown, error) {
	productKey = domain.NormaliseKey(productKey)
	optionKey = domain.NormaliseKey(optionKey)
	if quantity <= 0 || quantity > domain.MaxQuantity {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, productKey, optionKey,
			fmt.Sprintf("quantity %d must be between 1 and %d", quantity, domain.MaxQuantity))
	}
	entry, ok := snap.Lookup(productKey, optionKey)
	if !ok {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, productKey, optionKey, "no catalog entry")
	}
	if !entry.Active {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, productKey, optionKey, "catalog entry is inactive")
	}
	if !entry.Unit.Discrete() {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, productKey, optionKey,
			fmt.Sprintf("unit %s needs a configuration", entry.Unit))
	}
	scale, err := domain.MinorUnitScale(snap.Currency)
	if err != nil {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, productKey, optionKey, err.Error())
	}

	line, err := priceLine(entry, domain.LineKindItem, decimal.NewFromInt(1), quantity, scale)
	if err != nil {
		return PriceBreakdown{}, err
	}
	return withTotal(PriceBreakdown{Currency: snap.Currency, Lines: []BreakdownLine{line}}, productKey)
}

type pricedOption struct {
	optionKey string
	kind      domain.LineKind
	skipZero  bool
}

func priceLine(entry CatalogEntry, kind domain.LineKind, measure decimal.Decimal, quantity int, scale int32) (BreakdownLine, error) {
	unitPrice, err := domain.ToMinorUnits(entry.Rate.Mul(measure), scale)
	if err != nil {
		return BreakdownLine{}, overflowError(entry, err)
	}
	lineTotal, err := domain.MulMinor(unitPrice, quantity)
	if err != nil {
		return BreakdownLine{}, overflowError(entry, err)
	}
	return BreakdownLine{
		Kind:       kind,
		Label:      entry.Label,
		ProductKey: entry.ProductKey,
		OptionKey:  entry.OptionKey,
		Unit:       entry.Unit,
		Measure:    measure,
		UnitPrice:  unitPrice,
		Quantity:   quantity,
		LineTotal:  lineTotal,
	}, nil
}

func withTotal(breakdown PriceBreakdown, productKey string) (PriceBreakdown, error) {
	total, err := breakdown.CheckedSum()
	if err != nil {
		return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, productKey, "", err.Error())
	}
	breakdown.Total = total
	return breakdown, nil
}

func overflowError(entry CatalogEntry, err error) error {
	return domain.NewPricingError(domain.PricingErrorInvalidDimensions, entry.ProductKey, entry.OptionKey, err.Error())
}

// selectTierFee returns the fee of the highest breakpoint that applies to the measure.
func selectTierFee(table domain.TierTable, measure decimal.Decimal) (decimal.Decimal, error) {
	var selected *domain.TierBreakpoint
	for i := range table.Breakpoints {
		bp := &table.Breakpoints[i]
		applies := measure.GreaterThanOrEqual(bp.Threshold)
		if table.Boundary == domain.TierBoundaryLower {
			applies = measure.GreaterThan(bp.Threshold)
		}
		if applies && (selected == nil || bp.Threshold.GreaterThan(selected.Threshold)) {
			selected = bp
		}
	}
	if selected == nil {
		return decimal.Zero, fmt.Errorf("no tier applies to measure %s", measure.String())
	}
	return selected.Fee, nil
}
