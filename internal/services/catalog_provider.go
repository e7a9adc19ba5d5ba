package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

const defaultCatalogTTL = 5 * time.Minute

var (
	// ErrCatalogUnavailable indicates no catalog snapshot could be loaded.
	ErrCatalogUnavailable = errors.New("catalog provider: unavailable")
	// ErrCatalogEntryNotFound indicates the product/option pair has no active catalog entry.
	ErrCatalogEntryNotFound = errors.New("catalog provider: entry not found")

	errCatalogSourceRequired = errors.New("catalog provider: source is required")
)

// CatalogProviderDeps wires the record source and cache settings for the catalog provider.
type CatalogProviderDeps struct {
	Source   repositories.CatalogSource
	TTL      time.Duration
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
	Metrics  Metrics
	Sanitize func(string) string
}

type catalogProvider struct {
	source   repositories.CatalogSource
	cache    *snapshotCache[CatalogSnapshot]
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	sanitize func(string) string
}

// NewCatalogProvider constructs a caching CatalogProvider over the configured source.
func NewCatalogProvider(deps CatalogProviderDeps) (CatalogProvider, error) {
	if deps.Source == nil {
		return nil, errCatalogSourceRequired
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	sanitize := deps.Sanitize
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}

	provider := &catalogProvider{
		source:   deps.Source,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		sanitize: sanitize,
	}
	provider.cache = newSnapshotCache("catalog", ttl, provider.load, provider.now, logger, metrics)
	return provider, nil
}

func (p *catalogProvider) Snapshot(ctx context.Context) (CatalogSnapshot, error) {
	snap, err := p.cache.Get(ctx)
	if err != nil {
		return CatalogSnapshot{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return snap, nil
}

func (p *catalogProvider) Lookup(ctx context.Context, productKey, optionKey string) (CatalogEntry, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return CatalogEntry{}, err
	}
	entry, ok := snap.Lookup(productKey, optionKey)
	if !ok || !entry.Active {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrCatalogEntryNotFound, domain.NewCatalogKey(productKey, optionKey))
	}
	return entry, nil
}

func (p *catalogProvider) Refresh(ctx context.Context) (CatalogSnapshot, error) {
	snap, err := p.cache.Refresh(ctx)
	if err != nil {
		return CatalogSnapshot{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return snap, nil
}

func (p *catalogProvider) Invalidate() {
	p.cache.Invalidate()
}

func (p *catalogProvider) load(ctx context.Context) (CatalogSnapshot, error) {
	ctx, span := otel.Tracer("github.com/MosquitoCurtains/new-sub007/internal/services").Start(ctx, "catalog.load")
	defer span.End()

	records, err := p.source.FetchCatalog(ctx)
	if err != nil {
		span.RecordError(err)
		return CatalogSnapshot{}, err
	}

	entries, dropped := BuildCatalogEntries(records.Entries, p.sanitize)
	for _, drop := range dropped {
		p.logger(ctx, "catalog.record_dropped", map[string]any{
			"productKey": drop.ProductKey,
			"optionKey":  drop.OptionKey,
			"reason":     drop.Reason,
		})
	}

	currency := strings.TrimSpace(records.Currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if _, err := domain.MinorUnitScale(currency); err != nil {
		span.RecordError(err)
		return CatalogSnapshot{}, err
	}

	snap := domain.NewCatalogSnapshot(records.Version, currency, p.now(), entries)
	span.SetAttributes(
		attribute.String("catalog.version", snap.Version),
		attribute.Int("catalog.entries", snap.Len()),
		attribute.Int("catalog.dropped", len(dropped)),
	)
	return snap, nil
}

// DroppedRecord describes a catalog record rejected during validation.
type DroppedRecord struct {
	ProductKey string
	OptionKey  string
	Reason     string
}

// BuildCatalogEntries validates raw catalog records. Invalid and duplicate records are returned as
// dropped and never fail the whole load.
func BuildCatalogEntries(records []repositories.CatalogEntryRecord, sanitize func(string) string) ([]CatalogEntry, []DroppedRecord) {
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	entries := make([]CatalogEntry, 0, len(records))
	var dropped []DroppedRecord
	seen := make(map[domain.CatalogKey]struct{}, len(records))

	for _, record := range records {
		key := domain.NewCatalogKey(record.ProductKey, record.OptionKey)
		reject := func(reason string) {
			dropped = append(dropped, DroppedRecord{ProductKey: key.ProductKey, OptionKey: key.OptionKey, Reason: reason})
		}
		if key.ProductKey == "" || key.OptionKey == "" {
			reject("missing product or option key")
			continue
		}
		if _, dup := seen[key]; dup {
			reject("duplicate key")
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record.Rate))
		if err != nil || rate.IsNegative() {
			reject(fmt.Sprintf("malformed rate %q", record.Rate))
			continue
		}
		unit := domain.UnitType(strings.TrimSpace(record.Unit))
		if !unit.Valid() {
			reject(fmt.Sprintf("unknown unit type %q", record.Unit))
			continue
		}
		tiers, err := buildTierTable(record.Tiers)
		if err != nil {
			reject(err.Error())
			continue
		}
		label := sanitize(record.Label)
		if label == "" {
			label = key.String()
		}
		seen[key] = struct{}{}
		entries = append(entries, CatalogEntry{
			ProductKey: key.ProductKey,
			OptionKey:  key.OptionKey,
			Label:      label,
			Rate:       rate,
			Unit:       unit,
			Active:     record.Active,
			Tiers:      tiers,
		})
	}
	return entries, dropped
}

// tier fees are authored in major units and converted at quote time alongside the rate
func buildTierTable(record *repositories.TierTableRecord) (*domain.TierTable, error) {
	if record == nil {
		return nil, nil
	}
	if len(record.Breakpoints) == 0 {
		return nil, errors.New("tier table has no breakpoints")
	}
	boundary := domain.TierBoundary(strings.ToLower(strings.TrimSpace(record.Boundary)))
	switch boundary {
	case "":
		boundary = domain.TierBoundaryHigher
	case domain.TierBoundaryHigher, domain.TierBoundaryLower:
	default:
		return nil, fmt.Errorf("unknown tier boundary %q", record.Boundary)
	}

	table := &domain.TierTable{
		Label:       strings.TrimSpace(record.Label),
		Boundary:    boundary,
		Breakpoints: make([]domain.TierBreakpoint, 0, len(record.Breakpoints)),
	}
	for _, bp := range record.Breakpoints {
		threshold, err := decimal.NewFromString(strings.TrimSpace(bp.Threshold))
		if err != nil || threshold.IsNegative() {
			return nil, fmt.Errorf("malformed tier threshold %q", bp.Threshold)
		}
		fee, err := decimal.NewFromString(strings.TrimSpace(bp.Fee))
		if err != nil || fee.IsNegative() {
			return nil, fmt.Errorf("malformed tier fee %q", bp.Fee)
		}
		table.Breakpoints = append(table.Breakpoints, domain.TierBreakpoint{Threshold: threshold, Fee: fee})
	}
	sort.SliceStable(table.Breakpoints, func(i, j int) bool {
		return table.Breakpoints[i].Threshold.LessThan(table.Breakpoints[j].Threshold)
	})
	for i := 1; i < len(table.Breakpoints); i++ {
		if table.Breakpoints[i].Threshold.Equal(table.Breakpoints[i-1].Threshold) {
			return nil, fmt.Errorf("duplicate tier threshold %s", table.Breakpoints[i].Threshold)
		}
	}
	return table, nil
}
