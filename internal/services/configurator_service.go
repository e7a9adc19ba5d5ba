package services

import (
	"context"
	"errors"
	"time"
)

var errConfiguratorCatalogRequired = errors.New("configurator service: catalog provider is required")

// CatalogListing is the set of active entries offered to option pickers.
type CatalogListing struct {
	Version   string
	Currency  string
	FetchedAt time.Time
	Entries   []CatalogEntry
}

// QuoteResult is a live quote for the configurator.
type QuoteResult struct {
	CatalogVersion string
	Breakdown      PriceBreakdown
}

// RecommendationResult is a quote plus the accessories suggested for it.
type RecommendationResult struct {
	CatalogVersion  string
	Breakdown       PriceBreakdown
	Recommendations []RecommendedItem
	RuleErrors      []RuleError
}

// ConfiguratorServiceDeps wires providers for the configurator endpoints.
type ConfiguratorServiceDeps struct {
	Catalog CatalogProvider
	Rules   RuleProvider
	Logger  func(context.Context, string, map[string]any)
	Metrics Metrics
}

type configuratorService struct {
	catalog CatalogProvider
	rules   RuleProvider
	logger  func(context.Context, string, map[string]any)
	metrics Metrics
}

// NewConfiguratorService constructs the read-only configurator service.
func NewConfiguratorService(deps ConfiguratorServiceDeps) (ConfiguratorService, error) {
	if deps.Catalog == nil {
		return nil, errConfiguratorCatalogRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &configuratorService{catalog: deps.Catalog, rules: deps.Rules, logger: logger, metrics: metrics}, nil
}

func (s *configuratorService) ListCatalog(ctx context.Context) (CatalogListing, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return CatalogListing{}, err
	}
	listing := CatalogListing{Version: snap.Version, Currency: snap.Currency, FetchedAt: snap.FetchedAt}
	for _, entry := range snap.Entries() {
		if entry.Active {
			listing.Entries = append(listing.Entries, entry)
		}
	}
	return listing, nil
}

func (s *configuratorService) Quote(ctx context.Context, cfg PanelConfiguration) (QuoteResult, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return QuoteResult{}, err
	}
	breakdown, err := Quote(cfg, snap)
	if err != nil {
		s.metrics.RecordQuote(ctx, cfg.Normalised().ProductKey, pricingErrorCode(err))
		return QuoteResult{}, err
	}
	s.metrics.RecordQuote(ctx, cfg.Normalised().ProductKey, "ok")
	return QuoteResult{CatalogVersion: snap.Version, Breakdown: breakdown}, nil
}

func (s *configuratorService) Recommend(ctx context.Context, cfg PanelConfiguration) (RecommendationResult, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return RecommendationResult{}, err
	}
	breakdown, err := Quote(cfg, snap)
	if err != nil {
		s.metrics.RecordQuote(ctx, cfg.Normalised().ProductKey, pricingErrorCode(err))
		return RecommendationResult{}, err
	}
	s.metrics.RecordQuote(ctx, cfg.Normalised().ProductKey, "ok")

	result := RecommendationResult{CatalogVersion: snap.Version, Breakdown: breakdown}
	if s.rules == nil {
		return result, nil
	}
	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		s.logger(ctx, "configurator.rules_unavailable", map[string]any{"error": err.Error()})
		return result, nil
	}
	result.Recommendations, result.RuleErrors = Recommend(cfg, breakdown, rules, snap)
	for _, ruleErr := range result.RuleErrors {
		s.logger(ctx, "recommendation.rule_failed", map[string]any{
			"ruleId": ruleErr.RuleID,
			"reason": ruleErr.Reason,
		})
	}
	return result, nil
}
