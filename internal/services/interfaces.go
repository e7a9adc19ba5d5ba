package services

import (
	"context"
	"errors"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CatalogEntry       = domain.CatalogEntry
	CatalogSnapshot    = domain.CatalogSnapshot
	PanelConfiguration = domain.PanelConfiguration
	PriceBreakdown     = domain.PriceBreakdown
	BreakdownLine      = domain.BreakdownLine
	PricingError       = domain.PricingError
	RecommendationRule = domain.RecommendationRule
	RecommendedItem    = domain.RecommendedItem
	RuleError          = domain.RuleError
	Cart               = domain.Cart
	CartLineItem       = domain.CartLineItem
	CartTotals         = domain.CartTotals
	HealthReport       = domain.HealthReport
)

// CatalogProvider serves cached catalog snapshots and point lookups.
type CatalogProvider interface {
	Snapshot(ctx context.Context) (CatalogSnapshot, error)
	Lookup(ctx context.Context, productKey, optionKey string) (CatalogEntry, error)
	Refresh(ctx context.Context) (CatalogSnapshot, error)
	Invalidate()
}

// RuleProvider serves the cached set of active recommendation rules.
type RuleProvider interface {
	ActiveRules(ctx context.Context) ([]RecommendationRule, error)
	Refresh(ctx context.Context) ([]RecommendationRule, error)
	Invalidate()
}

// ConfiguratorService backs the live configurator: option listing, quotes and recommendations.
type ConfiguratorService interface {
	ListCatalog(ctx context.Context) (CatalogListing, error)
	Quote(ctx context.Context, cfg PanelConfiguration) (QuoteResult, error)
	Recommend(ctx context.Context, cfg PanelConfiguration) (RecommendationResult, error)
}

// CartService orchestrates session carts: adding priced lines, quantity changes and re-price acknowledgement.
type CartService interface {
	GetCart(ctx context.Context, sessionID string) (Cart, error)
	AddConfiguration(ctx context.Context, cmd AddConfigurationCommand) (AddConfigurationResult, error)
	AddCatalogItem(ctx context.Context, cmd AddCatalogItemCommand) (Cart, error)
	UpdateQuantity(ctx context.Context, cmd UpdateQuantityCommand) (Cart, error)
	RemoveItem(ctx context.Context, sessionID, itemID string) (Cart, error)
	AcknowledgeReprice(ctx context.Context, sessionID, itemID string) (Cart, error)
	AcknowledgeAll(ctx context.Context, sessionID string) (Cart, error)
	ClearCart(ctx context.Context, sessionID string) (Cart, error)
	Totals(ctx context.Context, sessionID string) (CartTotals, error)
	CheckoutReadiness(ctx context.Context, sessionID string) (CheckoutReadiness, error)
}

// SystemService reports dependency health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CacheInvalidator drops cached catalog and rule snapshots on this instance.
type CacheInvalidator interface {
	InvalidateCaches(ctx context.Context, reason string) error
}

// InvalidationPublisher broadcasts a cache invalidation to every instance.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, reason string) (string, error)
}

// Metrics records engine counters. Implementations must be safe for concurrent use.
type Metrics interface {
	RecordQuote(ctx context.Context, productKey string, outcome string)
	RecordStaleItems(ctx context.Context, count int)
	RecordCacheRefresh(ctx context.Context, cache string, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordQuote(context.Context, string, string)        {}
func (noopMetrics) RecordStaleItems(context.Context, int)              {}
func (noopMetrics) RecordCacheRefresh(context.Context, string, string) {}

func noopLogger(context.Context, string, map[string]any) {}

// pricingErrorCode extracts the pricing error code, if any, for logging and metrics.
func pricingErrorCode(err error) string {
	var pricingErr *domain.PricingError
	if errors.As(err, &pricingErr) {
		return string(pricingErr.Code)
	}
	return "error"
}
