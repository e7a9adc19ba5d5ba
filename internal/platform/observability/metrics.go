package observability

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MosquitoCurtains/new-sub007/internal/platform/observability"

// Metrics records configurator and cart counters through the global OpenTelemetry meter provider.
// Without an installed provider the instruments are no-ops.
type Metrics struct {
	requests     metric.Int64Counter
	quotes       metric.Int64Counter
	staleItems   metric.Int64Counter
	cacheRefresh metric.Int64Counter
}

// NewMetrics registers the instruments on the given provider, or the global one when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Completed HTTP requests by route and status."))
	if err != nil {
		return nil, fmt.Errorf("observability: register request counter: %w", err)
	}
	quotes, err := meter.Int64Counter("panels.quotes",
		metric.WithDescription("Quote attempts by product and outcome; failed outcomes carry the pricing error code."))
	if err != nil {
		return nil, fmt.Errorf("observability: register quote counter: %w", err)
	}
	stale, err := meter.Int64Counter("panels.cart.stale_items",
		metric.WithDescription("Cart lines found stale during revalidation."))
	if err != nil {
		return nil, fmt.Errorf("observability: register stale counter: %w", err)
	}
	refresh, err := meter.Int64Counter("panels.cache.refreshes",
		metric.WithDescription("Catalog and rule snapshot refreshes by outcome."))
	if err != nil {
		return nil, fmt.Errorf("observability: register refresh counter: %w", err)
	}
	return &Metrics{requests: requests, quotes: quotes, staleItems: stale, cacheRefresh: refresh}, nil
}

// RecordRequest counts one completed HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, route, method string, status int) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("http.request.method", method),
		attribute.String("http.response.status_code", strconv.Itoa(status)),
	))
}

func (m *Metrics) RecordQuote(ctx context.Context, productKey string, outcome string) {
	m.quotes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("product", productKey),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordStaleItems(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.staleItems.Add(ctx, int64(count))
}

func (m *Metrics) RecordCacheRefresh(ctx context.Context, cache string, outcome string) {
	m.cacheRefresh.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("outcome", outcome),
	))
}
