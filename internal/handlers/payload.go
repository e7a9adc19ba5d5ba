package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

const maxRequestBodySize = 16 * 1024

type configurationRequest struct {
	ProductKey  string          `json:"productKey"`
	Width       decimal.Decimal `json:"width"`
	Height      decimal.Decimal `json:"height"`
	Length      decimal.Decimal `json:"length"`
	MeshType    string          `json:"meshType"`
	Color       string          `json:"color"`
	Attachments []string        `json:"attachments"`
	Quantity    int             `json:"quantity"`
}

func (r configurationRequest) toDomain() domain.PanelConfiguration {
	return domain.PanelConfiguration{
		ProductKey:  r.ProductKey,
		Width:       r.Width,
		Height:      r.Height,
		Length:      r.Length,
		MeshType:    r.MeshType,
		Color:       r.Color,
		Attachments: append([]string(nil), r.Attachments...),
		Quantity:    r.Quantity,
	}
}

type configurationPayload struct {
	ProductKey  string   `json:"productKey"`
	Width       string   `json:"width,omitempty"`
	Height      string   `json:"height,omitempty"`
	Length      string   `json:"length,omitempty"`
	MeshType    string   `json:"meshType,omitempty"`
	Color       string   `json:"color,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	Quantity    int      `json:"quantity"`
}

func buildConfigurationPayload(cfg *domain.PanelConfiguration) *configurationPayload {
	if cfg == nil {
		return nil
	}
	return &configurationPayload{
		ProductKey:  cfg.ProductKey,
		Width:       decimalString(cfg.Width),
		Height:      decimalString(cfg.Height),
		Length:      decimalString(cfg.Length),
		MeshType:    cfg.MeshType,
		Color:       cfg.Color,
		Attachments: cfg.Attachments,
		Quantity:    cfg.Quantity,
	}
}

type breakdownLinePayload struct {
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	ProductKey  string `json:"productKey"`
	OptionKey   string `json:"optionKey,omitempty"`
	Unit        string `json:"unit"`
	Measure     string `json:"measure"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"lineTotal"`
	DisplayLine string `json:"display"`
}

type breakdownPayload struct {
	Currency string                 `json:"currency"`
	Lines    []breakdownLinePayload `json:"lines"`
	Total    int64                  `json:"total"`
	Display  string                 `json:"display"`
}

func buildBreakdownPayload(b domain.PriceBreakdown) breakdownPayload {
	lines := make([]breakdownLinePayload, 0, len(b.Lines))
	for _, line := range b.Lines {
		lines = append(lines, breakdownLinePayload{
			Kind:        string(line.Kind),
			Label:       line.Label,
			ProductKey:  line.ProductKey,
			OptionKey:   line.OptionKey,
			Unit:        string(line.Unit),
			Measure:     line.Measure.String(),
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   line.LineTotal,
			DisplayLine: domain.FormatMinor(line.LineTotal, b.Currency),
		})
	}
	return breakdownPayload{
		Currency: b.Currency,
		Lines:    lines,
		Total:    b.Total,
		Display:  domain.FormatMinor(b.Total, b.Currency),
	}
}

type recommendationPayload struct {
	RuleID     string `json:"ruleId"`
	ProductKey string `json:"productKey"`
	OptionKey  string `json:"optionKey"`
	Label      string `json:"label"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	LineTotal  int64  `json:"lineTotal"`
	Display    string `json:"display"`
}

type ruleErrorPayload struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}

func buildRecommendations(items []domain.RecommendedItem, currency string) []recommendationPayload {
	out := make([]recommendationPayload, 0, len(items))
	for _, item := range items {
		out = append(out, recommendationPayload{
			RuleID:     item.RuleID,
			ProductKey: item.ProductKey,
			OptionKey:  item.OptionKey,
			Label:      item.Label,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
			Display:    domain.FormatMinor(item.LineTotal, currency),
		})
	}
	return out
}

func buildRuleErrors(errs []domain.RuleError) []ruleErrorPayload {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ruleErrorPayload, 0, len(errs))
	for _, e := range errs {
		out = append(out, ruleErrorPayload{RuleID: e.RuleID, Reason: e.Reason})
	}
	return out
}

type cartItemPayload struct {
	ID             string                `json:"id"`
	Kind           string                `json:"kind"`
	ProductKey     string                `json:"productKey"`
	OptionKey      string                `json:"optionKey,omitempty"`
	Label          string                `json:"label"`
	Quantity       int                   `json:"quantity"`
	State          string                `json:"state"`
	Configuration  *configurationPayload `json:"configuration,omitempty"`
	Price          breakdownPayload      `json:"price"`
	RepricedPrice  *breakdownPayload     `json:"repricedPrice,omitempty"`
	PricingIssue   string                `json:"pricingIssue,omitempty"`
	CatalogVersion string                `json:"catalogVersion"`
	PricedAt       string                `json:"pricedAt"`
	AddedAt        string                `json:"addedAt"`
}

type totalsPayload struct {
	Currency   string `json:"currency"`
	Subtotal   int64  `json:"subtotal"`
	Display    string `json:"display"`
	ItemCount  int    `json:"itemCount"`
	LineCount  int    `json:"lineCount"`
	StaleCount int    `json:"staleCount"`
}

type cartPayload struct {
	Currency  string            `json:"currency"`
	Items     []cartItemPayload `json:"items"`
	Totals    totalsPayload     `json:"totals"`
	Persisted bool              `json:"persisted"`
	Warnings  []string          `json:"warnings"`
	UpdatedAt string            `json:"updatedAt,omitempty"`
}

func buildTotalsPayload(t domain.CartTotals) totalsPayload {
	return totalsPayload{
		Currency:   t.Currency,
		Subtotal:   t.Subtotal,
		Display:    domain.FormatMinor(t.Subtotal, t.Currency),
		ItemCount:  t.ItemCount,
		LineCount:  t.LineCount,
		StaleCount: t.StaleCount,
	}
}

func buildCartItemPayload(item domain.CartLineItem) cartItemPayload {
	payload := cartItemPayload{
		ID:             item.ID,
		Kind:           string(item.Kind),
		ProductKey:     item.ProductKey,
		OptionKey:      item.OptionKey,
		Label:          item.Label,
		Quantity:       item.Quantity,
		State:          string(item.State),
		Configuration:  buildConfigurationPayload(item.Configuration),
		Price:          buildBreakdownPayload(item.Price),
		PricingIssue:   item.PricingIssue,
		CatalogVersion: item.CatalogVersion,
		PricedAt:       formatTime(item.PricedAt),
		AddedAt:        formatTime(item.AddedAt),
	}
	if item.RepricedBreakdown != nil {
		repriced := buildBreakdownPayload(*item.RepricedBreakdown)
		payload.RepricedPrice = &repriced
	}
	return payload
}

func buildCartPayload(cart domain.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, buildCartItemPayload(item))
	}
	warnings := cart.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return cartPayload{
		Currency:  cart.Currency,
		Items:     items,
		Totals:    buildTotalsPayload(domain.ComputeCartTotals(cart.Currency, cart.Items)),
		Persisted: cart.Persisted,
		Warnings:  warnings,
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
}

func decimalString(value decimal.Decimal) string {
	if value.IsZero() {
		return ""
	}
	return value.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// writeServiceError maps service and domain errors onto the error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var pricingErr *domain.PricingError
	switch {
	case errors.As(err, &pricingErr):
		httpx.WriteError(ctx, w, httpx.NewError("unable_to_price", pricingErr.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{
				"reason":     string(pricingErr.Code),
				"productKey": pricingErr.ProductKey,
				"optionKey":  pricingErr.OptionKey,
			}))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemUnpriceable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unpriceable", "item can no longer be priced and must be removed", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogEntryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_entry_not_found", "catalog entry not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request did not complete in time", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
