package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

type stubCartService struct {
	cart      services.Cart
	added     services.AddConfigurationResult
	readiness services.CheckoutReadiness
	err       error

	sessions      []string
	addConfigCmd  services.AddConfigurationCommand
	addItemCmd    services.AddCatalogItemCommand
	updateCmd     services.UpdateQuantityCommand
	removedItemID string
	ackedItemID   string
	ackedAll      bool
	cleared       bool
}

func (s *stubCartService) GetCart(_ context.Context, sessionID string) (services.Cart, error) {
	s.sessions = append(s.sessions, sessionID)
	return s.cart, s.err
}

func (s *stubCartService) AddConfiguration(_ context.Context, cmd services.AddConfigurationCommand) (services.AddConfigurationResult, error) {
	s.addConfigCmd = cmd
	return s.added, s.err
}

func (s *stubCartService) AddCatalogItem(_ context.Context, cmd services.AddCatalogItemCommand) (services.Cart, error) {
	s.addItemCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) UpdateQuantity(_ context.Context, cmd services.UpdateQuantityCommand) (services.Cart, error) {
	s.updateCmd = cmd
	return s.cart, s.err
}

func (s *stubCartService) RemoveItem(_ context.Context, _ string, itemID string) (services.Cart, error) {
	s.removedItemID = itemID
	return s.cart, s.err
}

func (s *stubCartService) AcknowledgeReprice(_ context.Context, _ string, itemID string) (services.Cart, error) {
	s.ackedItemID = itemID
	return s.cart, s.err
}

func (s *stubCartService) AcknowledgeAll(context.Context, string) (services.Cart, error) {
	s.ackedAll = true
	return s.cart, s.err
}

func (s *stubCartService) ClearCart(context.Context, string) (services.Cart, error) {
	s.cleared = true
	return services.Cart{Currency: "USD", Persisted: true}, s.err
}

func (s *stubCartService) Totals(context.Context, string) (services.CartTotals, error) {
	return domain.ComputeCartTotals(s.cart.Currency, s.cart.Items), s.err
}

func (s *stubCartService) CheckoutReadiness(context.Context, string) (services.CheckoutReadiness, error) {
	return s.readiness, s.err
}

var _ services.CartService = (*stubCartService)(nil)

var cartTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func sampleCart() services.Cart {
	cfg := domain.PanelConfiguration{ProductKey: "mesh_panel", Width: decimal.NewFromInt(48), Height: decimal.NewFromInt(72), MeshType: "heavy", Quantity: 2}
	repriced := sampleBreakdown()
	repriced.Total = 12400
	return services.Cart{
		SessionID: "sess-1",
		Currency:  "USD",
		Persisted: true,
		UpdatedAt: cartTime,
		Items: []domain.CartLineItem{
			{ID: "line-1", Kind: domain.LineItemConfigured, Configuration: &cfg, ProductKey: "mesh_panel", Label: "Mesh panel 48 x 72", Quantity: 2, Price: sampleBreakdown(), CatalogVersion: "v7", State: domain.LineStatePersisted, PricedAt: cartTime, AddedAt: cartTime},
			{ID: "line-2", Kind: domain.LineItemCatalogItem, ProductKey: "hardware", OptionKey: "item:snap", Label: "Snap", Quantity: 10, Price: domain.PriceBreakdown{Currency: "USD", Total: 350}, State: domain.LineStateStale, RepricedBreakdown: &repriced},
		},
	}
}

func cartRouter(svc services.CartService, sessionID string) http.Handler {
	r := chi.NewRouter()
	if sessionID != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(requestctx.WithSessionID(req.Context(), sessionID)))
			})
		})
	}
	r.Route("/cart", NewCartHandlers(svc).Routes)
	return r
}

func serveCart(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCartGet(t *testing.T) {
	svc := &stubCartService{cart: sampleCart()}
	rr := serveCart(cartRouter(svc, "sess-1"), http.MethodGet, "/cart", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.sessions) != 1 || svc.sessions[0] != "sess-1" {
		t.Fatalf("expected session to be forwarded, got %v", svc.sessions)
	}
	if rr.Header().Get("Cache-Control") == "" || rr.Header().Get("ETag") == "" {
		t.Fatalf("expected cache headers, got %v", rr.Header())
	}

	var resp cartResponse
	decodeBody(t, rr, &resp)
	if len(resp.Cart.Items) != 2 || resp.Cart.Totals.Subtotal != 12150 || resp.Cart.Totals.StaleCount != 1 {
		t.Fatalf("unexpected cart %+v", resp.Cart)
	}
	stale := resp.Cart.Items[1]
	if stale.State != "stale" || stale.RepricedPrice == nil || stale.RepricedPrice.Total != 12400 {
		t.Fatalf("expected stale item with repriced breakdown, got %+v", stale)
	}
	if cfg := resp.Cart.Items[0].Configuration; cfg == nil || cfg.Width != "48" {
		t.Fatalf("expected configuration payload, got %+v", cfg)
	}
	if resp.Cart.Warnings == nil {
		t.Fatalf("expected warnings to encode as an empty list")
	}
}

func TestCartRequiresSession(t *testing.T) {
	svc := &stubCartService{}
	rr := serveCart(cartRouter(svc, ""), http.MethodGet, "/cart", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(svc.sessions) != 0 {
		t.Fatalf("service should not be called without a session")
	}
}

func TestCartAddConfiguration(t *testing.T) {
	cart := sampleCart()
	svc := &stubCartService{added: services.AddConfigurationResult{
		LineItem:        cart.Items[0],
		Recommendations: []domain.RecommendedItem{{RuleID: "snaps", ProductKey: "hardware", OptionKey: "item:snap", Quantity: 12, UnitPrice: 35, LineTotal: 420}},
		Cart:            cart,
	}}

	rr := serveCart(cartRouter(svc, "sess-1"), http.MethodPost, "/cart/configurations", `{"productKey":"mesh_panel","width":48,"height":72,"meshType":"heavy","quantity":2}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.addConfigCmd.SessionID != "sess-1" || svc.addConfigCmd.Configuration.MeshType != "heavy" {
		t.Fatalf("unexpected command %+v", svc.addConfigCmd)
	}
	var resp addConfigurationResponse
	decodeBody(t, rr, &resp)
	if resp.Item.ID != "line-1" || len(resp.Recommendations) != 1 || len(resp.Cart.Items) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCartAddCatalogItem(t *testing.T) {
	svc := &stubCartService{cart: sampleCart()}
	rr := serveCart(cartRouter(svc, "sess-1"), http.MethodPost, "/cart/items", `{"productKey":"hardware","optionKey":"item:snap","quantity":12}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.addItemCmd.ProductKey != "hardware" || svc.addItemCmd.OptionKey != "item:snap" || svc.addItemCmd.Quantity != 12 {
		t.Fatalf("unexpected command %+v", svc.addItemCmd)
	}
}

func TestCartUpdateQuantity(t *testing.T) {
	svc := &stubCartService{cart: sampleCart()}
	handler := cartRouter(svc, "sess-1")

	rr := serveCart(handler, http.MethodPatch, "/cart/items/line-1", `{"quantity":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.updateCmd.ItemID != "line-1" || svc.updateCmd.Quantity != 0 {
		t.Fatalf("expected explicit zero quantity to be forwarded, got %+v", svc.updateCmd)
	}

	rr = serveCart(handler, http.MethodPatch, "/cart/items/line-1", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when quantity is missing, got %d", rr.Code)
	}
}

func TestCartItemActions(t *testing.T) {
	svc := &stubCartService{cart: sampleCart()}
	handler := cartRouter(svc, "sess-1")

	if rr := serveCart(handler, http.MethodDelete, "/cart/items/line-2", ""); rr.Code != http.StatusOK || svc.removedItemID != "line-2" {
		t.Fatalf("remove: got %d for %q", rr.Code, svc.removedItemID)
	}
	if rr := serveCart(handler, http.MethodPost, "/cart/items/line-2/acknowledge", ""); rr.Code != http.StatusOK || svc.ackedItemID != "line-2" {
		t.Fatalf("acknowledge: got %d for %q", rr.Code, svc.ackedItemID)
	}
	if rr := serveCart(handler, http.MethodPost, "/cart/acknowledge", ""); rr.Code != http.StatusOK || !svc.ackedAll {
		t.Fatalf("acknowledge all: got %d", rr.Code)
	}
	rr := serveCart(handler, http.MethodDelete, "/cart", "")
	if rr.Code != http.StatusOK || !svc.cleared {
		t.Fatalf("clear: got %d", rr.Code)
	}
	var resp cartResponse
	decodeBody(t, rr, &resp)
	if len(resp.Cart.Items) != 0 || resp.Cart.Totals.Subtotal != 0 {
		t.Fatalf("expected empty cart after clear, got %+v", resp.Cart)
	}
}

func TestCartTotals(t *testing.T) {
	svc := &stubCartService{cart: sampleCart()}
	rr := serveCart(cartRouter(svc, "sess-1"), http.MethodGet, "/cart/totals", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var totals totalsPayload
	decodeBody(t, rr, &totals)
	if totals.Subtotal != 12150 || totals.ItemCount != 12 || totals.LineCount != 2 || totals.Display != "USD 121.50" {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestCartCheckoutReadiness(t *testing.T) {
	blocked := &stubCartService{readiness: services.CheckoutReadiness{
		Ready:    false,
		Blockers: []string{services.BlockerStaleItems, services.BlockerPricesUnverified},
		Totals:   domain.CartTotals{Currency: "USD", Subtotal: 100, StaleCount: 1},
	}}
	rr := serveCart(cartRouter(blocked, "sess-1"), http.MethodGet, "/cart/checkout-readiness", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var resp readinessResponse
	decodeBody(t, rr, &resp)
	if resp.Ready || len(resp.Blockers) != 2 || resp.Blockers[0] != "stale_items" || resp.Blockers[1] != "prices_unverified" {
		t.Fatalf("unexpected readiness %+v", resp)
	}
	want := services.ErrCartHasStaleItems.Error() + "; " + services.ErrCatalogUnavailable.Error()
	if resp.Message != want {
		t.Fatalf("expected message %q, got %q", want, resp.Message)
	}

	ready := &stubCartService{readiness: services.CheckoutReadiness{Ready: true, Totals: domain.CartTotals{Currency: "USD", Subtotal: 100}}}
	rr = serveCart(cartRouter(ready, "sess-1"), http.MethodGet, "/cart/checkout-readiness", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp = readinessResponse{}
	decodeBody(t, rr, &resp)
	if !resp.Ready || resp.Blockers == nil || resp.Message != "" {
		t.Fatalf("expected ready with empty blockers, got %+v", resp)
	}
}

func TestCartErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", services.ErrCartItemNotFound, http.StatusNotFound, "cart_item_not_found"},
		{"unpriceable", services.ErrCartItemUnpriceable, http.StatusConflict, "item_unpriceable"},
		{"invalid", services.ErrCartInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"catalog entry", services.ErrCatalogEntryNotFound, http.StatusNotFound, "catalog_entry_not_found"},
		{"pricing", domain.NewPricingError(domain.PricingErrorInvalidDimensions, "mesh_panel", "", "width"), http.StatusUnprocessableEntity, "unable_to_price"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "request_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCartService{err: tc.err}
			rr := serveCart(cartRouter(svc, "sess-1"), http.MethodPost, "/cart/items/line-9/acknowledge", "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var payload map[string]any
			decodeBody(t, rr, &payload)
			if payload["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, payload["error"])
			}
		})
	}
}

func TestBuildCartETagChangesWithQuantity(t *testing.T) {
	cart := sampleCart()
	before := buildCartETag(cart)
	cart.Items[0].Quantity = 3
	if after := buildCartETag(cart); after == before {
		t.Fatalf("expected etag to change when a quantity changes")
	}
	if buildCartETag(services.Cart{}) != "" {
		t.Fatalf("expected no etag for an empty, never-saved cart")
	}
}
