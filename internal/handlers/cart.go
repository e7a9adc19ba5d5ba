package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

// CartHandlers exposes the session cart. The session middleware must run before these handlers.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/totals", h.getTotals)
	r.Get("/checkout-readiness", h.checkoutReadiness)
	r.Post("/configurations", h.addConfiguration)
	r.Post("/items", h.addCatalogItem)
	r.Patch("/items/{itemId}", h.updateQuantity)
	r.Delete("/items/{itemId}", h.removeItem)
	r.Post("/items/{itemId}/acknowledge", h.acknowledgeItem)
	r.Post("/acknowledge", h.acknowledgeAll)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type addConfigurationResponse struct {
	Item            cartItemPayload         `json:"item"`
	Recommendations []recommendationPayload `json:"recommendations"`
	RuleErrors      []ruleErrorPayload      `json:"ruleErrors,omitempty"`
	Cart            cartPayload             `json:"cart"`
}

type addCatalogItemRequest struct {
	ProductKey string `json:"productKey"`
	OptionKey  string `json:"optionKey"`
	Quantity   int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type readinessResponse struct {
	Ready    bool          `json:"ready"`
	Blockers []string      `json:"blockers"`
	Message  string        `json:"message,omitempty"`
	Totals   totalsPayload `json:"totals"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), sessionID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.ClearCart(r.Context(), sessionID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) getTotals(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	totals, err := h.carts.Totals(r.Context(), sessionID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, buildTotalsPayload(totals))
}

func (h *CartHandlers) checkoutReadiness(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	readiness, err := h.carts.CheckoutReadiness(r.Context(), sessionID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	blockers := readiness.Blockers
	if blockers == nil {
		blockers = []string{}
	}
	status := http.StatusOK
	message := ""
	if !readiness.Ready {
		status = http.StatusConflict
		if err := readiness.Err(); err != nil {
			message = strings.ReplaceAll(err.Error(), "\n", "; ")
		}
	}
	setNoStore(w)
	httpx.WriteJSON(w, status, readinessResponse{
		Ready:    readiness.Ready,
		Blockers: blockers,
		Message:  message,
		Totals:   buildTotalsPayload(readiness.Totals),
	})
}

func (h *CartHandlers) addConfiguration(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req configurationRequest
	if err := httpx.DecodeJSON(r, maxRequestBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	result, err := h.carts.AddConfiguration(r.Context(), services.AddConfigurationCommand{
		SessionID:     sessionID,
		Configuration: req.toDomain(),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	setCartResponseHeaders(w, result.Cart)
	httpx.WriteJSON(w, http.StatusCreated, addConfigurationResponse{
		Item:            buildCartItemPayload(result.LineItem),
		Recommendations: buildRecommendations(result.Recommendations, result.Cart.Currency),
		RuleErrors:      buildRuleErrors(result.RuleErrors),
		Cart:            buildCartPayload(result.Cart),
	})
}

func (h *CartHandlers) addCatalogItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req addCatalogItemRequest
	if err := httpx.DecodeJSON(r, maxRequestBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	cart, err := h.carts.AddCatalogItem(r.Context(), services.AddCatalogItemCommand{
		SessionID:  sessionID,
		ProductKey: req.ProductKey,
		OptionKey:  req.OptionKey,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusCreated, cart)
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req updateQuantityRequest
	if err := httpx.DecodeJSON(r, maxRequestBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateQuantity(r.Context(), services.UpdateQuantityCommand{
		SessionID: sessionID,
		ItemID:    itemIDParam(r),
		Quantity:  *req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), sessionID, itemIDParam(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) acknowledgeItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.AcknowledgeReprice(r.Context(), sessionID, itemIDParam(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) acknowledgeAll(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.AcknowledgeAll(r.Context(), sessionID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

// begin checks the service and resolves the browsing session.
func (h *CartHandlers) begin(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	sessionID := strings.TrimSpace(requestctx.SessionID(ctx))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "a browsing session is required", http.StatusUnauthorized))
		return "", false
	}
	return sessionID, true
}

func itemIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "itemId"))
}

func writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	setCartResponseHeaders(w, cart)
	httpx.WriteJSON(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	setNoStore(w)
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

// buildCartETag hashes the line identities, quantities, states and stored totals.
func buildCartETag(cart services.Cart) string {
	if len(cart.Items) == 0 && cart.UpdatedAt.IsZero() {
		return ""
	}
	hasher := sha256.New()
	for _, item := range cart.Items {
		hasher.Write([]byte(item.ID))
		hasher.Write([]byte{0})
		hasher.Write([]byte(strconv.Itoa(item.Quantity)))
		hasher.Write([]byte{0})
		hasher.Write([]byte(item.State))
		hasher.Write([]byte{0})
		hasher.Write([]byte(strconv.FormatInt(item.Price.Total, 10)))
		hasher.Write([]byte{'\n'})
	}
	if !cart.UpdatedAt.IsZero() {
		hasher.Write([]byte(cart.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	}
	return `W/"` + hex.EncodeToString(hasher.Sum(nil))[:32] + `"`
}
