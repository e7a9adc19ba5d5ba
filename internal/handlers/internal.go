package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/auth"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

const maxReasonLength = 200

// InternalHandlers serves signed operator endpoints under /internal.
type InternalHandlers struct {
	publisher   services.InvalidationPublisher
	invalidator services.CacheInvalidator
	logger      func(context.Context, string, map[string]any)
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithInvalidationPublisher broadcasts invalidations to every instance.
func WithInvalidationPublisher(publisher services.InvalidationPublisher) InternalOption {
	return func(h *InternalHandlers) {
		h.publisher = publisher
	}
}

// WithLocalInvalidator invalidates this instance only. Used when no publisher is configured.
func WithLocalInvalidator(invalidator services.CacheInvalidator) InternalOption {
	return func(h *InternalHandlers) {
		h.invalidator = invalidator
	}
}

// WithInternalLogger sets the event logger.
func WithInternalLogger(logger func(context.Context, string, map[string]any)) InternalOption {
	return func(h *InternalHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{logger: func(context.Context, string, map[string]any) {}}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/catalog/invalidate", h.invalidateCatalog)
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

type invalidateResponse struct {
	Broadcast bool   `json:"broadcast"`
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason"`
}

func (h *InternalHandlers) invalidateCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.publisher == nil && h.invalidator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalidation_unavailable", "cache invalidation is not configured", http.StatusServiceUnavailable))
		return
	}

	var req invalidateRequest
	if err := httpx.DecodeJSON(r, maxRequestBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	if len(reason) > maxReasonLength {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason is too long", http.StatusBadRequest))
		return
	}
	caller, _ := auth.CallerFromContext(ctx)

	if h.publisher != nil {
		id, err := h.publisher.PublishInvalidation(ctx, reason)
		if err != nil {
			h.logger(ctx, "invalidation.publish_failed", map[string]any{"caller": caller, "reason": reason, "error": err})
			httpx.WriteError(ctx, w, httpx.NewError("invalidation_unavailable", "unable to broadcast invalidation", http.StatusServiceUnavailable))
			return
		}
		h.logger(ctx, "invalidation.published", map[string]any{"caller": caller, "reason": reason, "messageId": id})
		httpx.WriteJSON(w, http.StatusAccepted, invalidateResponse{Broadcast: true, MessageID: id, Reason: reason})
		return
	}

	if err := h.invalidator.InvalidateCaches(ctx, reason); err != nil {
		h.logger(ctx, "invalidation.refresh_failed", map[string]any{"caller": caller, "reason": reason, "error": err})
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "caches were dropped but could not be reloaded", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, invalidateResponse{Reason: reason})
}
