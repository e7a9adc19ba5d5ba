package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

// ConfiguratorHandlers exposes the live configurator: option listing, quotes and recommendations.
type ConfiguratorHandlers struct {
	configurator services.ConfiguratorService
}

// NewConfiguratorHandlers constructs configurator handlers.
func NewConfiguratorHandlers(configurator services.ConfiguratorService) *ConfiguratorHandlers {
	return &ConfiguratorHandlers{configurator: configurator}
}

// Routes wires the /configurator endpoints onto the provided router.
func (h *ConfiguratorHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog", h.listCatalog)
	r.Post("/quote", h.quote)
	r.Post("/recommendations", h.recommend)
}

type catalogTierPayload struct {
	Threshold string `json:"threshold"`
	Fee       string `json:"fee"`
}

type catalogEntryPayload struct {
	ProductKey   string               `json:"productKey"`
	OptionKey    string               `json:"optionKey,omitempty"`
	Label        string               `json:"label"`
	Unit         string               `json:"unit"`
	Rate         string               `json:"rate"`
	TierLabel    string               `json:"tierLabel,omitempty"`
	TierBoundary string               `json:"tierBoundary,omitempty"`
	Tiers        []catalogTierPayload `json:"tiers,omitempty"`
}

type catalogResponse struct {
	Version   string                `json:"version"`
	Currency  string                `json:"currency"`
	FetchedAt string                `json:"fetchedAt"`
	Entries   []catalogEntryPayload `json:"entries"`
}

type quoteResponse struct {
	CatalogVersion string           `json:"catalogVersion"`
	Breakdown      breakdownPayload `json:"breakdown"`
}

type recommendationResponse struct {
	CatalogVersion  string                  `json:"catalogVersion"`
	Breakdown       breakdownPayload        `json:"breakdown"`
	Recommendations []recommendationPayload `json:"recommendations"`
	RuleErrors      []ruleErrorPayload      `json:"ruleErrors,omitempty"`
}

func (h *ConfiguratorHandlers) listCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configurator_unavailable", "configurator is unavailable", http.StatusServiceUnavailable))
		return
	}

	listing, err := h.configurator.ListCatalog(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	entries := make([]catalogEntryPayload, 0, len(listing.Entries))
	for _, entry := range listing.Entries {
		entries = append(entries, buildCatalogEntryPayload(entry))
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	if listing.Version != "" {
		w.Header().Set("ETag", `"`+listing.Version+`"`)
	}
	httpx.WriteJSON(w, http.StatusOK, catalogResponse{
		Version:   listing.Version,
		Currency:  listing.Currency,
		FetchedAt: formatTime(listing.FetchedAt),
		Entries:   entries,
	})
}

func (h *ConfiguratorHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configurator_unavailable", "configurator is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req configurationRequest
	if err := httpx.DecodeJSON(r, maxRequestBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	result, err := h.configurator.Quote(ctx, req.toDomain())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quoteResponse{
		CatalogVersion: result.CatalogVersion,
		Breakdown:      buildBreakdownPayload(result.Breakdown),
	})
}

func (h *ConfiguratorHandlers) recommend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.configurator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("configurator_unavailable", "configurator is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req configurationRequest
	if err := httpx.DecodeJSON(r, maxRequestBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	result, err := h.configurator.Recommend(ctx, req.toDomain())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recommendationResponse{
		CatalogVersion:  result.CatalogVersion,
		Breakdown:       buildBreakdownPayload(result.Breakdown),
		Recommendations: buildRecommendations(result.Recommendations, result.Breakdown.Currency),
		RuleErrors:      buildRuleErrors(result.RuleErrors),
	})
}

// Rates and tier fees are reported in major currency units.
func buildCatalogEntryPayload(entry domain.CatalogEntry) catalogEntryPayload {
	payload := catalogEntryPayload{
		ProductKey: entry.ProductKey,
		OptionKey:  entry.OptionKey,
		Label:      entry.Label,
		Unit:       string(entry.Unit),
		Rate:       entry.Rate.String(),
	}
	if entry.Tiers != nil {
		payload.TierLabel = entry.Tiers.Label
		payload.TierBoundary = string(entry.Tiers.Boundary)
		for _, bp := range entry.Tiers.Breakpoints {
			payload.Tiers = append(payload.Tiers, catalogTierPayload{
				Threshold: bp.Threshold.String(),
				Fee:       bp.Fee.String(),
			})
		}
	}
	return payload
}
