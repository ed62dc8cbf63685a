package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/services"
)

// catalogPaths maps the plural path segments used by the storefront onto catalog kinds.
var catalogPaths = map[string]domain.CatalogKind{
	"devices":  domain.CatalogKindDevice,
	"colors":   domain.CatalogKindColor,
	"fonts":    domain.CatalogKindFont,
	"carriers": domain.CatalogKindCarrier,
}

// ProductHandlers serves the product configuration catalog.
type ProductHandlers struct {
	catalog      services.CatalogService
	pricing      services.PricingEngine
	requireAdmin func(http.Handler) http.Handler
}

func NewProductHandlers(catalog services.CatalogService, pricing services.PricingEngine, requireAdmin func(http.Handler) http.Handler) *ProductHandlers {
	return &ProductHandlers{catalog: catalog, pricing: pricing, requireAdmin: requireAdmin}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	for path, kind := range catalogPaths {
		r.Get("/"+path, h.listKind(kind))
	}
	r.Get("/case-types", h.caseTypes)
	r.Get("/pricing", h.pricingInfo)
	r.Post("/validate-text", h.validateText)
	r.With(guard(h.requireAdmin)).Put("/{kind}/{name}", h.upsertEntry)
}

func (h *ProductHandlers) listKind(kind domain.CatalogKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.catalog == nil {
			serviceUnavailable(ctx, w, "catalog")
			return
		}
		entries, err := h.catalog.List(ctx, kind, true)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			items = append(items, catalogEntryPayload(entry))
		}
		httpx.WriteJSON(w, http.StatusOK, items)
	}
}

func (h *ProductHandlers) caseTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	types := h.catalog.CaseTypes()
	items := make([]map[string]any, 0, len(types))
	for _, ct := range types {
		items = append(items, map[string]any{
			"code":        ct.Code,
			"name":        ct.Name,
			"description": ct.Description,
			"price":       money(ct.Price),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *ProductHandlers) pricingInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil || h.pricing == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	rules := h.pricing.Rules()
	basePrices := make(map[string]any)
	for _, ct := range h.catalog.CaseTypes() {
		basePrices[ct.Code] = money(ct.Price)
	}
	zones := make([]map[string]any, 0, len(rules.Zones))
	for _, zone := range rules.Zones {
		zones = append(zones, map[string]any{
			"name":    zone.Name,
			"regions": zone.Regions,
			"cost":    money(zone.Cost),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"basePrices":            basePrices,
		"currency":              domain.Currency,
		"freeShippingThreshold": money(rules.FreeShippingThreshold),
		"defaultShipping":       money(rules.DefaultShipping),
		"shippingZones":         zones,
	})
}

type validateTextRequest struct {
	Text string `json:"text"`
}

func (h *ProductHandlers) validateText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	var req validateTextRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}
	result := h.catalog.ValidateText(req.Text)
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"valid":     result.Valid,
		"sanitized": result.Sanitized,
		"length":    result.Length,
		"maxLength": result.MaxLength,
		"errors":    errs,
	})
}

type upsertEntryRequest struct {
	Attributes map[string]string `json:"attributes"`
	Active     *bool             `json:"active"`
	SortOrder  *int              `json:"sortOrder"`
}

func (h *ProductHandlers) upsertEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	kind, ok := parseCatalogKind(chi.URLParam(r, "kind"))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_kind_not_found", "unknown catalog kind", http.StatusNotFound))
		return
	}

	var req upsertEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}

	entry, err := h.catalog.Upsert(ctx, services.CatalogUpsertCommand{
		Kind:       kind,
		Name:       chi.URLParam(r, "name"),
		Attributes: req.Attributes,
		Active:     req.Active,
		SortOrder:  req.SortOrder,
		ActorID:    actorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, catalogEntryPayload(entry))
}

func parseCatalogKind(raw string) (domain.CatalogKind, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if kind, ok := catalogPaths[value]; ok {
		return kind, true
	}
	for _, kind := range domain.CatalogKinds {
		if string(kind) == value {
			return kind, true
		}
	}
	return "", false
}

// catalogEntryPayload flattens attributes next to the entry name, e.g. {"name":"Gold","hex":"#FFD700"}.
func catalogEntryPayload(entry domain.CatalogEntry) map[string]any {
	payload := make(map[string]any, len(entry.Attributes)+4)
	for key, value := range entry.Attributes {
		payload[key] = value
	}
	payload["name"] = entry.Name
	payload["active"] = entry.Active
	payload["sortOrder"] = entry.SortOrder
	if !entry.UpdatedAt.IsZero() {
		payload["updatedAt"] = formatTime(entry.UpdatedAt)
	}
	return payload
}
