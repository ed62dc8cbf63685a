package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/observability"
	"github.com/casacustomz/api/internal/platform/pagination"
	"github.com/casacustomz/api/internal/repositories"
	"github.com/casacustomz/api/internal/services"
)

const (
	recentActivityLimit  = 10
	orderCreatedActivity = "ORDER_CREATED"
)

var orderSortFields = []string{
	string(repositories.OrderSortCreatedAt),
	string(repositories.OrderSortTotal),
	string(repositories.OrderSortOrderNumber),
	string(repositories.OrderSortStatus),
}

// OrderHandlers serves public order placement and tracking plus the admin order surface.
type OrderHandlers struct {
	orders       services.OrderService
	checkout     services.CheckoutService
	requireAdmin func(http.Handler) http.Handler
	createLimit  func(http.Handler) http.Handler
	metrics      *observability.Metrics
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderCreationLimit throttles POST /orders with mw.
func WithOrderCreationLimit(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.createLimit = mw
	}
}

// NewOrderHandlers constructs order handlers. requireAdmin guards the admin routes.
func NewOrderHandlers(orders services.OrderService, checkout services.CheckoutService, requireAdmin func(http.Handler) http.Handler, metrics *observability.Metrics, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		orders:       orders,
		checkout:     checkout,
		requireAdmin: requireAdmin,
		metrics:      metrics,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	admin := r.With(guard(h.requireAdmin))

	r.With(optionalMiddleware(h.createLimit)...).Post("/", h.createOrder)
	admin.Get("/", h.listOrders)
	admin.Get("/analytics", h.analytics)
	admin.Get("/id/{order}", h.getOrder)
	admin.Patch("/{order}/status", h.updateStatus)
	r.Get("/{order}", h.trackOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		Checkout:        req.command(r.Header.Get(idempotencyKeyHeader)),
		AuthorizationID: strings.TrimSpace(req.PaymentInfo.PaymentIntentID),
	})
	if err != nil {
		h.metrics.RecordCheckout(ctx, checkoutOutcome(err))
		writeServiceError(ctx, w, err)
		return
	}

	status, message, outcome := http.StatusCreated, "Order created successfully", "created"
	if !result.Created {
		status, message, outcome = http.StatusOK, "Order already exists", "converged"
	}
	h.metrics.RecordCheckout(ctx, outcome)
	httpx.WriteJSON(w, status, map[string]any{
		"message": message,
		"order":   newOrderSummary(result.Order),
	})
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderNumber := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "order")))
	if orderNumber == "" {
		badRequest(ctx, w, "order number is required")
		return
	}

	order, err := h.orders.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newTrackingPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		AllowedSortFields: orderSortFields,
		DefaultSort:       string(repositories.OrderSortCreatedAt),
	})
	if err != nil {
		badRequest(ctx, w, err.Error())
		return
	}

	filter := services.OrderListFilter{
		Search:    r.URL.Query().Get("search"),
		SortBy:    repositories.OrderSortField(params.SortBy),
		SortOrder: domain.SortAsc,
		Page:      params.Page,
		Limit:     params.Limit,
		DateRange: domain.RangeQuery[time.Time]{From: params.From, To: params.To},
	}
	if params.Desc {
		filter.SortOrder = domain.SortDesc
	}
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" || strings.EqualFold(strings.TrimSpace(part), "all") {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				badRequest(ctx, w, fmt.Sprintf("unknown status %q", strings.TrimSpace(part)))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, newOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"orders": items,
		"pagination": map[string]any{
			"currentPage": page.Page,
			"totalPages":  page.TotalPages,
			"totalOrders": page.Total,
			"limit":       page.Limit,
			"hasNextPage": page.Page < page.TotalPages,
			"hasPrevPage": page.Page > 1,
		},
	})
}

func (h *OrderHandlers) analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	report, err := h.orders.Analytics(ctx, r.URL.Query().Get("range"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	statusCounts := make(map[string]int, len(domain.OrderStatuses))
	for _, status := range domain.OrderStatuses {
		statusCounts[string(status)] = report.StatusCounts[status]
	}
	activity := make([]map[string]any, 0, recentActivityLimit)
	for _, order := range report.RecentOrders {
		if len(activity) == recentActivityLimit {
			break
		}
		activity = append(activity, map[string]any{
			"type":      orderCreatedActivity,
			"message":   fmt.Sprintf("New order %s from %s", order.OrderNumber, order.Customer.FullName()),
			"timestamp": formatTime(order.CreatedAt),
			"orderId":   order.ID,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"range":             report.Range,
		"from":              formatTime(report.From),
		"to":                formatTime(report.To),
		"totalRevenue":      money(report.TotalRevenue),
		"totalOrders":       report.TotalOrders,
		"averageOrderValue": money(report.AverageOrderValue),
		"statusCounts":      statusCounts,
		"recentActivity":    activity,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "order"))
	if orderID == "" {
		badRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.orders.GetByID(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": newOrderPayload(order)})
}

type updateStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	Notes          string `json:"notes"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "order"))
	if orderID == "" {
		badRequest(ctx, w, "order id is required")
		return
	}

	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}
	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		invalidField(ctx, w, "status", "must be one of pending, processing, printed, shipped, delivered, cancelled")
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   status,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
		Notes:          req.Notes,
		ActorID:        actorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Order status updated successfully",
		"order": map[string]any{
			"id":                order.ID,
			"orderNumber":       order.OrderNumber,
			"status":            string(order.Status),
			"trackingNumber":    order.Fulfillment.TrackingNumber,
			"carrier":           order.Fulfillment.Carrier,
			"estimatedDelivery": formatTimePtr(order.Fulfillment.EstimatedDelivery),
			"updatedAt":         formatTime(order.UpdatedAt),
		},
	})
}

// guard returns mw, or a middleware rejecting every request when no guard is configured.
func guard(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw != nil {
		return mw
	}
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(r.Context(), w, httpx.ErrUnauthorized)
		})
	}
}
