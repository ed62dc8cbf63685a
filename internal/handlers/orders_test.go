package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/payments"
	"github.com/casacustomz/api/internal/platform/requestctx"
	"github.com/casacustomz/api/internal/repositories"
	"github.com/casacustomz/api/internal/services"
)

type stubOrderService struct {
	createFn            func(context.Context, services.CreateOrderCommand) (services.OrderCreateResult, error)
	getByIDFn           func(context.Context, string) (services.Order, error)
	getByNumberFn       func(context.Context, string) (services.Order, error)
	getByAuthorizationF func(context.Context, string) (services.Order, error)
	listFn              func(context.Context, services.OrderListFilter) (domain.Page[services.Order], error)
	analyticsFn         func(context.Context, string) (services.OrderAnalytics, error)
	transitionFn        func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	paymentUpdateFn     func(context.Context, services.PaymentUpdateCommand) (services.PaymentUpdateResult, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.OrderCreateResult{}, errors.New("not implemented")
}

func (s *stubOrderService) GetByID(ctx context.Context, orderID string) (services.Order, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetByOrderNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getByNumberFn != nil {
		return s.getByNumberFn(ctx, orderNumber)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetByAuthorizationID(ctx context.Context, authorizationID string) (services.Order, error) {
	if s.getByAuthorizationF != nil {
		return s.getByAuthorizationF(ctx, authorizationID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[services.Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) Analytics(ctx context.Context, rangeKey string) (services.OrderAnalytics, error) {
	if s.analyticsFn != nil {
		return s.analyticsFn(ctx, rangeKey)
	}
	return services.OrderAnalytics{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ApplyPaymentUpdate(ctx context.Context, cmd services.PaymentUpdateCommand) (services.PaymentUpdateResult, error) {
	if s.paymentUpdateFn != nil {
		return s.paymentUpdateFn(ctx, cmd)
	}
	return services.PaymentUpdateResult{}, errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

// allowAdmin stands in for auth.RequireAdmin and attaches a fixed admin actor.
func allowAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestctx.WithActor(r.Context(), requestctx.Actor{
			ID:       "adm_1",
			Username: "owner",
			Role:     string(domain.AdminRoleAdmin),
			Kind:     requestctx.ActorAdmin,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newOrderRouter(orders services.OrderService, checkout services.CheckoutService, requireAdmin func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(orders, checkout, requireAdmin, nil).Routes)
	return router
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleOrder() services.Order {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	printed := created.Add(24 * time.Hour)
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "CC-240501-AB12",
		Customer: domain.Customer{
			FirstName: "Ann",
			LastName:  "Lee",
			Email:     "ann@example.com",
		},
		ShippingAddress: domain.Address{
			Street:     "1 Main St",
			City:       "Austin",
			Region:     "TX",
			PostalCode: "78701",
			Country:    "US",
		},
		Items: []domain.LineItem{{
			Device:   "iPhone 15",
			CaseType: "clear",
			Customization: domain.Customization{
				Text:  "ANN",
				Color: "Gold",
				Font:  "Serif",
			},
			UnitPrice: decimal.RequireFromString("24.99"),
			Quantity:  1,
		}},
		Totals: domain.Totals{
			Subtotal: decimal.RequireFromString("24.99"),
			Shipping: decimal.RequireFromString("5.99"),
			Tax:      decimal.RequireFromString("2.06"),
			Total:    decimal.RequireFromString("33.04"),
		},
		Status: domain.OrderStatusPrinted,
		Payment: domain.PaymentInfo{
			AuthorizationID: "pi_123",
			Method:          "card",
			Status:          domain.PaymentStatusSucceeded,
		},
		Fulfillment: domain.Fulfillment{PrintedAt: &printed},
		Source:      domain.OrderSourceCheckout,
		CreatedAt:   created,
		UpdatedAt:   printed,
	}
}

const sampleCheckoutBody = `{
	"customerInfo": {"firstName": "Ann", "lastName": "Lee", "email": "ann@example.com"},
	"shippingAddress": {"address": "1 Main St", "city": "Austin", "state": "TX", "zipCode": "78701"},
	"items": [{"device": "iPhone 15", "caseType": "clear", "text": "ANN", "color": "Gold", "font": "Serif", "price": 24.99, "quantity": 1}],
	"total": 33.04,
	"paymentInfo": {"paymentIntentId": "pi_123"},
	"marketing": true
}`

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.PlaceOrderCommand
	checkout := &stubCheckoutService{
		placeOrderFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.OrderCreateResult, error) {
			captured = cmd
			return services.OrderCreateResult{Order: sampleOrder(), Created: true}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, checkout, allowAdmin)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(sampleCheckoutBody))
	req.Header.Set("Idempotency-Key", " key-1 ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AuthorizationID != "pi_123" {
		t.Fatalf("expected authorization pi_123, got %q", captured.AuthorizationID)
	}
	if captured.Checkout.IdempotencyKey != "key-1" {
		t.Fatalf("expected trimmed idempotency key, got %q", captured.Checkout.IdempotencyKey)
	}
	if captured.Checkout.ClientTotal == nil || !captured.Checkout.ClientTotal.Equal(decimal.RequireFromString("33.04")) {
		t.Fatalf("expected client total 33.04, got %v", captured.Checkout.ClientTotal)
	}
	if len(captured.Checkout.Items) != 1 || captured.Checkout.Items[0].Color != "Gold" {
		t.Fatalf("unexpected items %+v", captured.Checkout.Items)
	}
	if captured.Checkout.ShippingAddress.Region != "TX" || !captured.Checkout.MarketingOptIn {
		t.Fatalf("unexpected command %+v", captured.Checkout)
	}

	body := decodeBody(t, rr)
	order, ok := body["order"].(map[string]any)
	if !ok {
		t.Fatalf("expected order object, got %v", body["order"])
	}
	if order["orderNumber"] != "CC-240501-AB12" {
		t.Fatalf("unexpected order number %v", order["orderNumber"])
	}
	if order["total"] != 33.04 {
		t.Fatalf("expected numeric total 33.04, got %v", order["total"])
	}
	if order["customerName"] != "Ann Lee" {
		t.Fatalf("unexpected customer name %v", order["customerName"])
	}
}

func TestOrderHandlersCreateOrderConverged(t *testing.T) {
	checkout := &stubCheckoutService{
		placeOrderFn: func(context.Context, services.PlaceOrderCommand) (services.OrderCreateResult, error) {
			return services.OrderCreateResult{Order: sampleOrder()}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, checkout, allowAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(sampleCheckoutBody)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if msg := decodeBody(t, rr)["message"]; msg != "Order already exists" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name: "validation",
			err: &services.ValidationError{Fields: []services.FieldError{
				{Field: "customerInfo.email", Message: "must be a valid email"},
			}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
			check: func(t *testing.T, body map[string]any) {
				fields, ok := body["fields"].([]any)
				if !ok || len(fields) != 1 {
					t.Fatalf("expected one field error, got %v", body["fields"])
				}
				field := fields[0].(map[string]any)
				if field["field"] != "customerInfo.email" {
					t.Fatalf("unexpected field %v", field)
				}
			},
		},
		{
			name:       "declined",
			err:        fmt.Errorf("%w: %w", services.ErrCheckoutPaymentDeclined, &payments.Error{Kind: payments.ErrorKindDeclined, DeclineCode: "insufficient_funds"}),
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "payment_declined",
			check: func(t *testing.T, body map[string]any) {
				if body["declineCode"] != "insufficient_funds" {
					t.Fatalf("expected decline code, got %v", body["declineCode"])
				}
			},
		},
		{
			name: "persist pending",
			err: &services.CheckoutPendingError{
				AuthorizationID: "pi_123",
				Reason:          services.ErrCheckoutPersistPending,
				Err:             services.ErrOrderUnavailable,
			},
			wantStatus: http.StatusAccepted,
			wantCode:   "order_pending",
			check: func(t *testing.T, body map[string]any) {
				if body["authorizationId"] != "pi_123" {
					t.Fatalf("expected authorization id, got %v", body["authorizationId"])
				}
			},
		},
		{
			name:       "payment incomplete",
			err:        services.ErrCheckoutPaymentIncomplete,
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "payment_incomplete",
		},
		{
			name:       "conflict",
			err:        fmt.Errorf("%w: authorization linked to ord_9", services.ErrOrderConflict),
			wantStatus: http.StatusConflict,
			wantCode:   "order_conflict",
		},
		{
			name:       "order numbers exhausted",
			err:        fmt.Errorf("%w after 5 attempts", services.ErrOrderNumberExhausted),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "order_number_unavailable",
		},
		{
			name:       "invalid input",
			err:        fmt.Errorf("%w: paymentInfo.paymentIntentId is required", services.ErrCheckoutInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
			check: func(t *testing.T, body map[string]any) {
				if body["message"] != "paymentInfo.paymentIntentId is required" {
					t.Fatalf("expected stripped message, got %v", body["message"])
				}
			},
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				placeOrderFn: func(context.Context, services.PlaceOrderCommand) (services.OrderCreateResult, error) {
					return services.OrderCreateResult{}, tc.err
				},
			}
			router := newOrderRouter(&stubOrderService{}, checkout, allowAdmin)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(sampleCheckoutBody)))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if tc.wantCode != "" && body["error"] != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, body["error"])
			}
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestOrderHandlersCreateOrderRejectsMalformedJSON(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubCheckoutService{}, allowAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{")))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersTrackOrder(t *testing.T) {
	var requested string
	orders := &stubOrderService{
		getByNumberFn: func(_ context.Context, number string) (services.Order, error) {
			requested = number
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(orders, nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/cc-240501-ab12", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if requested != "CC-240501-AB12" {
		t.Fatalf("expected upper-cased order number, got %q", requested)
	}
	body := decodeBody(t, rr)
	if _, ok := body["customerEmail"]; ok {
		t.Fatalf("tracking view must not expose the customer email")
	}
	timeline, ok := body["timeline"].(map[string]any)
	if !ok {
		t.Fatalf("expected timeline, got %v", body["timeline"])
	}
	if timeline["printed"] != "2024-05-02T12:00:00Z" {
		t.Fatalf("unexpected printed timestamp %v", timeline["printed"])
	}
	if timeline["processing"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected processing timestamp %v", timeline["processing"])
	}
	if timeline["shipped"] != nil {
		t.Fatalf("expected shipped to be null, got %v", timeline["shipped"])
	}
}

func TestOrderHandlersTrackOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getByNumberFn: func(context.Context, string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(orders, nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/CC-000000-0000", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "order_not_found" {
		t.Fatalf("unexpected error code %v", code)
	}
}

func TestOrderHandlersAdminRoutesRequireGuard(t *testing.T) {
	called := false
	orders := &stubOrderService{
		listFn: func(context.Context, services.OrderListFilter) (domain.Page[services.Order], error) {
			called = true
			return domain.Page[services.Order]{}, nil
		},
	}
	router := newOrderRouter(orders, nil, nil)

	for _, target := range []string{"/orders", "/orders/analytics", "/orders/id/ord_1"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without a guard, got %d", target, rr.Code)
		}
	}
	if called {
		t.Fatalf("service must not be reached without admin authentication")
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
			captured = filter
			return domain.Page[services.Order]{
				Items:      []services.Order{sampleOrder()},
				Page:       2,
				Limit:      100,
				Total:      250,
				TotalPages: 3,
			}, nil
		},
	}
	router := newOrderRouter(orders, nil, allowAdmin)

	rr := httptest.NewRecorder()
	target := "/orders?page=2&limit=500&status=shipped,printed&status=all&sortBy=total&sortOrder=asc&search=ann&dateFrom=2024-05-01"
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Page != 2 || captured.Limit != 100 {
		t.Fatalf("expected page 2 limit 100, got page %d limit %d", captured.Page, captured.Limit)
	}
	if captured.SortBy != repositories.OrderSortTotal || captured.SortOrder != domain.SortAsc {
		t.Fatalf("unexpected sort %s %s", captured.SortBy, captured.SortOrder)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusShipped || captured.Status[1] != domain.OrderStatusPrinted {
		t.Fatalf("unexpected statuses %v", captured.Status)
	}
	if captured.Search != "ann" {
		t.Fatalf("unexpected search %q", captured.Search)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range %+v", captured.DateRange)
	}

	body := decodeBody(t, rr)
	pagination := body["pagination"].(map[string]any)
	if pagination["hasNextPage"] != true || pagination["hasPrevPage"] != true {
		t.Fatalf("unexpected pagination %v", pagination)
	}
	if pagination["totalOrders"] != float64(250) {
		t.Fatalf("unexpected total %v", pagination["totalOrders"])
	}
	list := body["orders"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one order, got %d", len(list))
	}
	first := list[0].(map[string]any)
	if first["total"] != 33.04 || first["subtotal"] != 24.99 {
		t.Fatalf("expected flattened totals, got %v", first)
	}
	billing := first["billingAddress"].(map[string]any)
	if billing["city"] != "Austin" {
		t.Fatalf("expected billing to default to shipping, got %v", billing)
	}
}

func TestOrderHandlersListOrdersRejectsBadQuery(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil, allowAdmin)

	for _, target := range []string{"/orders?status=lost", "/orders?sortBy=email", "/orders?page=0"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestOrderHandlersAnalytics(t *testing.T) {
	var requestedRange string
	orders := &stubOrderService{
		analyticsFn: func(_ context.Context, rangeKey string) (services.OrderAnalytics, error) {
			requestedRange = rangeKey
			return services.OrderAnalytics{
				Range:             "7d",
				TotalRevenue:      decimal.RequireFromString("66.08"),
				TotalOrders:       2,
				AverageOrderValue: decimal.RequireFromString("33.04"),
				StatusCounts:      map[domain.OrderStatus]int{domain.OrderStatusPrinted: 2},
				RecentOrders:      []services.Order{sampleOrder()},
			}, nil
		},
	}
	router := newOrderRouter(orders, nil, allowAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/analytics?range=7d", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if requestedRange != "7d" {
		t.Fatalf("expected range 7d, got %q", requestedRange)
	}
	body := decodeBody(t, rr)
	if body["totalRevenue"] != 66.08 || body["averageOrderValue"] != 33.04 {
		t.Fatalf("unexpected revenue figures %v", body)
	}
	counts := body["statusCounts"].(map[string]any)
	if len(counts) != len(domain.OrderStatuses) {
		t.Fatalf("expected a count for every status, got %v", counts)
	}
	if counts["printed"] != float64(2) || counts["pending"] != float64(0) {
		t.Fatalf("unexpected counts %v", counts)
	}
	activity := body["recentActivity"].([]any)
	if len(activity) != 1 {
		t.Fatalf("expected one activity entry, got %d", len(activity))
	}
	entry := activity[0].(map[string]any)
	if entry["type"] != "ORDER_CREATED" || entry["message"] != "New order CC-240501-AB12 from Ann Lee" {
		t.Fatalf("unexpected activity %v", entry)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	orders := &stubOrderService{
		getByIDFn: func(_ context.Context, id string) (services.Order, error) {
			if id != "ord_1" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(orders, nil, allowAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/id/ord_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	customer := order["customerInfo"].(map[string]any)
	if customer["email"] != "ann@example.com" {
		t.Fatalf("admin view must include the email, got %v", customer)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/id/ord_missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			shipped := order.CreatedAt.Add(48 * time.Hour)
			estimated := shipped.Add(5 * 24 * time.Hour)
			order.Status = domain.OrderStatusShipped
			order.Fulfillment.ShippedAt = &shipped
			order.Fulfillment.EstimatedDelivery = &estimated
			order.Fulfillment.TrackingNumber = cmd.TrackingNumber
			order.Fulfillment.Carrier = cmd.Carrier
			return order, nil
		},
	}
	router := newOrderRouter(orders, nil, allowAdmin)

	payload := []byte(`{"status":"Shipped","trackingNumber":"1Z999","carrier":"UPS","notes":"left dock"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", bytes.NewReader(payload)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.TargetStatus != domain.OrderStatusShipped {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.ActorID != "adm_1" || captured.Notes != "left dock" {
		t.Fatalf("expected actor and notes to be forwarded, got %+v", captured)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["trackingNumber"] != "1Z999" || order["estimatedDelivery"] != "2024-05-08T12:00:00Z" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestOrderHandlersUpdateStatusErrors(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: delivered -> pending", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(orders, nil, allowAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", strings.NewReader(`{"status":"lost"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "validation_failed" {
		t.Fatalf("unexpected code %v", code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", strings.NewReader(`{"status":"pending"}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "invalid_status_transition" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestOrderHandlersWithoutServices(t *testing.T) {
	router := newOrderRouter(nil, nil, allowAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/CC-1", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(sampleCheckoutBody)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
