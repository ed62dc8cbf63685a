package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/payments"
	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/observability"
	"github.com/casacustomz/api/internal/services"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	defaultRefundReason  = "requested_by_customer"
	storefrontCountry    = "US"
)

var refundReasons = map[string]struct{}{
	"duplicate":             {},
	"fraudulent":            {},
	"requested_by_customer": {},
}

// CheckoutHandlers exposes the server side checkout and the payment endpoints used by the storefront.
type CheckoutHandlers struct {
	checkout       services.CheckoutService
	pricing        services.PricingEngine
	publishableKey string
	requireAdmin   func(http.Handler) http.Handler
	paymentLimit   func(http.Handler) http.Handler
	metrics        *observability.Metrics
}

// CheckoutHandlersDeps bundles the collaborators of CheckoutHandlers.
type CheckoutHandlersDeps struct {
	Checkout       services.CheckoutService
	Pricing        services.PricingEngine
	PublishableKey string
	RequireAdmin   func(http.Handler) http.Handler
	// PaymentLimit throttles checkout and intent creation. Nil disables it.
	PaymentLimit func(http.Handler) http.Handler
	Metrics      *observability.Metrics
}

func NewCheckoutHandlers(deps CheckoutHandlersDeps) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout:       deps.Checkout,
		pricing:        deps.Pricing,
		publishableKey: strings.TrimSpace(deps.PublishableKey),
		requireAdmin:   deps.RequireAdmin,
		paymentLimit:   deps.PaymentLimit,
		metrics:        deps.Metrics,
	}
}

// CheckoutRoutes registers POST /checkout.
func (h *CheckoutHandlers) CheckoutRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(optionalMiddleware(h.paymentLimit)...).Post("/", h.checkoutCart)
}

// PaymentRoutes registers the /payments endpoints.
func (h *CheckoutHandlers) PaymentRoutes(r chi.Router) {
	if r == nil {
		return
	}
	limited := r.With(optionalMiddleware(h.paymentLimit)...)
	limited.Post("/create-intent", h.createIntent)
	limited.Post("/confirm", h.confirm)
	r.Get("/intent/{authorizationID}", h.getIntent)
	r.With(guard(h.requireAdmin)).Post("/refund", h.refund)
	r.Post("/calculate", h.calculate)
	r.Get("/config", h.config)
	r.Get("/methods", h.methods)
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.checkout.Checkout(ctx, req.command(r.Header.Get(idempotencyKeyHeader)))
	if err != nil {
		h.metrics.RecordCheckout(ctx, checkoutOutcome(err))
		writeServiceError(ctx, w, err)
		return
	}

	status, outcome := http.StatusCreated, "created"
	if !result.Created {
		status, outcome = http.StatusOK, "converged"
	}
	h.metrics.RecordCheckout(ctx, outcome)
	httpx.WriteJSON(w, status, map[string]any{
		"message":         "Order placed successfully",
		"order":           newOrderSummary(result.Order),
		"authorizationId": result.AuthorizationID,
		"charged":         money(result.Charged.Amount),
		"priceAdjusted":   result.Charged.Mismatch,
	})
}

func (h *CheckoutHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.checkout.CreatePaymentIntent(ctx, req.command(r.Header.Get(idempotencyKeyHeader)))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":           result.Authorization.ID,
		"clientSecret": result.Authorization.ClientSecret,
		"amount":       minorMoney(result.Authorization.Amount),
		"currency":     result.Authorization.Currency,
		"status":       string(result.Authorization.Status),
		"subtotal":     money(result.Totals.Subtotal),
		"shipping":     money(result.Totals.Shipping),
		"tax":          money(result.Totals.Tax),
		"total":        money(result.Totals.Total),
	})
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	PaymentMethodID string `json:"paymentMethodId"`
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}

	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}

	auth, err := h.checkout.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		AuthorizationID: req.PaymentIntentID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":       auth.ID,
		"status":   string(auth.Status),
		"amount":   minorMoney(auth.Amount),
		"currency": auth.Currency,
		"charges":  chargePayloads(auth.Charges),
	})
}

func (h *CheckoutHandlers) getIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}

	details, err := h.checkout.GetPaymentIntent(ctx, chi.URLParam(r, "authorizationID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	metadata := details.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":             details.ID,
		"status":         string(details.Status),
		"amount":         minorMoney(details.Amount),
		"amountReceived": minorMoney(details.AmountReceived),
		"currency":       details.Currency,
		"metadata":       metadata,
		"charges":        chargePayloads(details.Charges),
		"created":        formatTime(details.CreatedAt),
	})
}

type refundRequest struct {
	PaymentIntentID string           `json:"paymentIntentId"`
	Amount          *decimal.Decimal `json:"amount"`
	Reason          string           `json:"reason"`
}

func (h *CheckoutHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}

	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}
	reason := strings.ToLower(strings.TrimSpace(req.Reason))
	if reason == "" {
		reason = defaultRefundReason
	}
	if _, ok := refundReasons[reason]; !ok {
		invalidField(ctx, w, "reason", "must be one of duplicate, fraudulent, requested_by_customer")
		return
	}

	refund, err := h.checkout.Refund(ctx, services.RefundCommand{
		AuthorizationID: req.PaymentIntentID,
		Amount:          req.Amount,
		Reason:          reason,
		ActorID:         actorID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":       refund.ID,
		"amount":   minorMoney(refund.Amount),
		"currency": refund.Currency,
		"status":   refund.Status,
		"reason":   refund.Reason,
		"charge":   refund.ChargeID,
	})
}

type calculateRequest struct {
	Items           []itemPayload  `json:"items"`
	ShippingAddress addressPayload `json:"shippingAddress"`
	State           string         `json:"state"`
}

func (h *CheckoutHandlers) calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}

	var req calculateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(ctx, w, err.Error())
		return
	}
	if len(req.Items) == 0 {
		invalidField(ctx, w, "items", "must contain at least 1 item")
		return
	}
	region := req.ShippingAddress.State
	if strings.TrimSpace(region) == "" {
		region = req.State
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.LineItem{
			Device:    item.Device,
			CaseType:  item.CaseType,
			UnitPrice: item.Price,
			Quantity:  item.Quantity,
		})
	}

	quote, err := h.checkout.Quote(ctx, items, region)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"subtotal": money(quote.Totals.Subtotal),
		"shipping": money(quote.Totals.Shipping),
		"tax":      money(quote.Totals.Tax),
		"total":    money(quote.Totals.Total),
		"taxRate":  rateValue(quote.TaxRate),
	})
}

func (h *CheckoutHandlers) config(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		serviceUnavailable(ctx, w, "pricing")
		return
	}
	rules := h.pricing.Rules()
	taxRates := make(map[string]json.Number, len(rules.TaxRates))
	for region, rate := range rules.TaxRates {
		taxRates[region] = rateValue(rate)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"publishableKey":        h.publishableKey,
		"currency":              domain.Currency,
		"country":               storefrontCountry,
		"taxRates":              taxRates,
		"defaultTaxRate":        rateValue(rules.DefaultTaxRate),
		"freeShippingThreshold": money(rules.FreeShippingThreshold),
	})
}

func (h *CheckoutHandlers) methods(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"card": map[string]any{
			"enabled":        true,
			"supportedCards": []string{"visa", "mastercard", "amex", "discover"},
		},
		"applePay":  map[string]any{"enabled": true},
		"googlePay": map[string]any{"enabled": true},
	})
}

type chargePayload struct {
	ID         string      `json:"id"`
	Amount     json.Number `json:"amount"`
	Status     string      `json:"status"`
	ReceiptURL string      `json:"receipt_url,omitempty"`
}

func chargePayloads(charges []payments.Charge) []chargePayload {
	out := make([]chargePayload, 0, len(charges))
	for _, charge := range charges {
		out = append(out, chargePayload{
			ID:         charge.ID,
			Amount:     minorMoney(charge.Amount),
			Status:     charge.Status,
			ReceiptURL: charge.ReceiptURL,
		})
	}
	return out
}

// rateValue renders a tax rate as a JSON number such as 0.0725.
func rateValue(rate decimal.Decimal) json.Number {
	return json.Number(rate.Round(5).String())
}

// checkoutOutcome labels a failed checkout for the checkout counter.
func checkoutOutcome(err error) string {
	var pending *services.CheckoutPendingError
	switch {
	case errors.As(err, &pending):
		return "pending"
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		return "invalid"
	case errors.Is(err, services.ErrCheckoutPaymentDeclined), errors.Is(err, services.ErrCheckoutAuthenticationRequired):
		return "declined"
	case errors.Is(err, services.ErrCheckoutPaymentIncomplete):
		return "incomplete"
	case errors.Is(err, services.ErrCheckoutPaymentUnavailable):
		return "provider_unavailable"
	case errors.Is(err, services.ErrCheckoutPaymentOutcomeUnknown):
		return "outcome_unknown"
	case errors.Is(err, services.ErrOrderConflict):
		return "conflict"
	default:
		return "error"
	}
}
