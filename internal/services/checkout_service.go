package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/payments"
)

const (
	paymentDescription             = "Casa Customz Phone Case Order"
	defaultCheckoutPersistAttempts = 3
	defaultCheckoutPersistBackoff  = 200 * time.Millisecond
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPaymentDeclined indicates the provider declined the payment method.
	ErrCheckoutPaymentDeclined = errors.New("checkout: payment declined")
	// ErrCheckoutAuthenticationRequired indicates the customer must complete authentication.
	ErrCheckoutAuthenticationRequired = errors.New("checkout: authentication required")
	// ErrCheckoutPaymentUnavailable indicates the payment provider could not be reached.
	ErrCheckoutPaymentUnavailable = errors.New("checkout: payment provider unavailable")
	// ErrCheckoutPaymentOutcomeUnknown indicates the authorization outcome is unknown; the webhook resolves it.
	ErrCheckoutPaymentOutcomeUnknown = errors.New("checkout: payment outcome unknown")
	// ErrCheckoutPaymentNotFound indicates the referenced authorization does not exist.
	ErrCheckoutPaymentNotFound = errors.New("checkout: payment not found")
	// ErrCheckoutPaymentIncomplete indicates the authorization has not collected the order total.
	ErrCheckoutPaymentIncomplete = errors.New("checkout: payment incomplete")
	// ErrCheckoutPersistPending indicates payment succeeded but the order is created asynchronously.
	ErrCheckoutPersistPending = errors.New("checkout: order persistence pending")
)

// CheckoutPendingError carries the authorization id of a checkout whose order will be reconciled later.
type CheckoutPendingError struct {
	AuthorizationID string
	Reason          error
	Err             error
}

func (e *CheckoutPendingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%v (authorization %s): %v", e.Reason, e.AuthorizationID, e.Err)
	}
	return fmt.Sprintf("%v (authorization %s)", e.Reason, e.AuthorizationID)
}

func (e *CheckoutPendingError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders    OrderService
	Pricing   PricingEngine
	Gateway   payments.Gateway
	Catalog   CatalogService
	CaseTypes []CaseType
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	// PersistAttempts bounds order writes after a successful authorization.
	PersistAttempts int
	PersistBackoff  time.Duration
	ReturnURL       string
}

type checkoutService struct {
	orders          OrderService
	pricing         PricingEngine
	gateway         payments.Gateway
	catalog         CatalogService
	caseTypes       []CaseType
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
	persistAttempts int
	persistBackoff  time.Duration
	returnURL       string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	caseTypes := deps.CaseTypes
	if len(caseTypes) == 0 && deps.Catalog != nil {
		caseTypes = deps.Catalog.CaseTypes()
	}
	if len(caseTypes) == 0 {
		caseTypes = domain.DefaultCaseTypes()
	}
	attempts := deps.PersistAttempts
	if attempts <= 0 {
		attempts = defaultCheckoutPersistAttempts
	}
	backoff := deps.PersistBackoff
	if backoff <= 0 {
		backoff = defaultCheckoutPersistBackoff
	}

	return &checkoutService{
		orders:    deps.Orders,
		pricing:   deps.Pricing,
		gateway:   deps.Gateway,
		catalog:   deps.Catalog,
		caseTypes: caseTypes,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:          logger,
		persistAttempts: attempts,
		persistBackoff:  backoff,
		returnURL:       strings.TrimSpace(deps.ReturnURL),
	}, nil
}

// Checkout validates the cart, authorizes the server computed total and persists the order.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if strings.TrimSpace(cmd.PaymentMethodToken) == "" {
		return CheckoutResult{}, &ValidationError{Fields: []FieldError{{Field: "paymentMethodId", Message: "is required"}}}
	}

	priced, err := s.price(ctx, cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	auth, err := s.gateway.Authorize(ctx, s.authorizationRequest(priced, cmd, true))
	if err != nil {
		s.logger(ctx, "checkout.authorization.failed", map[string]any{
			"kind":   string(payments.KindOf(err)),
			"amount": priced.charge.AmountMinor,
			"error":  err.Error(),
		})
		return CheckoutResult{}, translatePaymentError(err)
	}

	switch auth.Status {
	case payments.StatusSucceeded:
	case payments.StatusProcessing:
		s.logger(ctx, "checkout.authorization.processing", map[string]any{"authorizationId": auth.ID})
		return CheckoutResult{}, &CheckoutPendingError{AuthorizationID: auth.ID, Reason: ErrCheckoutPaymentOutcomeUnknown}
	default:
		return CheckoutResult{}, fmt.Errorf("%w: authorization %s is %s", ErrCheckoutPaymentDeclined, auth.ID, auth.Status)
	}

	created, err := s.persist(ctx, priced.createCommand(auth.ID, domain.OrderSourceCheckout))
	if err != nil {
		return CheckoutResult{}, err
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"authorizationId": auth.ID,
		"orderNumber":     created.Order.OrderNumber,
		"created":         created.Created,
		"amount":          priced.charge.AmountMinor,
	})
	return CheckoutResult{
		Order:           created.Order,
		Created:         created.Created,
		AuthorizationID: auth.ID,
		Charged:         priced.charge,
	}, nil
}

// CreatePaymentIntent creates an unconfirmed authorization for client side confirmation.
func (s *checkoutService) CreatePaymentIntent(ctx context.Context, cmd CheckoutCommand) (PaymentIntentResult, error) {
	priced, err := s.price(ctx, cmd)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	auth, err := s.gateway.Authorize(ctx, s.authorizationRequest(priced, cmd, false))
	if err != nil {
		return PaymentIntentResult{}, translatePaymentError(err)
	}

	s.logger(ctx, "checkout.intent.created", map[string]any{
		"authorizationId": auth.ID,
		"amount":          priced.charge.AmountMinor,
	})
	return PaymentIntentResult{
		Authorization: auth,
		Totals:        priced.totals.Rounded(),
		Charged:       priced.charge,
	}, nil
}

func (s *checkoutService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (payments.Authorization, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(cmd.AuthorizationID) == "" {
		verr.add("paymentIntentId", "is required")
	}
	if strings.TrimSpace(cmd.PaymentMethodID) == "" {
		verr.add("paymentMethodId", "is required")
	}
	if err := verr.errOrNil(); err != nil {
		return payments.Authorization{}, err
	}

	auth, err := s.gateway.Confirm(ctx, payments.ConfirmRequest{
		AuthorizationID: strings.TrimSpace(cmd.AuthorizationID),
		PaymentMethodID: strings.TrimSpace(cmd.PaymentMethodID),
		ReturnURL:       s.returnURL,
	})
	if err != nil {
		return payments.Authorization{}, translatePaymentError(err)
	}
	return auth, nil
}

// PlaceOrder persists an order for an authorization the client confirmed. The authorization must have
// succeeded for at least the server computed total.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderCreateResult, error) {
	authID := strings.TrimSpace(cmd.AuthorizationID)
	if authID == "" {
		return OrderCreateResult{}, &ValidationError{Fields: []FieldError{{Field: "paymentInfo.paymentIntentId", Message: "is required"}}}
	}

	priced, err := s.price(ctx, cmd.Checkout)
	if err != nil {
		return OrderCreateResult{}, err
	}

	details, err := s.gateway.Retrieve(ctx, authID)
	if err != nil {
		return OrderCreateResult{}, translatePaymentError(err)
	}
	if details.Status != payments.StatusSucceeded {
		return OrderCreateResult{}, fmt.Errorf("%w: authorization %s is %s", ErrCheckoutPaymentIncomplete, authID, details.Status)
	}
	if !strings.EqualFold(details.Currency, domain.Currency) {
		return OrderCreateResult{}, fmt.Errorf("%w: authorization currency %s", ErrCheckoutPaymentIncomplete, details.Currency)
	}
	required := priced.totals.Rounded().MinorUnits()
	if details.Amount < required {
		s.logger(ctx, "checkout.authorization.underpaid", map[string]any{
			"authorizationId": authID,
			"authorized":      details.Amount,
			"required":        required,
		})
		return OrderCreateResult{}, fmt.Errorf("%w: authorized %d below order total %d", ErrCheckoutPaymentIncomplete, details.Amount, required)
	}

	return s.persist(ctx, priced.createCommand(authID, domain.OrderSourceOrderAPI))
}

func (s *checkoutService) GetPaymentIntent(ctx context.Context, authorizationID string) (payments.PaymentDetails, error) {
	authorizationID = strings.TrimSpace(authorizationID)
	if authorizationID == "" {
		return payments.PaymentDetails{}, &ValidationError{Fields: []FieldError{{Field: "id", Message: "is required"}}}
	}
	details, err := s.gateway.Retrieve(ctx, authorizationID)
	if err != nil {
		return payments.PaymentDetails{}, translatePaymentError(err)
	}
	return details, nil
}

// Refund issues a refund and records it on the linked order when the provider settles it immediately.
// The order's payment status becomes refunded only once refunds cover the order total.
func (s *checkoutService) Refund(ctx context.Context, cmd RefundCommand) (payments.Refund, error) {
	authID := strings.TrimSpace(cmd.AuthorizationID)
	if authID == "" {
		return payments.Refund{}, &ValidationError{Fields: []FieldError{{Field: "paymentIntentId", Message: "is required"}}}
	}

	req := payments.RefundRequest{
		AuthorizationID: authID,
		Reason:          strings.TrimSpace(cmd.Reason),
		Metadata:        map[string]string{},
	}
	if cmd.Amount != nil {
		if !cmd.Amount.IsPositive() {
			return payments.Refund{}, &ValidationError{Fields: []FieldError{{Field: "amount", Message: "must be positive"}}}
		}
		minor := domain.MinorUnits(*cmd.Amount)
		req.AmountMinor = &minor
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		req.Metadata["refundedBy"] = actor
	}

	refund, err := s.gateway.Refund(ctx, req)
	if err != nil {
		return payments.Refund{}, translatePaymentError(err)
	}
	s.logger(ctx, "checkout.refund.created", map[string]any{
		"authorizationId": authID,
		"refundId":        refund.ID,
		"amount":          refund.Amount,
		"status":          refund.Status,
		"actor":           cmd.ActorID,
	})

	if refund.Status == refundStatusSucceeded {
		_, err := s.orders.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{
			AuthorizationID: authID,
			PaymentStatus:   domain.PaymentStatusRefunded,
			Refund: &domain.RefundInfo{
				ID:         refund.ID,
				Status:     refund.Status,
				Amount:     refund.Amount,
				Reason:     refund.Reason,
				RefundedAt: s.now(),
			},
			Reason: "admin refund",
		})
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "checkout.refund.record_failed", map[string]any{
				"authorizationId": authID,
				"error":           err.Error(),
			})
		}
	}
	return refund, nil
}

func (s *checkoutService) Quote(_ context.Context, items []LineItem, region string) (Quote, error) {
	if strings.TrimSpace(region) == "" {
		return Quote{}, &ValidationError{Fields: []FieldError{{Field: "shippingAddress.state", Message: "is required"}}}
	}
	totals, err := s.pricing.ComputeTotals(items, region)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	return Quote{
		Totals:  totals.Rounded(),
		TaxRate: s.pricing.Rules().TaxRate(region),
	}, nil
}

// checkOffered rejects line items whose device or color is not an active catalog entry. Without a
// catalog every item passes.
func (s *checkoutService) checkOffered(ctx context.Context, items []LineItem) error {
	if s.catalog == nil {
		return nil
	}
	devices, err := s.activeNames(ctx, domain.CatalogKindDevice)
	if err != nil {
		return err
	}
	colors, err := s.activeNames(ctx, domain.CatalogKindColor)
	if err != nil {
		return err
	}

	verr := &ValidationError{}
	for i, item := range items {
		path := fmt.Sprintf("items[%d]", i)
		if _, ok := devices[strings.ToLower(item.Device)]; !ok {
			verr.add(path+".device", "is not currently offered")
		}
		if _, ok := colors[strings.ToLower(item.Customization.Color)]; !ok {
			verr.add(path+".color", "is not currently offered")
		}
	}
	return verr.errOrNil()
}

func (s *checkoutService) activeNames(ctx context.Context, kind CatalogKind) (map[string]struct{}, error) {
	entries, err := s.catalog.List(ctx, kind, true)
	if err != nil {
		return nil, fmt.Errorf("checkout: load %s catalog: %w", kind, err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		names[strings.ToLower(strings.TrimSpace(entry.Name))] = struct{}{}
	}
	return names, nil
}

type pricedCheckout struct {
	prepared       preparedCheckout
	totals         Totals
	charge         ChargeResolution
	marketingOptIn bool
	snapshot       map[string]string
}

// price validates the submission, recomputes totals and resolves the amount to authorize.
func (s *checkoutService) price(ctx context.Context, cmd CheckoutCommand) (pricedCheckout, error) {
	prepared, err := prepareCheckout(cmd, s.caseTypes)
	if err != nil {
		return pricedCheckout{}, err
	}
	if err := s.checkOffered(ctx, prepared.items); err != nil {
		return pricedCheckout{}, err
	}

	totals, err := s.pricing.ComputeTotals(prepared.items, prepared.shipping.Region)
	if err != nil {
		return pricedCheckout{}, &ValidationError{Fields: []FieldError{{Field: "items", Message: strings.TrimPrefix(err.Error(), ErrPricingInvalidInput.Error()+": ")}}}
	}

	charge := s.pricing.ResolveCharge(totals, cmd.ClientTotal)
	if charge.Mismatch {
		fields := map[string]any{
			"serverTotal": charge.Server.StringFixed(2),
			"difference":  charge.Difference.StringFixed(2),
			"charged":     charge.Amount.StringFixed(2),
			"email":       prepared.customer.Email,
		}
		if charge.Client != nil {
			fields["clientTotal"] = charge.Client.StringFixed(2)
		}
		s.logger(ctx, "checkout.price_mismatch", fields)
	}
	if charge.Amount.LessThan(MinimumChargeAmount) {
		return pricedCheckout{}, &ValidationError{Fields: []FieldError{{Field: "total", Message: "minimum order value is $" + MinimumChargeAmount.StringFixed(2)}}}
	}

	priced := pricedCheckout{
		prepared:       prepared,
		totals:         totals,
		charge:         charge,
		marketingOptIn: cmd.MarketingOptIn,
	}
	snapshot, err := encodeSnapshotMetadata(newOrderSnapshot(prepared, totals, cmd.MarketingOptIn))
	if err != nil {
		s.logger(ctx, "checkout.snapshot.omitted", map[string]any{
			"email": prepared.customer.Email,
			"error": err.Error(),
		})
	} else {
		priced.snapshot = snapshot
	}
	return priced, nil
}

func (s *checkoutService) authorizationRequest(priced pricedCheckout, cmd CheckoutCommand, confirm bool) payments.AuthorizationRequest {
	metadata := paymentMetadata(priced.prepared, priced.totals)
	maps.Copy(metadata, priced.snapshot)

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	req := payments.AuthorizationRequest{
		AmountMinor:    priced.charge.AmountMinor,
		Currency:       domain.Currency,
		Description:    paymentDescription,
		Metadata:       metadata,
		ReceiptEmail:   priced.prepared.customer.Email,
		IdempotencyKey: key,
		Shipping: &payments.ShippingDetails{
			Name:       priced.prepared.customer.FullName(),
			Phone:      priced.prepared.customer.Phone,
			Line1:      priced.prepared.shipping.Street,
			City:       priced.prepared.shipping.City,
			State:      priced.prepared.shipping.Region,
			PostalCode: priced.prepared.shipping.PostalCode,
		},
	}
	if confirm {
		req.PaymentMethodToken = strings.TrimSpace(cmd.PaymentMethodToken)
	}
	return req
}

func (p pricedCheckout) createCommand(authorizationID string, source domain.OrderSource) CreateOrderCommand {
	return CreateOrderCommand{
		Customer:            p.prepared.customer,
		ShippingAddress:     p.prepared.shipping,
		BillingAddress:      p.prepared.billing,
		Items:               p.prepared.items,
		Totals:              p.totals.Rounded(),
		AuthorizationID:     authorizationID,
		PaymentMethod:       defaultPaymentMethod,
		PaymentStatus:       domain.PaymentStatusSucceeded,
		Status:              domain.OrderStatusProcessing,
		SpecialInstructions: p.prepared.specialInstructions,
		MarketingOptIn:      p.marketingOptIn,
		Source:              source,
	}
}

// persist writes the order after money was taken. The caller may have gone away, so the write runs
// detached from cancellation. When every attempt fails the order is left to the success webhook.
func (s *checkoutService) persist(ctx context.Context, cmd CreateOrderCommand) (OrderCreateResult, error) {
	persistCtx := context.WithoutCancel(ctx)
	backoff := s.persistBackoff

	var lastErr error
	for attempt := 1; attempt <= s.persistAttempts; attempt++ {
		result, err := s.orders.Create(persistCtx, cmd)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderInvalidInput) {
			s.logger(ctx, "checkout.persist_rejected", map[string]any{
				"authorizationId": cmd.AuthorizationID,
				"error":           err.Error(),
			})
			return OrderCreateResult{}, err
		}
		lastErr = err
		s.logger(ctx, "checkout.persist_retry", map[string]any{
			"authorizationId": cmd.AuthorizationID,
			"attempt":         attempt,
			"error":           err.Error(),
		})
		if attempt < s.persistAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	s.logger(ctx, "checkout.persist_deferred", map[string]any{
		"authorizationId": cmd.AuthorizationID,
		"email":           cmd.Customer.Email,
		"total":           cmd.Totals.Total.StringFixed(2),
		"error":           lastErr.Error(),
	})
	return OrderCreateResult{}, &CheckoutPendingError{
		AuthorizationID: cmd.AuthorizationID,
		Reason:          ErrCheckoutPersistPending,
		Err:             lastErr,
	}
}

// translatePaymentError maps provider failures onto checkout sentinels while keeping the provider error in the chain.
func translatePaymentError(err error) error {
	if err == nil {
		return nil
	}
	switch payments.KindOf(err) {
	case payments.ErrorKindDeclined:
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentDeclined, err)
	case payments.ErrorKindAuthenticationRequired:
		return fmt.Errorf("%w: %w", ErrCheckoutAuthenticationRequired, err)
	case payments.ErrorKindUnavailable:
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentUnavailable, err)
	case payments.ErrorKindTimeout:
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentOutcomeUnknown, err)
	case payments.ErrorKindNotFound:
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentNotFound, err)
	case payments.ErrorKindInvalidRequest:
		return fmt.Errorf("%w: %w", ErrCheckoutInvalidInput, err)
	default:
		return fmt.Errorf("%w: %w", ErrCheckoutPaymentUnavailable, err)
	}
}

// DeclineCode returns the provider decline code carried by a checkout error, if any.
func DeclineCode(err error) string {
	var perr *payments.Error
	if errors.As(err, &perr) {
		return perr.DeclineCode
	}
	return ""
}
