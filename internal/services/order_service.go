package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventPaymentUpdated = "order.payment.updated"

	orderIDPrefix = "ord_"

	defaultPaymentMethod = "card"
	defaultCarrier       = "USPS"
	recentOrdersLimit    = 10

	refundStatusSucceeded = "succeeded"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate that is not the same logical request.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusPrinted, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusPrinted:    {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

var carrierLeadDays = map[string]int{
	"usps":     5,
	"standard": 5,
	"ups":      3,
	"fedex":    3,
	"express":  2,
}

const defaultCarrierLeadDays = 4

var analyticsRanges = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Numbers    OrderNumberAllocator
	Pricing    PricingEngine
	UnitOfWork repositories.UnitOfWork
	// NumberAttempts bounds how often a persist-time order number collision is reallocated.
	NumberAttempts int
	Clock          func() time.Time
	IDGenerator    func() string
	Events         OrderEventPublisher
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders         repositories.OrderRepository
	numbers        OrderNumberAllocator
	pricing        PricingEngine
	unitOfWork     repositories.UnitOfWork
	numberAttempts int
	clock          func() time.Time
	newID          func() string
	events         OrderEventPublisher
	logger         func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number allocator is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	attempts := deps.NumberAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberAttempts
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:         deps.Orders,
		numbers:        deps.Numbers,
		pricing:        deps.Pricing,
		unitOfWork:     unit,
		numberAttempts: attempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Create persists a priced order. A second order for the same authorization converges to the stored
// one when it describes the same purchase and fails with ErrOrderConflict otherwise.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (OrderCreateResult, error) {
	authID := strings.TrimSpace(cmd.AuthorizationID)
	if authID == "" {
		return OrderCreateResult{}, fmt.Errorf("%w: payment authorization id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return OrderCreateResult{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" {
		return OrderCreateResult{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if !cmd.Totals.Total.IsPositive() {
		return OrderCreateResult{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	now := s.now()
	order := Order{
		ID:                  s.nextOrderID(),
		Customer:            cmd.Customer,
		ShippingAddress:     cmd.ShippingAddress,
		BillingAddress:      cloneAddress(cmd.BillingAddress),
		Items:               slices.Clone(cmd.Items),
		Totals:              s.ensureTax(ctx, cmd.Totals, cmd.ShippingAddress.Region).Rounded(),
		Status:              cmd.Status,
		Payment:             domain.PaymentInfo{AuthorizationID: authID, Method: cmd.PaymentMethod, Status: cmd.PaymentStatus},
		SpecialInstructions: strings.TrimSpace(cmd.SpecialInstructions),
		MarketingOptIn:      cmd.MarketingOptIn,
		Source:              cmd.Source,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusProcessing
	}
	if order.Payment.Method == "" {
		order.Payment.Method = defaultPaymentMethod
	}
	if order.Payment.Status == "" {
		order.Payment.Status = domain.PaymentStatusSucceeded
	}
	if order.Source == "" {
		order.Source = domain.OrderSourceCheckout
	}

	existing, err := s.orders.FindByAuthorizationID(ctx, authID)
	switch {
	case err == nil:
		return s.converge(ctx, existing, order)
	case !isRepositoryNotFound(err):
		return OrderCreateResult{}, s.mapRepositoryError(err)
	}

	for attempt := 1; attempt <= s.numberAttempts; attempt++ {
		number, err := s.numbers.Allocate(ctx)
		if err != nil {
			return OrderCreateResult{}, err
		}
		order.OrderNumber = number

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			return s.orders.Insert(txCtx, order)
		})
		if err == nil {
			s.publishEvent(ctx, OrderEvent{
				Type:          orderEventCreated,
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CurrentStatus: string(order.Status),
				ActorID:       strings.TrimSpace(cmd.ActorID),
				OccurredAt:    now,
				Metadata: map[string]any{
					"authorizationId": authID,
					"total":           order.Totals.Total.StringFixed(2),
					"source":          string(order.Source),
				},
			})
			return OrderCreateResult{Order: order, Created: true}, nil
		}

		var constraint *repositories.ConstraintError
		if !errors.As(err, &constraint) {
			return OrderCreateResult{}, s.mapRepositoryError(err)
		}
		switch constraint.Constraint {
		case repositories.ConstraintAuthorization:
			existing, findErr := s.orders.FindByAuthorizationID(ctx, authID)
			if findErr != nil {
				return OrderCreateResult{}, s.mapRepositoryError(findErr)
			}
			return s.converge(ctx, existing, order)
		case repositories.ConstraintOrderNumber:
			s.logger(ctx, "order.number.collision", map[string]any{
				"orderNumber": number,
				"attempt":     attempt,
			})
		default:
			return OrderCreateResult{}, s.mapRepositoryError(err)
		}
	}

	return OrderCreateResult{}, fmt.Errorf("%w: order number collided on insert %d times", ErrOrderNumberExhausted, s.numberAttempts)
}

func (s *orderService) converge(ctx context.Context, existing Order, candidate Order) (OrderCreateResult, error) {
	if !sameLogicalOrder(existing, candidate) {
		s.logger(ctx, "order.authorization.conflict", map[string]any{
			"authorizationId": candidate.Payment.AuthorizationID,
			"existingOrder":   existing.OrderNumber,
		})
		return OrderCreateResult{}, fmt.Errorf("%w: authorization %s already belongs to order %s", ErrOrderConflict, candidate.Payment.AuthorizationID, existing.OrderNumber)
	}
	s.logger(ctx, "order.create.converged", map[string]any{
		"authorizationId": candidate.Payment.AuthorizationID,
		"orderNumber":     existing.OrderNumber,
	})
	return OrderCreateResult{Order: existing, Created: false}, nil
}

func sameLogicalOrder(existing Order, candidate Order) bool {
	return strings.EqualFold(strings.TrimSpace(existing.Customer.Email), strings.TrimSpace(candidate.Customer.Email)) &&
		existing.Totals.Total.Equal(candidate.Totals.Total)
}

// ensureTax recomputes a missing tax from the region rate. Totals are fixed after creation so this only runs on create.
func (s *orderService) ensureTax(ctx context.Context, totals Totals, region string) Totals {
	if s.pricing == nil || !totals.Tax.IsZero() {
		return totals
	}
	rate := s.pricing.Rules().TaxRate(region)
	if rate.IsZero() {
		return totals
	}
	totals.Tax = totals.Subtotal.Add(totals.Shipping).Mul(rate)
	totals.Total = totals.Subtotal.Add(totals.Shipping).Add(totals.Tax)
	s.logger(ctx, "order.tax.recomputed", map[string]any{
		"region": domain.NormalizeRegion(region),
		"rate":   rate.String(),
		"tax":    totals.Tax.StringFixed(2),
	})
	return totals
}

func (s *orderService) GetByID(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByOrderNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByAuthorizationID(ctx context.Context, authorizationID string) (Order, error) {
	authorizationID = strings.TrimSpace(authorizationID)
	if authorizationID == "" {
		return Order{}, fmt.Errorf("%w: authorization id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByAuthorizationID(ctx, authorizationID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	filter = repositories.NormalizeOrderListFilter(filter)
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		return domain.Page[Order]{}, fmt.Errorf("%w: dateFrom must not be after dateTo", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Analytics(ctx context.Context, rangeKey string) (OrderAnalytics, error) {
	rangeKey = strings.ToLower(strings.TrimSpace(rangeKey))
	if rangeKey == "" {
		rangeKey = "30d"
	}
	window, ok := analyticsRanges[rangeKey]
	if !ok {
		return OrderAnalytics{}, fmt.Errorf("%w: range must be one of 7d, 30d, 90d, 1y", ErrOrderInvalidInput)
	}

	to := s.now()
	from := to.Add(-window)
	orders, err := s.orders.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return OrderAnalytics{}, s.mapRepositoryError(err)
	}

	analytics := OrderAnalytics{
		Range:             rangeKey,
		From:              from,
		To:                to,
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		StatusCounts:      make(map[OrderStatus]int, len(domain.OrderStatuses)),
	}
	for _, status := range domain.OrderStatuses {
		analytics.StatusCounts[status] = 0
	}

	revenueOrders := 0
	for _, order := range orders {
		analytics.TotalOrders++
		analytics.StatusCounts[order.Status]++
		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		net := order.Totals.Total.Sub(domain.FromMinorUnits(order.Payment.AmountRefunded))
		if !net.IsPositive() {
			continue
		}
		analytics.TotalRevenue = analytics.TotalRevenue.Add(net)
		revenueOrders++
	}
	if revenueOrders > 0 {
		analytics.AverageOrderValue = analytics.TotalRevenue.Div(decimal.NewFromInt(int64(revenueOrders))).Round(2)
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if len(orders) > recentOrdersLimit {
		orders = orders[:recentOrdersLimit]
	}
	analytics.RecentOrders = orders
	return analytics, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	now := s.now()
	var (
		order      Order
		prevStatus OrderStatus
		changed    bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prevStatus = order.Status
		changed, err = s.applyStatusTransition(&order, target, fulfillmentUpdate{
			trackingNumber: cmd.TrackingNumber,
			carrier:        cmd.Carrier,
			notes:          cmd.Notes,
		}, now)
		if err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		metadata := map[string]any{}
		if order.Fulfillment.TrackingNumber != "" {
			metadata["trackingNumber"] = order.Fulfillment.TrackingNumber
			metadata["carrier"] = order.Fulfillment.Carrier
		}
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			ActorID:        strings.TrimSpace(cmd.ActorID),
			OccurredAt:     now,
			Metadata:       metadata,
		})
	}

	return order, nil
}

// ApplyPaymentUpdate folds a provider outcome into the order. Re-applying an outcome already recorded is a no-op.
func (s *orderService) ApplyPaymentUpdate(ctx context.Context, cmd PaymentUpdateCommand) (PaymentUpdateResult, error) {
	authID := strings.TrimSpace(cmd.AuthorizationID)
	if authID == "" {
		return PaymentUpdateResult{}, fmt.Errorf("%w: authorization id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order       Order
		result      PaymentUpdateResult
		prevStatus  OrderStatus
		prevPayment domain.PaymentStatus
	)
	// The read and the write share one transaction so concurrent deliveries fold in sequence.
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.orders.FindByAuthorizationID(txCtx, authID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = loaded
		prevStatus = order.Status
		prevPayment = order.Payment.Status

		result, err = s.foldPaymentUpdate(txCtx, &order, cmd, now)
		if err != nil {
			return err
		}
		if !result.Changed {
			return nil
		}
		result.Skipped = ""
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return PaymentUpdateResult{}, err
	}
	if !result.Changed {
		result.Order = order
		return result, nil
	}

	metadata := map[string]any{
		"authorizationId": authID,
		"paymentStatus":   string(order.Payment.Status),
		"previousPayment": string(prevPayment),
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	if order.Payment.Dispute != nil {
		metadata["disputeId"] = order.Payment.Dispute.ID
	}
	if order.Payment.AmountRefunded > 0 {
		metadata["amountRefunded"] = order.Payment.AmountRefunded
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentUpdated,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	result.Order = order
	return result, nil
}

func (s *orderService) foldPaymentUpdate(ctx context.Context, order *Order, cmd PaymentUpdateCommand, now time.Time) (PaymentUpdateResult, error) {
	result := PaymentUpdateResult{}

	switch cmd.PaymentStatus {
	case "":
	case domain.PaymentStatusSucceeded:
		switch order.Payment.Status {
		case domain.PaymentStatusSucceeded:
			result.Skipped = "payment already succeeded"
		case domain.PaymentStatusRefunded:
			result.Skipped = "payment already refunded"
		default:
			order.Payment.Status = domain.PaymentStatusSucceeded
			result.Changed = true
			if order.Status == domain.OrderStatusPending {
				if _, err := s.applyStatusTransition(order, domain.OrderStatusProcessing, fulfillmentUpdate{}, now); err != nil {
					return result, err
				}
			}
		}
	case domain.PaymentStatusFailed:
		if order.Payment.Status == domain.PaymentStatusRefunded {
			result.Skipped = "payment already refunded"
			break
		}
		if order.Payment.Status != domain.PaymentStatusFailed {
			order.Payment.Status = domain.PaymentStatusFailed
			result.Changed = true
		}
		switch {
		case order.Status == domain.OrderStatusCancelled:
		case canTransition(order.Status, domain.OrderStatusCancelled):
			if _, err := s.applyStatusTransition(order, domain.OrderStatusCancelled, fulfillmentUpdate{}, now); err != nil {
				return result, err
			}
			result.Changed = true
		default:
			result.Skipped = fmt.Sprintf("order already %s; cancel skipped", order.Status)
			s.logger(ctx, "order.payment.cancel_skipped", map[string]any{
				"orderId": order.ID,
				"status":  string(order.Status),
			})
		}
		if !result.Changed && result.Skipped == "" {
			result.Skipped = "payment already failed"
		}
	case domain.PaymentStatusRefunded:
		if cmd.Refund == nil && cmd.RefundedTotal <= 0 {
			return result, fmt.Errorf("%w: refund update without refund details", ErrOrderInvalidInput)
		}
		result.Changed = recordRefund(&order.Payment, cmd.Refund, cmd.RefundedTotal)
		if order.Payment.Status != domain.PaymentStatusRefunded && order.Payment.FullyRefunded(order.Totals.MinorUnits()) {
			order.Payment.Status = domain.PaymentStatusRefunded
			result.Changed = true
		}
		if !result.Changed {
			result.Skipped = "refund already recorded"
		}
	default:
		return result, fmt.Errorf("%w: unsupported payment status %q", ErrOrderInvalidInput, cmd.PaymentStatus)
	}

	if cmd.Dispute != nil {
		if order.Payment.Dispute != nil && order.Payment.Dispute.ID == cmd.Dispute.ID {
			if result.Skipped == "" {
				result.Skipped = "dispute already recorded"
			}
		} else {
			dispute := *cmd.Dispute
			order.Payment.Dispute = &dispute
			order.Fulfillment.Notes = "Dispute created: " + dispute.Reason
			result.Changed = true
		}
	}
	return result, nil
}

// recordRefund appends or updates a refund by id and raises AmountRefunded to the larger of the
// succeeded refunds' sum and the provider reported cumulative total. It never lowers the total.
func recordRefund(payment *domain.PaymentInfo, refund *domain.RefundInfo, reportedTotal int64) bool {
	changed := false
	if refund != nil && strings.TrimSpace(refund.ID) != "" {
		idx := -1
		for i := range payment.Refunds {
			if payment.Refunds[i].ID == refund.ID {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			payment.Refunds = append(payment.Refunds, *refund)
			changed = true
		case payment.Refunds[idx].Status != refund.Status || payment.Refunds[idx].Amount != refund.Amount:
			recordedAt := payment.Refunds[idx].RefundedAt
			payment.Refunds[idx] = *refund
			if !recordedAt.IsZero() {
				payment.Refunds[idx].RefundedAt = recordedAt
			}
			changed = true
		}
	}

	var succeeded int64
	for _, rf := range payment.Refunds {
		if rf.Status == refundStatusSucceeded {
			succeeded += rf.Amount
		}
	}
	total := succeeded
	if reportedTotal > total {
		total = reportedTotal
	}
	if total > payment.AmountRefunded {
		payment.AmountRefunded = total
		changed = true
	}
	return changed
}

type fulfillmentUpdate struct {
	trackingNumber string
	carrier        string
	notes          string
}

// applyStatusTransition is the only place order status changes. Re-applying the current status keeps
// every timestamp and only fills tracking data that is still missing.
func (s *orderService) applyStatusTransition(order *Order, target OrderStatus, update fulfillmentUpdate, now time.Time) (bool, error) {
	current := order.Status
	if notes := strings.TrimSpace(update.notes); notes != "" {
		order.Fulfillment.Notes = notes
	}

	if current == target {
		if target == domain.OrderStatusShipped {
			fillTracking(&order.Fulfillment, update, false)
		}
		order.UpdatedAt = now
		return false, nil
	}

	if !canTransition(current, target) {
		return false, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	updateFulfillment(&order.Fulfillment, target, update, now)
	return true, nil
}

func updateFulfillment(f *domain.Fulfillment, status OrderStatus, update fulfillmentUpdate, now time.Time) {
	switch status {
	case domain.OrderStatusPrinted:
		if f.PrintedAt == nil {
			f.PrintedAt = valuePtr(now)
		}
	case domain.OrderStatusShipped:
		if f.ShippedAt == nil {
			f.ShippedAt = valuePtr(now)
		}
		fillTracking(f, update, true)
	case domain.OrderStatusDelivered:
		if f.DeliveredAt == nil {
			f.DeliveredAt = valuePtr(now)
		}
	}
}

func fillTracking(f *domain.Fulfillment, update fulfillmentUpdate, overwrite bool) {
	if tracking := strings.TrimSpace(update.trackingNumber); tracking != "" && (overwrite || f.TrackingNumber == "") {
		f.TrackingNumber = tracking
	}
	if carrier := strings.TrimSpace(update.carrier); carrier != "" && (overwrite || f.Carrier == "") {
		f.Carrier = carrier
	}
	if f.Carrier == "" {
		f.Carrier = defaultCarrier
	}
	if f.ShippedAt != nil && (overwrite || f.EstimatedDelivery == nil) {
		f.EstimatedDelivery = valuePtr(f.ShippedAt.AddDate(0, 0, CarrierLeadDays(f.Carrier)))
	}
}

// CarrierLeadDays returns the delivery estimate in days for a carrier name.
func CarrierLeadDays(carrier string) int {
	if days, ok := carrierLeadDays[strings.ToLower(strings.TrimSpace(carrier))]; ok {
		return days
	}
	return defaultCarrierLeadDays
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrOrderUnavailable, err)
		}
	}

	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	copied := *addr
	return &copied
}

func valuePtr[T any](v T) *T {
	return &v
}

func canTransition(current, target OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}
