package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
)

// OrderRepository keeps orders in process memory. Uniqueness of order numbers and payment
// authorizations is enforced under a single mutex.
type OrderRepository struct {
	mu              sync.RWMutex
	byID            map[string]domain.Order
	byNumber        map[string]string
	byAuthorization map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byID:            make(map[string]domain.Order),
		byNumber:        make(map[string]string),
		byAuthorization: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	if authID := strings.TrimSpace(order.Payment.AuthorizationID); authID != "" {
		if _, exists := r.byAuthorization[authID]; exists {
			return repositories.NewConstraintError("orders.insert", repositories.ConstraintAuthorization, authID, nil)
		}
	}
	if _, exists := r.byNumber[order.OrderNumber]; exists {
		return repositories.NewConstraintError("orders.insert", repositories.ConstraintOrderNumber, order.OrderNumber, nil)
	}

	r.byID[order.ID] = cloneOrder(order)
	r.byNumber[order.OrderNumber] = order.ID
	if authID := strings.TrimSpace(order.Payment.AuthorizationID); authID != "" {
		r.byAuthorization[authID] = order.ID
	}
	return nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[order.ID]
	if !ok {
		return notFound("orders.update", "order %s not found", order.ID)
	}
	if existing.OrderNumber != order.OrderNumber || existing.Payment.AuthorizationID != order.Payment.AuthorizationID {
		return conflict("orders.update", "order %s identity fields are immutable", order.ID)
	}
	r.byID[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.byID[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find_by_id", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) FindByOrderNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[orderNumber]
	if !ok {
		return domain.Order{}, notFound("orders.find_by_number", "order number %s not found", orderNumber)
	}
	return cloneOrder(r.byID[id]), nil
}

func (r *OrderRepository) FindByAuthorizationID(_ context.Context, authorizationID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byAuthorization[authorizationID]
	if !ok {
		return domain.Order{}, notFound("orders.find_by_authorization", "authorization %s not linked", authorizationID)
	}
	return cloneOrder(r.byID[id]), nil
}

func (r *OrderRepository) OrderNumberExists(_ context.Context, orderNumber string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byNumber[orderNumber]
	return ok, nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	return repositories.PaginateOrders(r.snapshot(), filter), nil
}

func (r *OrderRepository) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	var result []domain.Order
	for _, order := range r.snapshot() {
		if order.CreatedAt.Before(from) || order.CreatedAt.After(to) {
			continue
		}
		result = append(result, order)
	}
	repositories.SortOrders(result, repositories.OrderSortCreatedAt, domain.SortDesc)
	return result, nil
}

func (r *OrderRepository) snapshot() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]domain.Order, 0, len(r.byID))
	for _, order := range r.byID {
		orders = append(orders, cloneOrder(order))
	}
	return orders
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = append([]domain.LineItem(nil), order.Items...)
	if order.BillingAddress != nil {
		billing := *order.BillingAddress
		clone.BillingAddress = &billing
	}
	if order.Payment.Dispute != nil {
		dispute := *order.Payment.Dispute
		clone.Payment.Dispute = &dispute
	}
	clone.Payment.Refunds = append([]domain.RefundInfo(nil), order.Payment.Refunds...)
	clone.Fulfillment.PrintedAt = cloneTime(order.Fulfillment.PrintedAt)
	clone.Fulfillment.ShippedAt = cloneTime(order.Fulfillment.ShippedAt)
	clone.Fulfillment.DeliveredAt = cloneTime(order.Fulfillment.DeliveredAt)
	clone.Fulfillment.EstimatedDelivery = cloneTime(order.Fulfillment.EstimatedDelivery)
	return clone
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	value := *ts
	return &value
}
