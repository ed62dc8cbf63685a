package repositories

import (
	"sort"
	"strings"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/platform/pagination"
)

const (
	DefaultOrderPageSize = pagination.DefaultLimit
	MaxOrderPageSize     = pagination.DefaultMaxLimit
)

// NormalizeOrderListFilter fills defaults and clamps paging values.
func NormalizeOrderListFilter(filter OrderListFilter) OrderListFilter {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultOrderPageSize
	}
	if filter.Limit > MaxOrderPageSize {
		filter.Limit = MaxOrderPageSize
	}
	switch filter.SortBy {
	case OrderSortCreatedAt, OrderSortTotal, OrderSortOrderNumber, OrderSortStatus:
	default:
		filter.SortBy = OrderSortCreatedAt
	}
	if filter.SortOrder != domain.SortAsc {
		filter.SortOrder = domain.SortDesc
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return filter
}

// MatchesOrder reports whether the order satisfies status, date range and search filters.
func MatchesOrder(order domain.Order, filter OrderListFilter) bool {
	if len(filter.Status) > 0 {
		matched := false
		for _, status := range filter.Status {
			if order.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if !inRange(order.CreatedAt, filter.DateRange) {
		return false
	}
	if filter.Search == "" {
		return true
	}
	needle := strings.ToLower(filter.Search)
	haystack := []string{
		order.OrderNumber,
		order.Customer.Email,
		order.Customer.FirstName,
		order.Customer.LastName,
		order.Customer.FullName(),
		order.Payment.AuthorizationID,
		order.Fulfillment.TrackingNumber,
	}
	for _, candidate := range haystack {
		if strings.Contains(strings.ToLower(candidate), needle) {
			return true
		}
	}
	return false
}

func inRange(ts time.Time, rng domain.RangeQuery[time.Time]) bool {
	if rng.From != nil && ts.Before(*rng.From) {
		return false
	}
	if rng.To != nil && ts.After(*rng.To) {
		return false
	}
	return true
}

// PaginateOrders filters, sorts and slices an in-memory order set.
func PaginateOrders(orders []domain.Order, filter OrderListFilter) domain.Page[domain.Order] {
	filter = NormalizeOrderListFilter(filter)

	matched := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		if MatchesOrder(order, filter) {
			matched = append(matched, order)
		}
	}
	SortOrders(matched, filter.SortBy, filter.SortOrder)

	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	return domain.Page[domain.Order]{
		Items:      matched[start:end],
		Page:       filter.Page,
		Limit:      filter.Limit,
		Total:      total,
		TotalPages: pagination.TotalPages(total, filter.Limit),
	}
}

// SortOrders orders the slice in place. Ties fall back to order number for stable output.
func SortOrders(orders []domain.Order, field OrderSortField, direction domain.SortOrder) {
	less := func(a, b domain.Order) int {
		switch field {
		case OrderSortTotal:
			return a.Totals.Total.Cmp(b.Totals.Total)
		case OrderSortOrderNumber:
			return strings.Compare(a.OrderNumber, b.OrderNumber)
		case OrderSortStatus:
			return strings.Compare(string(a.Status), string(b.Status))
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		cmp := less(orders[i], orders[j])
		if cmp == 0 {
			cmp = strings.Compare(orders[i].OrderNumber, orders[j].OrderNumber)
		}
		if direction == domain.SortAsc {
			return cmp < 0
		}
		return cmp > 0
	})
}
