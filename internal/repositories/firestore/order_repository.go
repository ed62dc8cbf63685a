package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/casacustomz/api/internal/domain"
	pfirestore "github.com/casacustomz/api/internal/platform/firestore"
	"github.com/casacustomz/api/internal/repositories"
)

const (
	ordersCollection              = "orders"
	orderNumberGuardCollection    = "order_numbers"
	orderAuthorizationsCollection = "order_authorizations"
	maxOrderStatusFilterValues    = 30
)

type orderDocument struct {
	OrderNumber         string              `firestore:"orderNumber"`
	Customer            customerDocument    `firestore:"customer"`
	ShippingAddress     addressDocument     `firestore:"shippingAddress"`
	BillingAddress      *addressDocument    `firestore:"billingAddress,omitempty"`
	Items               []lineItemDocument  `firestore:"items"`
	Totals              totalsDocument      `firestore:"totals"`
	Status              string              `firestore:"status"`
	Payment             paymentDocument     `firestore:"payment"`
	Fulfillment         fulfillmentDocument `firestore:"fulfillment"`
	SpecialInstructions string              `firestore:"specialInstructions,omitempty"`
	MarketingOptIn      bool                `firestore:"marketingOptIn"`
	Source              string              `firestore:"source"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
}

type customerDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Email     string `firestore:"email"`
	Phone     string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	Region     string `firestore:"region"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type lineItemDocument struct {
	Device    string `firestore:"device"`
	CaseType  string `firestore:"caseType"`
	Text      string `firestore:"text"`
	Color     string `firestore:"color,omitempty"`
	Font      string `firestore:"font,omitempty"`
	FontSize  int    `firestore:"fontSize,omitempty"`
	Logo      bool   `firestore:"logo"`
	UnitPrice string `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

// Money is stored as decimal strings so values survive the round trip without float drift.
type totalsDocument struct {
	Subtotal   string `firestore:"subtotal"`
	Shipping   string `firestore:"shipping"`
	Tax        string `firestore:"tax"`
	Total      string `firestore:"total"`
	TotalCents int64  `firestore:"totalCents"`
}

type paymentDocument struct {
	AuthorizationID string           `firestore:"authorizationId"`
	Method          string           `firestore:"method,omitempty"`
	Status          string           `firestore:"status"`
	Dispute         *disputeDocument `firestore:"dispute,omitempty"`
	Refunds         []refundDocument `firestore:"refunds,omitempty"`
	AmountRefunded  int64            `firestore:"amountRefunded,omitempty"`
}

type disputeDocument struct {
	ID       string    `firestore:"id"`
	Reason   string    `firestore:"reason,omitempty"`
	Status   string    `firestore:"status"`
	Amount   int64     `firestore:"amount"`
	OpenedAt time.Time `firestore:"openedAt"`
}

type refundDocument struct {
	ID         string    `firestore:"id"`
	Status     string    `firestore:"status"`
	Amount     int64     `firestore:"amount"`
	Reason     string    `firestore:"reason,omitempty"`
	RefundedAt time.Time `firestore:"refundedAt"`
}

type fulfillmentDocument struct {
	TrackingNumber    string     `firestore:"trackingNumber,omitempty"`
	Carrier           string     `firestore:"carrier,omitempty"`
	PrintedAt         *time.Time `firestore:"printedAt,omitempty"`
	ShippedAt         *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	Notes             string     `firestore:"notes,omitempty"`
}

// orderGuardDocument reserves a unique key and points back at the owning order.
type orderGuardDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore. Uniqueness of
// order numbers and payment authorizations is enforced with guard documents created in the
// same transaction as the order.
type OrderRepository struct {
	provider       *pfirestore.Provider
	orders         *pfirestore.BaseRepository[orderDocument]
	numbers        *pfirestore.BaseRepository[orderGuardDocument]
	authorizations *pfirestore.BaseRepository[orderGuardDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:       provider,
		orders:         pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		numbers:        pfirestore.NewBaseRepository[orderGuardDocument](provider, orderNumberGuardCollection, nil, nil),
		authorizations: pfirestore.NewBaseRepository[orderGuardDocument](provider, orderAuthorizationsCollection, nil, nil),
	}, nil
}

// Insert creates the order together with its order number and authorization guards. A guard that
// already exists yields a *repositories.ConstraintError naming the violated rule.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	const op = "orders.insert"
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return pfirestore.WrapError(op, errors.New("order id is required"))
	}
	number := strings.TrimSpace(order.OrderNumber)
	authID := strings.TrimSpace(order.Payment.AuthorizationID)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		numberRef, err := r.numbers.DocumentRef(ctx, number)
		if err != nil {
			return err
		}
		var authRef *firestore.DocumentRef
		if authID != "" {
			authRef, err = r.authorizations.DocumentRef(ctx, authID)
			if err != nil {
				return err
			}
		}

		// Reads must precede writes inside a Firestore transaction.
		if authRef != nil {
			exists, err := guardExists(tx, authRef)
			if err != nil {
				return err
			}
			if exists {
				return repositories.NewConstraintError(op, repositories.ConstraintAuthorization, authID, nil)
			}
		}
		exists, err := guardExists(tx, numberRef)
		if err != nil {
			return err
		}
		if exists {
			return repositories.NewConstraintError(op, repositories.ConstraintOrderNumber, number, nil)
		}

		guard := orderGuardDocument{OrderID: orderID, CreatedAt: order.CreatedAt.UTC()}
		if authRef != nil {
			if err := tx.Create(authRef, guard); err != nil {
				return err
			}
		}
		if err := tx.Create(numberRef, guard); err != nil {
			return err
		}
		return tx.Create(orderRef, encodeOrder(order))
	})
}

// Update replaces the stored order. Order number and authorization are immutable once written.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	const op = "orders.update"
	orderID := strings.TrimSpace(order.ID)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError(op, err)
		}
		var existing orderDocument
		if err := snapshot.DataTo(&existing); err != nil {
			return pfirestore.WrapError(op, err)
		}
		if existing.OrderNumber != order.OrderNumber || existing.Payment.AuthorizationID != order.Payment.AuthorizationID {
			return pfirestore.WrapError(op, status.Error(codes.FailedPrecondition, "order identity fields are immutable"))
		}
		return tx.Set(ref, encodeOrder(order))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	guard, err := r.numbers.Get(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, guard.Data.OrderID)
}

func (r *OrderRepository) FindByAuthorizationID(ctx context.Context, authorizationID string) (domain.Order, error) {
	guard, err := r.authorizations.Get(ctx, strings.TrimSpace(authorizationID))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, guard.Data.OrderID)
}

func (r *OrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	_, err := r.numbers.Get(ctx, strings.TrimSpace(orderNumber))
	if err == nil {
		return true, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return false, nil
	}
	return false, err
}

// List narrows by status and creation date in Firestore, then applies search, sorting and paging
// in process since Firestore has no substring matching.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	filter = repositories.NormalizeOrderListFilter(filter)
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if n := len(filter.Status); n > 0 && n <= maxOrderStatusFilterValues {
			statuses := make([]string, 0, n)
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		return q
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	orders, err := decodeOrders(docs)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	return repositories.PaginateOrders(orders, filter), nil
}

func (r *OrderRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", ">=", from.UTC()).
			Where("createdAt", "<=", to.UTC()).
			OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs)
}

func guardExists(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	_, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.OK:
		return true, nil
	case codes.NotFound:
		return false, nil
	default:
		return false, err
	}
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		Customer: customerDocument{
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Email:     order.Customer.Email,
			Phone:     order.Customer.Phone,
		},
		ShippingAddress: encodeAddress(order.ShippingAddress),
		Totals: totalsDocument{
			Subtotal:   order.Totals.Subtotal.StringFixed(2),
			Shipping:   order.Totals.Shipping.StringFixed(2),
			Tax:        order.Totals.Tax.StringFixed(2),
			Total:      order.Totals.Total.StringFixed(2),
			TotalCents: order.Totals.MinorUnits(),
		},
		Status: string(order.Status),
		Payment: paymentDocument{
			AuthorizationID: order.Payment.AuthorizationID,
			Method:          order.Payment.Method,
			Status:          string(order.Payment.Status),
		},
		Fulfillment: fulfillmentDocument{
			TrackingNumber:    order.Fulfillment.TrackingNumber,
			Carrier:           order.Fulfillment.Carrier,
			PrintedAt:         utcPtr(order.Fulfillment.PrintedAt),
			ShippedAt:         utcPtr(order.Fulfillment.ShippedAt),
			DeliveredAt:       utcPtr(order.Fulfillment.DeliveredAt),
			EstimatedDelivery: utcPtr(order.Fulfillment.EstimatedDelivery),
			Notes:             order.Fulfillment.Notes,
		},
		SpecialInstructions: order.SpecialInstructions,
		MarketingOptIn:      order.MarketingOptIn,
		Source:              string(order.Source),
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
	}
	if order.BillingAddress != nil {
		billing := encodeAddress(*order.BillingAddress)
		doc.BillingAddress = &billing
	}
	doc.Items = make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			Device:    item.Device,
			CaseType:  item.CaseType,
			Text:      item.Customization.Text,
			Color:     item.Customization.Color,
			Font:      item.Customization.Font,
			FontSize:  item.Customization.FontSize,
			Logo:      item.Customization.Logo,
			UnitPrice: item.UnitPrice.String(),
			Quantity:  item.Quantity,
		})
	}
	if d := order.Payment.Dispute; d != nil {
		doc.Payment.Dispute = &disputeDocument{ID: d.ID, Reason: d.Reason, Status: d.Status, Amount: d.Amount, OpenedAt: d.OpenedAt.UTC()}
	}
	for _, rf := range order.Payment.Refunds {
		doc.Payment.Refunds = append(doc.Payment.Refunds, refundDocument{ID: rf.ID, Status: rf.Status, Amount: rf.Amount, Reason: rf.Reason, RefundedAt: rf.RefundedAt.UTC()})
	}
	doc.Payment.AmountRefunded = order.Payment.AmountRefunded
	return doc
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	totals, err := decodeTotals(doc.Totals)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		Customer: domain.Customer{
			FirstName: doc.Customer.FirstName,
			LastName:  doc.Customer.LastName,
			Email:     doc.Customer.Email,
			Phone:     doc.Customer.Phone,
		},
		ShippingAddress: decodeAddress(doc.ShippingAddress),
		Totals:          totals,
		Status:          domain.OrderStatus(doc.Status),
		Payment: domain.PaymentInfo{
			AuthorizationID: doc.Payment.AuthorizationID,
			Method:          doc.Payment.Method,
			Status:          domain.PaymentStatus(doc.Payment.Status),
		},
		Fulfillment: domain.Fulfillment{
			TrackingNumber:    doc.Fulfillment.TrackingNumber,
			Carrier:           doc.Fulfillment.Carrier,
			PrintedAt:         utcPtr(doc.Fulfillment.PrintedAt),
			ShippedAt:         utcPtr(doc.Fulfillment.ShippedAt),
			DeliveredAt:       utcPtr(doc.Fulfillment.DeliveredAt),
			EstimatedDelivery: utcPtr(doc.Fulfillment.EstimatedDelivery),
			Notes:             doc.Fulfillment.Notes,
		},
		SpecialInstructions: doc.SpecialInstructions,
		MarketingOptIn:      doc.MarketingOptIn,
		Source:              domain.OrderSource(doc.Source),
		CreatedAt:           doc.CreatedAt.UTC(),
		UpdatedAt:           doc.UpdatedAt.UTC(),
	}
	if doc.BillingAddress != nil {
		billing := decodeAddress(*doc.BillingAddress)
		order.BillingAddress = &billing
	}
	order.Items = make([]domain.LineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.decode", err)
		}
		order.Items = append(order.Items, domain.LineItem{
			Device:   item.Device,
			CaseType: item.CaseType,
			Customization: domain.Customization{
				Text:     item.Text,
				Color:    item.Color,
				Font:     item.Font,
				FontSize: item.FontSize,
				Logo:     item.Logo,
			},
			UnitPrice: price,
			Quantity:  item.Quantity,
		})
	}
	if d := doc.Payment.Dispute; d != nil {
		order.Payment.Dispute = &domain.Dispute{ID: d.ID, Reason: d.Reason, Status: d.Status, Amount: d.Amount, OpenedAt: d.OpenedAt.UTC()}
	}
	for _, rf := range doc.Payment.Refunds {
		order.Payment.Refunds = append(order.Payment.Refunds, domain.RefundInfo{ID: rf.ID, Status: rf.Status, Amount: rf.Amount, Reason: rf.Reason, RefundedAt: rf.RefundedAt.UTC()})
	}
	order.Payment.AmountRefunded = doc.Payment.AmountRefunded
	return order, nil
}

func decodeTotals(doc totalsDocument) (domain.Totals, error) {
	var totals domain.Totals
	for _, field := range []struct {
		raw    string
		target *decimal.Decimal
	}{
		{doc.Subtotal, &totals.Subtotal},
		{doc.Shipping, &totals.Shipping},
		{doc.Tax, &totals.Tax},
		{doc.Total, &totals.Total},
	} {
		value, err := decimal.NewFromString(field.raw)
		if err != nil {
			return domain.Totals{}, err
		}
		*field.target = value
	}
	return totals, nil
}

func encodeAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Street:     addr.Street,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func decodeAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Street:     doc.Street,
		City:       doc.City,
		Region:     doc.Region,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	value := ts.UTC()
	return &value
}
