package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
)

// Payment metadata keys written on every authorization.
const (
	MetadataCustomerEmail  = "customerEmail"
	MetadataCustomerName   = "customerName"
	MetadataItemCount      = "itemCount"
	MetadataCustomText     = "customText"
	MetadataDevice         = "device"
	MetadataRegion         = "state"
	MetadataOrderTotal     = "orderTotal"
	MetadataSnapshotChunks = "orderSnapshotChunks"
	metadataSnapshotPrefix = "orderSnapshot"

	snapshotVersion   = 1
	snapshotChunkSize = 500
	// The provider accepts 50 metadata keys; the fixed keys above use the rest.
	maxSnapshotChunks = 40
)

var (
	errSnapshotTooLarge = errors.New("order snapshot: too large for payment metadata")
	errSnapshotMissing  = errors.New("order snapshot: not present")
)

type snapshotCustomer struct {
	FirstName string `json:"f"`
	LastName  string `json:"l"`
	Email     string `json:"e"`
	Phone     string `json:"p,omitempty"`
}

type snapshotAddress struct {
	Street     string `json:"s"`
	City       string `json:"c"`
	Region     string `json:"r"`
	PostalCode string `json:"z"`
	Country    string `json:"n,omitempty"`
}

type snapshotItem struct {
	Device   string `json:"d"`
	CaseType string `json:"k,omitempty"`
	Text     string `json:"t"`
	Color    string `json:"c"`
	Font     string `json:"f,omitempty"`
	FontSize int    `json:"s,omitempty"`
	Logo     bool   `json:"g,omitempty"`
	Price    string `json:"p"`
	Quantity int    `json:"q"`
}

type snapshotTotals struct {
	Subtotal string `json:"s"`
	Shipping string `json:"h"`
	Tax      string `json:"x"`
	Total    string `json:"t"`
}

type orderSnapshot struct {
	Version             int              `json:"v"`
	Customer            snapshotCustomer `json:"c"`
	Shipping            snapshotAddress  `json:"a"`
	Billing             *snapshotAddress `json:"b,omitempty"`
	Items               []snapshotItem   `json:"i"`
	Totals              snapshotTotals   `json:"t"`
	SpecialInstructions string           `json:"n,omitempty"`
	MarketingOptIn      bool             `json:"m,omitempty"`
}

func newOrderSnapshot(prepared preparedCheckout, totals Totals, marketingOptIn bool) orderSnapshot {
	rounded := totals.Rounded()
	snap := orderSnapshot{
		Version: snapshotVersion,
		Customer: snapshotCustomer{
			FirstName: prepared.customer.FirstName,
			LastName:  prepared.customer.LastName,
			Email:     prepared.customer.Email,
			Phone:     prepared.customer.Phone,
		},
		Shipping: toSnapshotAddress(prepared.shipping),
		Totals: snapshotTotals{
			Subtotal: rounded.Subtotal.StringFixed(2),
			Shipping: rounded.Shipping.StringFixed(2),
			Tax:      rounded.Tax.StringFixed(2),
			Total:    rounded.Total.StringFixed(2),
		},
		SpecialInstructions: prepared.specialInstructions,
		MarketingOptIn:      marketingOptIn,
	}
	if prepared.billing != nil {
		billing := toSnapshotAddress(*prepared.billing)
		snap.Billing = &billing
	}
	for _, item := range prepared.items {
		snap.Items = append(snap.Items, snapshotItem{
			Device:   item.Device,
			CaseType: item.CaseType,
			Text:     item.Customization.Text,
			Color:    item.Customization.Color,
			Font:     item.Customization.Font,
			FontSize: item.Customization.FontSize,
			Logo:     item.Customization.Logo,
			Price:    item.UnitPrice.String(),
			Quantity: item.Quantity,
		})
	}
	return snap
}

func toSnapshotAddress(addr Address) snapshotAddress {
	return snapshotAddress{
		Street:     addr.Street,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func fromSnapshotAddress(addr snapshotAddress) Address {
	return Address{
		Street:     addr.Street,
		City:       addr.City,
		Region:     addr.Region,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

// encodeSnapshotMetadata serialises the snapshot into metadata chunks of at most 500 characters.
func encodeSnapshotMetadata(snap orderSnapshot) (map[string]string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("order snapshot: encode: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)

	chunks := (len(encoded) + snapshotChunkSize - 1) / snapshotChunkSize
	if chunks > maxSnapshotChunks {
		return nil, fmt.Errorf("%w: %d chunks", errSnapshotTooLarge, chunks)
	}

	metadata := make(map[string]string, chunks+1)
	for i := 0; i < chunks; i++ {
		start := i * snapshotChunkSize
		end := min(start+snapshotChunkSize, len(encoded))
		metadata[metadataSnapshotPrefix+strconv.Itoa(i)] = encoded[start:end]
	}
	metadata[MetadataSnapshotChunks] = strconv.Itoa(chunks)
	return metadata, nil
}

// decodeSnapshotMetadata reassembles a snapshot written by encodeSnapshotMetadata.
func decodeSnapshotMetadata(metadata map[string]string) (orderSnapshot, error) {
	countRaw, ok := metadata[MetadataSnapshotChunks]
	if !ok {
		return orderSnapshot{}, errSnapshotMissing
	}
	count, err := strconv.Atoi(strings.TrimSpace(countRaw))
	if err != nil || count < 1 || count > maxSnapshotChunks {
		return orderSnapshot{}, fmt.Errorf("order snapshot: invalid chunk count %q", countRaw)
	}

	var builder strings.Builder
	for i := 0; i < count; i++ {
		chunk, ok := metadata[metadataSnapshotPrefix+strconv.Itoa(i)]
		if !ok {
			return orderSnapshot{}, fmt.Errorf("order snapshot: chunk %d missing", i)
		}
		builder.WriteString(chunk)
	}

	raw, err := base64.RawURLEncoding.DecodeString(builder.String())
	if err != nil {
		return orderSnapshot{}, fmt.Errorf("order snapshot: decode: %w", err)
	}
	var snap orderSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return orderSnapshot{}, fmt.Errorf("order snapshot: unmarshal: %w", err)
	}
	if snap.Version != snapshotVersion {
		return orderSnapshot{}, fmt.Errorf("order snapshot: unsupported version %d", snap.Version)
	}
	if len(snap.Items) == 0 {
		return orderSnapshot{}, errors.New("order snapshot: no items")
	}
	return snap, nil
}

// createCommand converts the snapshot back into an order creation command.
func (snap orderSnapshot) createCommand(authorizationID string, source domain.OrderSource) (CreateOrderCommand, error) {
	cmd := CreateOrderCommand{
		Customer: Customer{
			FirstName: snap.Customer.FirstName,
			LastName:  snap.Customer.LastName,
			Email:     snap.Customer.Email,
			Phone:     snap.Customer.Phone,
		},
		ShippingAddress:     fromSnapshotAddress(snap.Shipping),
		AuthorizationID:     authorizationID,
		PaymentStatus:       domain.PaymentStatusSucceeded,
		Status:              domain.OrderStatusProcessing,
		SpecialInstructions: snap.SpecialInstructions,
		MarketingOptIn:      snap.MarketingOptIn,
		Source:              source,
	}
	if snap.Billing != nil {
		billing := fromSnapshotAddress(*snap.Billing)
		cmd.BillingAddress = &billing
	}

	for i, item := range snap.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return CreateOrderCommand{}, fmt.Errorf("order snapshot: item %d price: %w", i, err)
		}
		cmd.Items = append(cmd.Items, LineItem{
			Device:   item.Device,
			CaseType: item.CaseType,
			Customization: Customization{
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

	values := []*decimal.Decimal{&cmd.Totals.Subtotal, &cmd.Totals.Shipping, &cmd.Totals.Tax, &cmd.Totals.Total}
	raws := []string{snap.Totals.Subtotal, snap.Totals.Shipping, snap.Totals.Tax, snap.Totals.Total}
	for i, raw := range raws {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return CreateOrderCommand{}, fmt.Errorf("order snapshot: totals: %w", err)
		}
		*values[i] = value
	}
	if !cmd.Totals.Consistent() {
		return CreateOrderCommand{}, errors.New("order snapshot: totals do not add up")
	}
	return cmd, nil
}

// paymentMetadata builds the summary fields used for manual reconciliation in the provider dashboard.
func paymentMetadata(prepared preparedCheckout, totals Totals) map[string]string {
	metadata := map[string]string{
		MetadataCustomerEmail: prepared.customer.Email,
		MetadataCustomerName:  prepared.customer.FullName(),
		MetadataRegion:        prepared.shipping.Region,
		MetadataOrderTotal:    totals.Rounded().Total.StringFixed(2),
	}
	count := 0
	for _, item := range prepared.items {
		count += item.Quantity
	}
	metadata[MetadataItemCount] = strconv.Itoa(count)
	if len(prepared.items) > 0 {
		metadata[MetadataCustomText] = prepared.items[0].Customization.Text
		metadata[MetadataDevice] = prepared.items[0].Device
	}
	return metadata
}
