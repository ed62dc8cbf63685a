package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/repositories"
	"github.com/casacustomz/api/internal/repositories/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type stubAllocator struct {
	mu      sync.Mutex
	numbers []string
	calls   int
	err     error
}

func (s *stubAllocator) Generate(time.Time) string {
	return "LICC0000000000"
}

func (s *stubAllocator) Allocate(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	n := s.numbers[s.calls%len(s.numbers)]
	s.calls++
	return n, nil
}

type orderFixture struct {
	repo    *memory.OrderRepository
	clock   *testClock
	events  *captureOrderEvents
	svc     OrderService
	logs    *logCapture
	pricing *RulePricingEngine
}

type logCapture struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (l *logCapture) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.fields = append(l.fields, fields)
}

func (l *logCapture) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func newOrderFixture(t *testing.T, allocator OrderNumberAllocator) *orderFixture {
	t.Helper()
	repo := memory.NewOrderRepository()
	clock := newTestClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	events := &captureOrderEvents{}
	logs := &logCapture{}
	pricing, err := NewPricingEngine(PricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	if allocator == nil {
		allocator, err = NewOrderNumberAllocator(OrderNumberAllocatorDeps{Orders: repo, Clock: clock.Now})
		if err != nil {
			t.Fatalf("NewOrderNumberAllocator: %v", err)
		}
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  repo,
		Numbers: allocator,
		Pricing: pricing,
		Clock:   clock.Now,
		Events:  events,
		Logger:  logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return &orderFixture{repo: repo, clock: clock, events: events, svc: svc, logs: logs, pricing: pricing}
}

func sampleCreateCommand(authID string) CreateOrderCommand {
	return CreateOrderCommand{
		Customer:        Customer{FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com", Phone: "5551234567"},
		ShippingAddress: Address{Street: "123 Main St", City: "Austin", Region: "TX", PostalCode: "73301", Country: "United States"},
		Items: []LineItem{{
			Device:        "iPhone 15",
			CaseType:      "CLASSIC",
			Customization: Customization{Text: "ANA", Color: "Black", Font: "Pecita", FontSize: 24},
			UnitPrice:     dec("10"),
			Quantity:      2,
		}},
		Totals:          Totals{Subtotal: dec("20"), Shipping: dec("5"), Tax: dec("1.75"), Total: dec("26.75")},
		AuthorizationID: authID,
	}
}

func TestOrderServiceCreatePersistsProcessingOrder(t *testing.T) {
	f := newOrderFixture(t, nil)

	result, err := f.svc.Create(context.Background(), sampleCreateCommand("pi_1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !result.Created {
		t.Fatal("expected order to be created")
	}
	order := result.Order
	if order.Status != domain.OrderStatusProcessing || order.Payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("unexpected status %s payment %s", order.Status, order.Payment.Status)
	}
	if order.Payment.Method != "card" || order.Source != domain.OrderSourceCheckout {
		t.Fatalf("unexpected defaults %+v %s", order.Payment, order.Source)
	}
	if len(order.OrderNumber) != 14 || order.OrderNumber[:10] != "LICC240501" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if !order.Totals.Total.Equal(dec("26.75")) || !order.Totals.Consistent() {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	stored, err := f.repo.FindByAuthorizationID(context.Background(), "pi_1")
	if err != nil || stored.ID != order.ID {
		t.Fatalf("expected stored order, got %+v err %v", stored, err)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("expected order.created event, got %v", got)
	}
}

func TestOrderServiceCreateConvergesOnSameAuthorization(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, sampleCreateCommand("pi_dup"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := f.svc.Create(ctx, sampleCreateCommand("pi_dup"))
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.Created {
		t.Fatal("expected second create to converge")
	}
	if second.Order.ID != first.Order.ID || second.Order.OrderNumber != first.Order.OrderNumber {
		t.Fatalf("expected converged order %s, got %s", first.Order.ID, second.Order.ID)
	}
	page, err := f.repo.List(ctx, repositories.OrderListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected one stored order, got %d", page.Total)
	}
}

func TestOrderServiceCreateRejectsDifferentOrderForAuthorization(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, sampleCreateCommand("pi_x")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := sampleCreateCommand("pi_x")
	other.Customer.Email = "someone@example.com"
	if _, err := f.svc.Create(ctx, other); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceConcurrentCreateSameAuthorization(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Create(ctx, sampleCreateCommand("pi_race"))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.Created {
				created++
			}
			ids[result.Order.ID] = struct{}{}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
	if len(ids) != 1 {
		t.Fatalf("expected every caller to observe the same order, got %d ids", len(ids))
	}
}

func TestOrderServiceConcurrentOrderNumbersUnique(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := sampleCreateCommand(fmt.Sprintf("pi_%03d", i))
			cmd.Customer.Email = fmt.Sprintf("c%d@example.com", i)
			if _, err := f.svc.Create(ctx, cmd); err != nil {
				t.Errorf("Create %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	page, err := f.repo.List(ctx, repositories.OrderListFilter{Limit: 100})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != workers {
		t.Fatalf("expected %d orders, got %d", workers, page.Total)
	}
	seen := map[string]bool{}
	for _, order := range page.Items {
		if seen[order.OrderNumber] {
			t.Fatalf("duplicate order number %s", order.OrderNumber)
		}
		seen[order.OrderNumber] = true
	}
}

func TestOrderServiceCreateReallocatesOnNumberCollision(t *testing.T) {
	alloc := &stubAllocator{numbers: []string{"LICC2405010001", "LICC2405010001", "LICC2405010002"}}
	f := newOrderFixture(t, alloc)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, sampleCreateCommand("pi_a"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cmd := sampleCreateCommand("pi_b")
	second, err := f.svc.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if first.Order.OrderNumber == second.Order.OrderNumber {
		t.Fatalf("expected distinct order numbers, got %s twice", first.Order.OrderNumber)
	}
	if second.Order.OrderNumber != "LICC2405010002" {
		t.Fatalf("expected reallocated number, got %s", second.Order.OrderNumber)
	}
	if !f.logs.has("order.number.collision") {
		t.Fatal("expected collision to be logged")
	}
}

func TestOrderServiceCreateFailsWhenAllocatorExhausted(t *testing.T) {
	alloc := &stubAllocator{err: fmt.Errorf("%w after 5 attempts", ErrOrderNumberExhausted)}
	f := newOrderFixture(t, alloc)

	if _, err := f.svc.Create(context.Background(), sampleCreateCommand("pi_ex")); !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected ErrOrderNumberExhausted, got %v", err)
	}
	if _, err := f.repo.FindByAuthorizationID(context.Background(), "pi_ex"); err == nil {
		t.Fatal("expected no order to be stored")
	}
}

func TestOrderServiceCreateRecomputesMissingTax(t *testing.T) {
	f := newOrderFixture(t, nil)
	cmd := sampleCreateCommand("pi_tax")
	cmd.ShippingAddress.Region = "CA"
	cmd.Totals = Totals{Subtotal: dec("20"), Shipping: dec("4.99"), Tax: dec("0"), Total: dec("24.99")}

	result, err := f.svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// (20 + 4.99) * 0.0725 = 1.811775
	if !result.Order.Totals.Tax.Equal(dec("1.81")) || !result.Order.Totals.Total.Equal(dec("26.80")) {
		t.Fatalf("expected recomputed tax 1.81 total 26.80, got %+v", result.Order.Totals)
	}
	if !f.logs.has("order.tax.recomputed") {
		t.Fatal("expected tax recompute to be logged")
	}
}

func TestOrderServiceCreateValidatesInput(t *testing.T) {
	f := newOrderFixture(t, nil)
	cases := map[string]func(*CreateOrderCommand){
		"missing authorization": func(c *CreateOrderCommand) { c.AuthorizationID = " " },
		"no items":              func(c *CreateOrderCommand) { c.Items = nil },
		"no email":              func(c *CreateOrderCommand) { c.Customer.Email = "" },
		"zero total":            func(c *CreateOrderCommand) { c.Totals = Totals{} },
	}
	for name, mutate := range cases {
		cmd := sampleCreateCommand("pi_v")
		mutate(&cmd)
		if _, err := f.svc.Create(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected ErrOrderInvalidInput, got %v", name, err)
		}
	}
}

func TestOrderServiceShipWithStandardCarrierIsIdempotent(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sampleCreateCommand("pi_ship"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	f.clock.Advance(time.Hour)
	shippedNow := f.clock.Now()
	shipped, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        created.Order.ID,
		TargetStatus:   domain.OrderStatusShipped,
		TrackingNumber: "9400100000000000000000",
		Carrier:        "standard",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if shipped.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", shipped.Status)
	}
	if shipped.Fulfillment.ShippedAt == nil || !shipped.Fulfillment.ShippedAt.Equal(shippedNow) {
		t.Fatalf("expected shippedAt %s, got %v", shippedNow, shipped.Fulfillment.ShippedAt)
	}
	wantEstimate := shippedNow.AddDate(0, 0, 5)
	if shipped.Fulfillment.EstimatedDelivery == nil || !shipped.Fulfillment.EstimatedDelivery.Equal(wantEstimate) {
		t.Fatalf("expected estimated delivery %s, got %v", wantEstimate, shipped.Fulfillment.EstimatedDelivery)
	}

	f.clock.Advance(24 * time.Hour)
	again, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        created.Order.ID,
		TargetStatus:   domain.OrderStatusShipped,
		TrackingNumber: "9400100000000000000000",
		Carrier:        "standard",
	})
	if err != nil {
		t.Fatalf("second TransitionStatus: %v", err)
	}
	if !again.Fulfillment.ShippedAt.Equal(shippedNow) {
		t.Fatalf("expected shippedAt to stay %s, got %s", shippedNow, again.Fulfillment.ShippedAt)
	}
	if !again.Fulfillment.EstimatedDelivery.Equal(wantEstimate) {
		t.Fatalf("expected estimate to stay %s, got %s", wantEstimate, again.Fulfillment.EstimatedDelivery)
	}
	if !again.UpdatedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected updatedAt bump, got %s", again.UpdatedAt)
	}

	statusEvents := 0
	for _, typ := range f.events.types() {
		if typ == orderEventStatusChanged {
			statusEvents++
		}
	}
	if statusEvents != 1 {
		t.Fatalf("expected one status event, got %d", statusEvents)
	}
}

func TestOrderServiceTransitionStampsTimeline(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sampleCreateCommand("pi_tl"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	steps := []domain.OrderStatus{domain.OrderStatusPrinted, domain.OrderStatusShipped, domain.OrderStatusDelivered}
	var order Order
	for _, step := range steps {
		f.clock.Advance(time.Hour)
		order, err = f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: created.Order.ID, TargetStatus: step, Carrier: "UPS"})
		if err != nil {
			t.Fatalf("TransitionStatus(%s): %v", step, err)
		}
	}
	fl := order.Fulfillment
	if fl.PrintedAt == nil || fl.ShippedAt == nil || fl.DeliveredAt == nil {
		t.Fatalf("expected full timeline, got %+v", fl)
	}
	if !fl.PrintedAt.Before(*fl.ShippedAt) || !fl.ShippedAt.Before(*fl.DeliveredAt) {
		t.Fatalf("expected ordered timestamps, got %+v", fl)
	}
	if !fl.EstimatedDelivery.Equal(fl.ShippedAt.AddDate(0, 0, 3)) {
		t.Fatalf("expected UPS estimate of 3 days, got %s", fl.EstimatedDelivery)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: created.Order.ID, TargetStatus: domain.OrderStatusCancelled}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected delivered to be terminal, got %v", err)
	}
}

func TestOrderServiceStatusIsMonotonic(t *testing.T) {
	rank := map[domain.OrderStatus]int{
		domain.OrderStatusPending:    0,
		domain.OrderStatusProcessing: 1,
		domain.OrderStatusPrinted:    2,
		domain.OrderStatusShipped:    3,
		domain.OrderStatusDelivered:  4,
	}
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			if !canTransition(from, to) {
				continue
			}
			if from == domain.OrderStatusCancelled || from == domain.OrderStatusDelivered {
				t.Fatalf("terminal status %s allows %s", from, to)
			}
			if to == domain.OrderStatusCancelled {
				if from != domain.OrderStatusPending && from != domain.OrderStatusProcessing {
					t.Fatalf("cancel allowed from %s", from)
				}
				continue
			}
			if rank[to] <= rank[from] {
				t.Fatalf("transition %s -> %s moves backwards", from, to)
			}
		}
	}
}

func TestOrderServiceRejectsCancelAfterShipping(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sampleCreateCommand("pi_c"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: created.Order.ID, TargetStatus: domain.OrderStatusShipped}); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: created.Order.ID, TargetStatus: domain.OrderStatusCancelled}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: created.Order.ID, TargetStatus: "lost"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status, got %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord_missing", TargetStatus: domain.OrderStatusShipped}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServicePaymentFailureCancelsOnce(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, sampleCreateCommand("pi_fail")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_fail", PaymentStatus: domain.PaymentStatusFailed})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	if !result.Changed || result.Order.Status != domain.OrderStatusCancelled || result.Order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected cancelled failed order, got %+v", result)
	}

	again, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_fail", PaymentStatus: domain.PaymentStatusFailed})
	if err != nil {
		t.Fatalf("second ApplyPaymentUpdate: %v", err)
	}
	if again.Changed || again.Skipped == "" {
		t.Fatalf("expected no-op on replay, got %+v", again)
	}
	if !again.Order.UpdatedAt.Equal(result.Order.UpdatedAt) {
		t.Fatalf("expected replay to leave order untouched")
	}
}

func TestOrderServicePaymentFailureSkipsCancelAfterShipping(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, sampleCreateCommand("pi_late"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: created.Order.ID, TargetStatus: domain.OrderStatusShipped}); err != nil {
		t.Fatalf("ship: %v", err)
	}

	result, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_late", PaymentStatus: domain.PaymentStatusFailed})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	if result.Order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped order to keep status, got %s", result.Order.Status)
	}
	if result.Order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected payment status failed, got %s", result.Order.Payment.Status)
	}
	if !f.logs.has("order.payment.cancel_skipped") {
		t.Fatal("expected skipped cancel to be logged")
	}
}

func TestOrderServiceDisputeAttachesWithoutStatusChange(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, sampleCreateCommand("pi_dsp")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dispute := &domain.Dispute{ID: "dp_1", Reason: "fraudulent", Status: "needs_response", Amount: 2675}

	result, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_dsp", Dispute: dispute})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	if result.Order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected status unchanged, got %s", result.Order.Status)
	}
	if result.Order.Payment.Dispute == nil || result.Order.Payment.Dispute.ID != "dp_1" {
		t.Fatalf("expected dispute attached, got %+v", result.Order.Payment.Dispute)
	}
	if result.Order.Fulfillment.Notes != "Dispute created: fraudulent" {
		t.Fatalf("unexpected notes %q", result.Order.Fulfillment.Notes)
	}

	again, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_dsp", Dispute: dispute})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Changed {
		t.Fatal("expected dispute replay to be a no-op")
	}
}

func TestOrderServiceRefundRecorded(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, sampleCreateCommand("pi_ref")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	refund := &domain.RefundInfo{ID: "re_1", Status: "succeeded", Amount: 2675}

	result, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_ref", PaymentStatus: domain.PaymentStatusRefunded, Refund: refund})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	if result.Order.Payment.Status != domain.PaymentStatusRefunded || result.Order.Payment.LatestRefund().ID != "re_1" || result.Order.Payment.AmountRefunded != 2675 {
		t.Fatalf("expected refund recorded, got %+v", result.Order.Payment)
	}
	again, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_ref", PaymentStatus: domain.PaymentStatusRefunded, Refund: refund})
	if err != nil || again.Changed {
		t.Fatalf("expected refund replay no-op, got %+v err %v", again, err)
	}
	succeeded, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_ref", PaymentStatus: domain.PaymentStatusSucceeded})
	if err != nil || succeeded.Changed {
		t.Fatalf("expected succeeded after refund to be skipped, got %+v err %v", succeeded, err)
	}
}

func TestOrderServicePartialRefundsAccumulate(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, sampleCreateCommand("pi_part")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := &domain.RefundInfo{ID: "re_1", Status: "succeeded", Amount: 100}
	result, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_part", PaymentStatus: domain.PaymentStatusRefunded, Refund: first})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	payment := result.Order.Payment
	if payment.Status != domain.PaymentStatusSucceeded || payment.AmountRefunded != 100 || len(payment.Refunds) != 1 {
		t.Fatalf("expected partial refund to keep payment succeeded, got %+v", payment)
	}

	result, err = f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_part", PaymentStatus: domain.PaymentStatusRefunded, Refund: &domain.RefundInfo{ID: "re_2", Status: "succeeded", Amount: 500}})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	payment = result.Order.Payment
	if payment.Status != domain.PaymentStatusSucceeded || payment.AmountRefunded != 600 || len(payment.Refunds) != 2 || payment.Refunds[0].ID != "re_1" {
		t.Fatalf("expected refunds to accumulate, got %+v", payment)
	}

	again, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_part", PaymentStatus: domain.PaymentStatusRefunded, Refund: first})
	if err != nil || again.Changed || again.Order.Payment.AmountRefunded != 600 {
		t.Fatalf("expected replayed refund to be a no-op, got %+v err %v", again, err)
	}

	final, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{
		AuthorizationID: "pi_part",
		PaymentStatus:   domain.PaymentStatusRefunded,
		Refund:          &domain.RefundInfo{ID: "re_3", Status: "succeeded", Amount: 2075},
		RefundedTotal:   2675,
	})
	if err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	if final.Order.Payment.Status != domain.PaymentStatusRefunded || final.Order.Payment.AmountRefunded != 2675 {
		t.Fatalf("expected full refund once totals are covered, got %+v", final.Order.Payment)
	}

	if _, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_part", PaymentStatus: domain.PaymentStatusRefunded}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected refund without details to be rejected, got %v", err)
	}
}

func TestOrderServicePaymentUpdateUnknownAuthorization(t *testing.T) {
	f := newOrderFixture(t, nil)
	_, err := f.svc.ApplyPaymentUpdate(context.Background(), PaymentUpdateCommand{AuthorizationID: "pi_none", PaymentStatus: domain.PaymentStatusSucceeded})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceAnalytics(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		cmd := sampleCreateCommand(fmt.Sprintf("pi_an_%02d", i))
		if _, err := f.svc.Create(ctx, cmd); err != nil {
			t.Fatalf("Create: %v", err)
		}
		f.clock.Advance(time.Minute)
	}
	if _, err := f.svc.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{AuthorizationID: "pi_an_00", PaymentStatus: domain.PaymentStatusFailed}); err != nil {
		t.Fatalf("ApplyPaymentUpdate: %v", err)
	}
	refunds := []PaymentUpdateCommand{
		{AuthorizationID: "pi_an_01", PaymentStatus: domain.PaymentStatusRefunded, Refund: &domain.RefundInfo{ID: "re_part", Status: "succeeded", Amount: 100}},
		{AuthorizationID: "pi_an_02", PaymentStatus: domain.PaymentStatusRefunded, Refund: &domain.RefundInfo{ID: "re_full", Status: "succeeded", Amount: 2675}},
	}
	for _, cmd := range refunds {
		if _, err := f.svc.ApplyPaymentUpdate(ctx, cmd); err != nil {
			t.Fatalf("ApplyPaymentUpdate %s: %v", cmd.AuthorizationID, err)
		}
	}

	analytics, err := f.svc.Analytics(ctx, "7d")
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if analytics.TotalOrders != 12 {
		t.Fatalf("expected 12 orders, got %d", analytics.TotalOrders)
	}
	if !analytics.TotalRevenue.Equal(dec("266.50")) {
		t.Fatalf("expected revenue net of refunds 266.50, got %s", analytics.TotalRevenue)
	}
	if !analytics.AverageOrderValue.Equal(dec("26.65")) {
		t.Fatalf("expected average 26.65, got %s", analytics.AverageOrderValue)
	}
	if analytics.StatusCounts[domain.OrderStatusCancelled] != 1 || analytics.StatusCounts[domain.OrderStatusProcessing] != 11 {
		t.Fatalf("unexpected status counts %v", analytics.StatusCounts)
	}
	if len(analytics.RecentOrders) != 10 || analytics.RecentOrders[0].Payment.AuthorizationID != "pi_an_11" {
		t.Fatalf("expected 10 most recent orders, got %d", len(analytics.RecentOrders))
	}

	if _, err := f.svc.Analytics(ctx, "2w"); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid range error, got %v", err)
	}
}

func TestOrderServiceEventPublishFailureIsLogged(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.events.err = errors.New("broker down")

	if _, err := f.svc.Create(context.Background(), sampleCreateCommand("pi_evt")); err != nil {
		t.Fatalf("Create should not fail on publish error: %v", err)
	}
	if !f.logs.has("order.event.publish.failed") {
		t.Fatal("expected publish failure to be logged")
	}
}

func TestOrderServiceListRejectsInvertedRange(t *testing.T) {
	f := newOrderFixture(t, nil)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	_, err := f.svc.List(context.Background(), OrderListFilter{DateRange: domain.RangeQuery[time.Time]{From: &from, To: &to}})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
