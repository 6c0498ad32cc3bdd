package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/payments"
	"github.com/southernsense/storefront/internal/repositories"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type memoryOrderRepository struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	calls       *callLog
	insertErr   error
	attachErr   error
	markPaidErr error
	markFailed  map[string]error
	listCalls   int
}

func newMemoryOrderRepository(calls *callLog) *memoryOrderRepository {
	return &memoryOrderRepository{orders: make(map[string]domain.Order), calls: calls, markFailed: map[string]error{}}
}

func (r *memoryOrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.add("insert")
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return errRepoConflict
	}
	r.orders[order.ID] = order.Snapshot()
	return nil
}

func (r *memoryOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	return order.Snapshot(), nil
}

func (r *memoryOrderRepository) AttachPaymentOrder(_ context.Context, orderID, provider, paymentOrderID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.add("attach")
	if r.attachErr != nil {
		return r.attachErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return errRepoNotFound
	}
	order.Provider = provider
	order.PaymentOrderID = paymentOrderID
	order.UpdatedAt = now
	r.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepository) MarkPaid(_ context.Context, orderID string, capture domain.PaymentCapture, now time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.add("mark_paid")
	if r.markPaidErr != nil {
		return domain.Order{}, r.markPaidErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, repositories.ErrOrderNotPending
	}
	ref := capture.TransactionID
	order.Status = domain.OrderStatusPaid
	order.CheckoutState = domain.CheckoutStateOrderFinalized
	order.PaymentReference = &ref
	order.Capture = &capture
	order.PaidAt = &now
	order.UpdatedAt = now
	r.orders[orderID] = order
	return order.Snapshot(), nil
}

func (r *memoryOrderRepository) MarkFailed(_ context.Context, orderID, reason string, now time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls.add("mark_failed:" + reason)
	if err := r.markFailed[orderID]; err != nil {
		return domain.Order{}, err
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errRepoNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, repositories.ErrOrderNotPending
	}
	order.Status = domain.OrderStatusFailed
	order.FailureReason = reason
	order.FailedAt = &now
	order.UpdatedAt = now
	r.orders[orderID] = order
	return order.Snapshot(), nil
}

func (r *memoryOrderRepository) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []domain.Order
	for _, order := range r.orders {
		if order.Status == domain.OrderStatusPending && order.CreatedAt.Before(cutoff) && r.markFailed[order.ID] == nil {
			out = append(out, order.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryOrderRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type stubCheckoutCarts struct {
	CartService
	calls    *callLog
	view     CartView
	getErr   error
	clearErr error
	cleared  []CartOwner
}

func (s *stubCheckoutCarts) Get(_ context.Context, owner CartOwner) (CartView, error) {
	s.calls.add("cart_get")
	if s.getErr != nil {
		return CartView{}, s.getErr
	}
	view := s.view
	view.Cart = view.Cart.Clone()
	view.Cart.Key = owner.Key()
	return view, nil
}

func (s *stubCheckoutCarts) Clear(_ context.Context, owner CartOwner) error {
	s.calls.add("cart_clear")
	s.cleared = append(s.cleared, owner)
	return s.clearErr
}

type stubCheckoutPayments struct {
	mu         sync.Mutex
	calls      *callLog
	resolveErr error
	createErr  error
	captureErr error
	lookupErr  error
	details    payments.PaymentDetails
	requests   []payments.CheckoutSessionRequest
	captures   []payments.CaptureRequest
	captured   map[string]bool
	entered    chan struct{}
	release    chan struct{}
	enterOnce  sync.Once
}

func (s *stubCheckoutPayments) Resolve(paymentCtx payments.PaymentContext) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	if paymentCtx.PreferredProvider != "" {
		return paymentCtx.PreferredProvider, nil
	}
	return payments.ProviderPayPal, nil
}

func (s *stubCheckoutPayments) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.calls.add("provider_create")
	if s.entered != nil {
		s.enterOnce.Do(func() { close(s.entered) })
		<-s.release
		if err := ctx.Err(); err != nil {
			return payments.CheckoutSession{}, err
		}
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	if s.createErr != nil {
		return payments.CheckoutSession{}, s.createErr
	}
	return payments.CheckoutSession{
		ID:       fmt.Sprintf("PAY-%d", n),
		Provider: paymentCtx.PreferredProvider,
		Status:   payments.StatusPending,
	}, nil
}

func (s *stubCheckoutPayments) Capture(_ context.Context, _ payments.PaymentContext, req payments.CaptureRequest) (payments.PaymentDetails, error) {
	s.calls.add("capture")
	s.mu.Lock()
	s.captures = append(s.captures, req)
	s.mu.Unlock()
	if s.captureErr != nil {
		return payments.PaymentDetails{}, s.captureErr
	}
	s.mu.Lock()
	if s.captured == nil {
		s.captured = make(map[string]bool)
	}
	s.captured[req.PaymentOrderID] = true
	s.mu.Unlock()
	return s.details, nil
}

func (s *stubCheckoutPayments) LookupPayment(_ context.Context, _ payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	s.calls.add("lookup")
	if s.lookupErr != nil {
		return payments.PaymentDetails{}, s.lookupErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.captured[req.PaymentOrderID] {
		return payments.PaymentDetails{PaymentOrderID: req.PaymentOrderID, Status: payments.StatusPending}, nil
	}
	return s.details, nil
}

type stubPublisher struct {
	calls  *callLog
	events []domain.OrderPaidEvent
	err    error
}

func (p *stubPublisher) PublishOrderPaid(_ context.Context, event domain.OrderPaidEvent) (string, error) {
	p.calls.add("publish")
	p.events = append(p.events, event)
	return "msg-1", p.err
}

type checkoutFixture struct {
	svc      CheckoutService
	calls    *callLog
	orders   *memoryOrderRepository
	carts    *stubCheckoutCarts
	payments *stubCheckoutPayments
	events   *stubPublisher
	logs     *logRecorder
}

func newCheckoutFixture(t *testing.T, mutate ...func(*CheckoutServiceDeps)) checkoutFixture {
	t.Helper()
	calls := &callLog{}
	fx := checkoutFixture{
		calls:  calls,
		orders: newMemoryOrderRepository(calls),
		carts: &stubCheckoutCarts{calls: calls, view: CartView{
			Cart: Cart{Lines: []CartLine{{ProductID: "candle", Name: "Candle", UnitPrice: money("12.50"), Quantity: 2}}},
			Totals: Totals{
				Subtotal:  money("25.00"),
				Shipping:  money("8.00"),
				Total:     money("33.00"),
				ItemCount: 2,
			},
		}},
		payments: &stubCheckoutPayments{calls: calls, details: payments.PaymentDetails{
			TransactionID: "CAP-9",
			Status:        payments.StatusSucceeded,
			Amount:        money("33.00"),
			Currency:      "USD",
			PayerEmail:    "buyer@example.com",
			Captured:      true,
		}},
		events: &stubPublisher{calls: calls},
		logs:   &logRecorder{},
	}
	seq := 0
	deps := CheckoutServiceDeps{
		Orders:    fx.orders,
		Carts:     fx.carts,
		Payments:  fx.payments,
		Events:    fx.events,
		Currency:  "usd",
		ReturnURL: "https://shop.example.com/checkout/",
		Clock:     func() time.Time { return testNow },
		Logger:    fx.logs.log,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("ord-%d", seq)
		},
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewCheckoutService(deps)
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func validCustomer() Customer {
	return Customer{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "Ada@Example.com",
		Address:   "1 Main St",
		City:      "Savannah",
		State:     "GA",
		Zip:       "31401",
	}
}

var sessionOwner = CartOwner{Session: "s1"}

func TestCheckoutSubmitRejectsInvalidFormBeforeRemoteCalls(t *testing.T) {
	fx := newCheckoutFixture(t)
	customer := validCustomer()
	customer.Email = ""

	_, err := fx.svc.Submit(context.Background(), SubmitCheckoutCommand{Owner: sessionOwner, Customer: customer})
	require.ErrorIs(t, err, ErrCheckoutInvalidInput)

	var validation *CheckoutValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "email", validation.Field)
	assert.Empty(t, fx.calls.list())
	assert.True(t, fx.logs.has("checkout.submit.rejected"))
}

func TestCheckoutSubmitEmptyCart(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.carts.view = CartView{Cart: Cart{Lines: []CartLine{}}}

	_, err := fx.svc.Submit(context.Background(), SubmitCheckoutCommand{Owner: sessionOwner, Customer: validCustomer()})
	require.ErrorIs(t, err, ErrCheckoutEmptyCart)
	assert.Equal(t, []string{"cart_get"}, fx.calls.list())
}

func TestCheckoutSubmitInsertFailureNeverCallsProvider(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.orders.insertErr = errRepoUnavailable

	_, err := fx.svc.Submit(context.Background(), SubmitCheckoutCommand{Owner: sessionOwner, Customer: validCustomer()})
	require.ErrorIs(t, err, ErrCheckoutUnavailable)
	assert.NotContains(t, fx.calls.list(), "provider_create")
	assert.True(t, fx.logs.has("checkout.submit.failed"))
}

func TestCheckoutSubmitCreatesPendingOrderAndProviderOrder(t *testing.T) {
	fx := newCheckoutFixture(t)

	submission, err := fx.svc.Submit(context.Background(), SubmitCheckoutCommand{
		Owner:          CartOwner{UserID: "u1", Session: "s1"},
		Customer:       validCustomer(),
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cart_get", "insert", "provider_create", "attach"}, fx.calls.list())
	assert.Equal(t, "ord-1", submission.Order.ID)
	assert.Equal(t, "PAY-1", submission.Session.ID)

	stored, err := fx.orders.FindByID(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Equal(t, "u1", stored.UserID)
	assert.Equal(t, "user:u1", stored.CartKey)
	assert.Equal(t, "USD", stored.Currency)
	assert.Equal(t, "PAY-1", stored.PaymentOrderID)
	assert.Equal(t, payments.ProviderPayPal, stored.Provider)
	assert.Equal(t, "ada@example.com", stored.Customer.Email)

	require.Len(t, fx.payments.requests, 1)
	req := fx.payments.requests[0]
	assert.Equal(t, "33.00", req.Amount.StringFixed(2))
	assert.Equal(t, "25.00", req.ItemTotal.StringFixed(2))
	assert.Equal(t, "8.00", req.Shipping.StringFixed(2))
	assert.Equal(t, "idem-1", req.IdempotencyKey)
	assert.Equal(t, "ord-1", req.Reference)
	require.Len(t, req.Items, 1)
	assert.Equal(t, int64(2), req.Items[0].Quantity)
	assert.NoError(t, req.Validate())
}

func TestCheckoutSubmitProviderFailureAbandonsOrder(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.payments.createErr = errors.New("paypal: 422 UNPROCESSABLE_ENTITY")

	_, err := fx.svc.Submit(context.Background(), SubmitCheckoutCommand{Owner: sessionOwner, Customer: validCustomer()})
	require.ErrorIs(t, err, ErrCheckoutPaymentFailed)

	stored, err := fx.orders.FindByID(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, stored.Status)
	assert.Equal(t, domain.FailureReasonProviderError, stored.FailureReason)
}

func TestCheckoutSubmitConcurrentCallsShareOneOrder(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.payments.entered = make(chan struct{})
	fx.payments.release = make(chan struct{})

	cmd := SubmitCheckoutCommand{Owner: sessionOwner, Customer: validCustomer()}
	results := make(chan CheckoutSubmission, 2)
	errs := make(chan error, 2)
	submit := func() {
		submission, err := fx.svc.Submit(context.Background(), cmd)
		results <- submission
		errs <- err
	}

	go submit()
	<-fx.payments.entered
	go submit()
	time.Sleep(50 * time.Millisecond)
	close(fx.payments.release)

	first, second := <-results, <-results
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, fx.orders.count())
	assert.Len(t, fx.payments.requests, 1)
}

func TestCheckoutSubmitSurvivesFirstCallerCancelling(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.payments.entered = make(chan struct{})
	fx.payments.release = make(chan struct{})

	cmd := SubmitCheckoutCommand{Owner: sessionOwner, Customer: validCustomer()}
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := fx.svc.Submit(firstCtx, cmd)
		firstErr <- err
	}()
	<-fx.payments.entered

	secondDone := make(chan struct{})
	var second CheckoutSubmission
	var secondErr error
	go func() {
		defer close(secondDone)
		second, secondErr = fx.svc.Submit(context.Background(), cmd)
	}()
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	close(fx.payments.release)

	<-secondDone
	require.NoError(t, secondErr)
	require.NoError(t, <-firstErr)
	assert.Equal(t, "PAY-1", second.Session.ID)

	stored, err := fx.orders.FindByID(context.Background(), second.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Equal(t, "PAY-1", stored.PaymentOrderID)
}

func submitOrder(t *testing.T, fx checkoutFixture, owner CartOwner) CheckoutSubmission {
	t.Helper()
	submission, err := fx.svc.Submit(context.Background(), SubmitCheckoutCommand{Owner: owner, Customer: validCustomer()})
	require.NoError(t, err)
	fx.calls.mu.Lock()
	fx.calls.calls = nil
	fx.calls.mu.Unlock()
	return submission
}

func TestCheckoutApproveOrdersSideEffects(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)

	confirmation, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{
		Owner:          sessionOwner,
		OrderID:        submission.Order.ID,
		PaymentOrderID: submission.Session.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"capture", "mark_paid", "cart_clear", "publish"}, fx.calls.list())
	assert.Equal(t, "/order-confirmation/?orderId=ord-1", confirmation.RedirectPath)
	assert.Equal(t, domain.OrderStatusPaid, confirmation.Order.Status)
	require.NotNil(t, confirmation.Order.PaymentReference)
	assert.Equal(t, "CAP-9", *confirmation.Order.PaymentReference)

	require.Len(t, fx.payments.captures, 1)
	assert.Equal(t, "PAY-1", fx.payments.captures[0].PaymentOrderID)
	assert.Equal(t, "capture-ord-1", fx.payments.captures[0].IdempotencyKey)

	require.Len(t, fx.carts.cleared, 1)
	assert.Equal(t, sessionOwner, fx.carts.cleared[0])

	require.Len(t, fx.events.events, 1)
	event := fx.events.events[0]
	assert.Equal(t, "ord-1", event.OrderID)
	assert.Equal(t, "33.00", event.Total)
	assert.Equal(t, "CAP-9", event.TransactionID)
	assert.Equal(t, "ada@example.com", event.Email)
}

func TestCheckoutApproveMarkPaidFailureRequiresReconciliation(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)
	fx.orders.markPaidErr = errRepoUnavailable

	_, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	var reconcile *ReconciliationError
	require.ErrorAs(t, err, &reconcile)
	assert.Equal(t, "CAP-9", reconcile.TransactionID)
	assert.True(t, strings.Contains(reconcile.UserMessage(), "CAP-9"))

	assert.NotContains(t, fx.calls.list(), "cart_clear")
	assert.Empty(t, fx.events.events)
	assert.True(t, fx.logs.has("checkout.reconciliation_required"))
}

func TestCheckoutApproveRecordsHeldCapture(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.payments.details.Status = payments.StatusCapturePending
	submission := submitOrder(t, fx, sessionOwner)

	confirmation, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	require.NoError(t, err)
	require.NotNil(t, confirmation.Order.Capture)
	assert.Equal(t, string(payments.StatusCapturePending), confirmation.Order.Capture.Status)
	assert.True(t, fx.logs.has("checkout.capture.settlement_pending"))
}

func TestCheckoutApproveCaptureFailureLeavesOrderPending(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)
	fx.payments.captureErr = payments.ErrPaymentNotCompleted

	_, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	require.ErrorIs(t, err, ErrCheckoutPaymentFailed)

	stored, err := fx.orders.FindByID(context.Background(), submission.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Equal(t, []string{"capture"}, fx.calls.list())
}

func TestCheckoutApproveIsIdempotentOncePaid(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)
	cmd := ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID}

	_, err := fx.svc.Approve(context.Background(), cmd)
	require.NoError(t, err)
	confirmation, err := fx.svc.Approve(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPaid, confirmation.Order.Status)
	assert.Len(t, fx.payments.captures, 1)
	assert.Len(t, fx.events.events, 1)
}

func TestCheckoutApproveRejectsForeignPaymentOrder(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)

	_, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{
		Owner:          sessionOwner,
		OrderID:        submission.Order.ID,
		PaymentOrderID: "PAY-other",
	})
	require.ErrorIs(t, err, ErrCheckoutInvalidInput)
	assert.Empty(t, fx.payments.captures)
}

func TestCheckoutCancel(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)
	cmd := CancelCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID}

	order, err := fx.svc.Cancel(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Equal(t, domain.FailureReasonCancelled, order.FailureReason)
	assert.NotContains(t, fx.calls.list(), "cart_clear")

	again, err := fx.svc.Cancel(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, again.Status)

	_, err = fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	require.ErrorIs(t, err, ErrCheckoutOrderClosed)
}

func TestCheckoutCancelPaidOrderIsClosed(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)
	_, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	require.NoError(t, err)

	_, err = fx.svc.Cancel(context.Background(), CancelCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	require.ErrorIs(t, err, ErrCheckoutOrderClosed)
}

func TestCheckoutOrderOwnership(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, CartOwner{UserID: "u1"})

	order, err := fx.svc.Order(context.Background(), CartOwner{UserID: "u1"}, submission.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.Order.ID, order.ID)

	_, err = fx.svc.Order(context.Background(), CartOwner{UserID: "u2"}, submission.Order.ID)
	require.ErrorIs(t, err, ErrCheckoutOrderNotFound)
	_, err = fx.svc.Order(context.Background(), CartOwner{Session: "s1"}, submission.Order.ID)
	require.ErrorIs(t, err, ErrCheckoutOrderNotFound)
	_, err = fx.svc.Order(context.Background(), CartOwner{UserID: "u1"}, "missing")
	require.ErrorIs(t, err, ErrCheckoutOrderNotFound)
	_, err = fx.svc.Order(context.Background(), CartOwner{UserID: "u1"}, " ")
	require.ErrorIs(t, err, ErrCheckoutInvalidInput)
}

func TestCheckoutReportErrorLeavesOrderUntouched(t *testing.T) {
	fx := newCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)

	err := fx.svc.ReportError(context.Background(), ReportCheckoutErrorCommand{
		Owner:   sessionOwner,
		OrderID: submission.Order.ID,
		Code:    "INSTRUMENT_DECLINED",
		Message: strings.Repeat("x", 1000),
	})
	require.NoError(t, err)
	assert.True(t, fx.logs.has("checkout.payment.error_reported"))
	assert.Empty(t, fx.calls.list())

	err = fx.svc.ReportError(context.Background(), ReportCheckoutErrorCommand{Owner: CartOwner{Session: "other"}, OrderID: submission.Order.ID})
	require.ErrorIs(t, err, ErrCheckoutOrderNotFound)
}

func TestCheckoutExpirePendingInBatches(t *testing.T) {
	fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.ExpireBatchSize = 2
	})
	old := testNow.Add(-48 * time.Hour)
	for i := 0; i < 5; i++ {
		order := domain.NewPendingOrder(fmt.Sprintf("old-%d", i), Cart{Key: "cart:s1"}, "", Customer{}, Totals{}, "USD", old.Add(time.Duration(i)*time.Minute))
		require.NoError(t, fx.orders.Insert(context.Background(), order))
	}
	fresh := domain.NewPendingOrder("fresh", Cart{Key: "cart:s2"}, "", Customer{}, Totals{}, "USD", testNow.Add(-time.Hour))
	require.NoError(t, fx.orders.Insert(context.Background(), fresh))

	result, err := fx.svc.ExpirePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Expired)
	assert.Equal(t, testNow.Add(-24*time.Hour), result.Cutoff)
	assert.Equal(t, 3, fx.orders.listCalls)

	stored, err := fx.orders.FindByID(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)

	expired, err := fx.orders.FindByID(context.Background(), "old-0")
	require.NoError(t, err)
	assert.Equal(t, domain.FailureReasonExpired, expired.FailureReason)
}

func TestCheckoutExpirePendingCountsRacesAsSkipped(t *testing.T) {
	fx := newCheckoutFixture(t)
	order := domain.NewPendingOrder("old", Cart{Key: "cart:s1"}, "", Customer{}, Totals{}, "USD", testNow.Add(-48*time.Hour))
	require.NoError(t, fx.orders.Insert(context.Background(), order))
	fx.orders.markFailed["old"] = repositories.ErrOrderNotPending

	repo := &racingOrderRepository{memoryOrderRepository: fx.orders, racing: "old"}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:   repo,
		Carts:    fx.carts,
		Payments: fx.payments,
		Clock:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	result, err := svc.ExpirePending(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)
	assert.Equal(t, 1, result.Skipped)
}

func newClockedCheckoutFixture(t *testing.T) (checkoutFixture, *time.Time) {
	t.Helper()
	now := testNow
	fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Clock = func() time.Time { return now }
	})
	return fx, &now
}

func TestCheckoutExpirePendingFinalizesCapturedPayment(t *testing.T) {
	fx, now := newClockedCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)

	fx.orders.markPaidErr = errRepoUnavailable
	_, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	var reconcile *ReconciliationError
	require.ErrorAs(t, err, &reconcile)

	// Firestore comes back before the sweep runs.
	fx.orders.markPaidErr = nil
	*now = testNow.Add(48 * time.Hour)
	result, err := fx.svc.ExpirePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)
	assert.Equal(t, 1, result.Reconciled)

	stored, err := fx.orders.FindByID(context.Background(), submission.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, "CAP-9", *stored.PaymentReference)
	assert.Len(t, fx.events.events, 1)
	assert.NotContains(t, fx.calls.list(), "cart_clear")

	confirmation, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, confirmation.Order.Status)
	assert.Len(t, fx.payments.captures, 1)
}

func TestCheckoutExpirePendingNeverFailsUnverifiedPayments(t *testing.T) {
	cases := map[string]func(fx checkoutFixture){
		"order store still down": func(checkoutFixture) {},

		"provider lookup fails": func(fx checkoutFixture) {
			fx.orders.markPaidErr = nil
			fx.payments.lookupErr = payments.ErrProviderUnavailable
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			fx, now := newClockedCheckoutFixture(t)
			submission := submitOrder(t, fx, sessionOwner)
			fx.orders.markPaidErr = errRepoUnavailable
			_, err := fx.svc.Approve(context.Background(), ApproveCheckoutCommand{Owner: sessionOwner, OrderID: submission.Order.ID})
			require.Error(t, err)

			setup(fx)
			*now = testNow.Add(48 * time.Hour)
			result, err := fx.svc.ExpirePending(context.Background(), 0)
			require.NoError(t, err)
			assert.Equal(t, 0, result.Expired)
			assert.Equal(t, 1, result.Skipped)

			stored, err := fx.orders.FindByID(context.Background(), submission.Order.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusPending, stored.Status)
			assert.Equal(t, 1, fx.orders.listCalls)
		})
	}
}

func TestCheckoutExpirePendingExpiresUncapturedProviderOrder(t *testing.T) {
	fx, now := newClockedCheckoutFixture(t)
	submission := submitOrder(t, fx, sessionOwner)

	*now = testNow.Add(48 * time.Hour)
	result, err := fx.svc.ExpirePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, []string{"lookup", "mark_failed:" + domain.FailureReasonExpired}, fx.calls.list())

	stored, err := fx.orders.FindByID(context.Background(), submission.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, stored.Status)
}

// racingOrderRepository lists an order that a concurrent approve already moved out of Pending.
type racingOrderRepository struct {
	*memoryOrderRepository
	racing string
}

func (r *racingOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	order, err := r.FindByID(ctx, r.racing)
	if err != nil {
		return nil, err
	}
	return []domain.Order{order}, nil
}

func TestCheckoutSummary(t *testing.T) {
	fx := newCheckoutFixture(t)
	summary, err := fx.svc.Summary(context.Background(), sessionOwner)
	require.NoError(t, err)
	assert.True(t, summary.CanSubmit)
	assert.Equal(t, "USD", summary.Currency)

	fx.carts.view = CartView{Cart: Cart{}}
	summary, err = fx.svc.Summary(context.Background(), sessionOwner)
	require.NoError(t, err)
	assert.False(t, summary.CanSubmit)
}

func TestNewCheckoutServiceRequiresDeps(t *testing.T) {
	_, err := NewCheckoutService(CheckoutServiceDeps{})
	require.Error(t, err)
}
