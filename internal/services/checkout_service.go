package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/payments"
	"github.com/southernsense/storefront/internal/repositories"
)

const (
	defaultConfirmationPath = "/order-confirmation/"
	defaultPendingTTL       = 24 * time.Hour
	defaultExpireBatchSize  = 100
	maxExpireBatches        = 50
	submitTimeout           = 30 * time.Second
)

// User-facing checkout messages.
const (
	CheckoutStartFailedMessage  = "Could not start checkout. Please try again."
	CheckoutPaymentErrorMessage = "An error occurred with the payment. Please try again."
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates there is nothing to check out.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutUnavailable indicates the Pending order could not be recorded; the provider was not called.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the provider rejected order creation or capture. Nothing was charged.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutOrderNotFound indicates the order does not exist or belongs to someone else.
	ErrCheckoutOrderNotFound = errors.New("checkout: order not found")
	// ErrCheckoutOrderClosed indicates the order already left Pending in a way the call cannot undo.
	ErrCheckoutOrderClosed = errors.New("checkout: order closed")
)

// ReconciliationError reports a captured payment whose order could not be marked Paid. Support must
// reconcile it by transaction id; retrying is not safe.
type ReconciliationError struct {
	OrderID       string
	TransactionID string
	Err           error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("checkout: order %s captured as %s but not finalized: %v", e.OrderID, e.TransactionID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// UserMessage is shown verbatim to the buyer.
func (e *ReconciliationError) UserMessage() string {
	return "Payment failed after approval. Please contact support. Transaction ID: " + e.TransactionID
}

type checkoutPayments interface {
	Resolve(paymentCtx payments.PaymentContext) (string, error)
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	Capture(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CaptureRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

type orderPaidPublisher interface {
	PublishOrderPaid(ctx context.Context, event domain.OrderPaidEvent) (string, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders           repositories.OrderRepository
	Carts            CartService
	Payments         checkoutPayments
	Events           orderPaidPublisher
	Currency         string
	ReturnURL        string
	CancelURL        string
	ConfirmationPath string
	PendingTTL       time.Duration
	ExpireBatchSize  int
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
	IDGenerator      func() string
}

type checkoutService struct {
	orders           repositories.OrderRepository
	carts            CartService
	payments         checkoutPayments
	events           orderPaidPublisher
	currency         string
	returnURL        string
	cancelURL        string
	confirmationPath string
	pendingTTL       time.Duration
	batchSize        int
	now              func() time.Time
	logger           func(ctx context.Context, event string, fields map[string]any)
	newID            func() string
	inflight         singleflight.Group
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}
	confirmationPath := strings.TrimSpace(deps.ConfirmationPath)
	if confirmationPath == "" {
		confirmationPath = defaultConfirmationPath
	}
	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := deps.ExpireBatchSize
	if batch <= 0 {
		batch = defaultExpireBatchSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &checkoutService{
		orders:           deps.Orders,
		carts:            deps.Carts,
		payments:         deps.Payments,
		events:           deps.Events,
		currency:         currency,
		returnURL:        strings.TrimSpace(deps.ReturnURL),
		cancelURL:        strings.TrimSpace(deps.CancelURL),
		confirmationPath: confirmationPath,
		pendingTTL:       ttl,
		batchSize:        batch,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// Summary returns the cart with totals. Empty carts cannot be submitted.
func (s *checkoutService) Summary(ctx context.Context, owner CartOwner) (CheckoutSummary, error) {
	view, err := s.carts.Get(ctx, owner)
	if err != nil {
		return CheckoutSummary{}, err
	}
	return CheckoutSummary{
		Cart:      view,
		Currency:  s.currency,
		CanSubmit: !view.Cart.IsEmpty(),
	}, nil
}

// Submit validates the form, records a Pending order and opens the provider order. Concurrent
// submissions from the same cart share one attempt, which is detached from any single caller's
// cancellation and bounded by submitTimeout.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSubmission, error) {
	key := cmd.Owner.Key()
	if key == "" {
		return CheckoutSubmission{}, ErrCheckoutInvalidInput
	}

	result, err, shared := s.inflight.Do(key, func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
		defer cancel()
		return s.submit(attemptCtx, cmd)
	})
	if shared {
		s.logger(ctx, "checkout.submit.shared", map[string]any{"cartKey": key})
	}
	if err != nil {
		return CheckoutSubmission{}, err
	}
	submission := result.(CheckoutSubmission)
	submission.Order = submission.Order.Snapshot()
	return submission, nil
}

func (s *checkoutService) submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSubmission, error) {
	attempt := domain.NewCheckoutAttempt()
	fail := func(err error, fields map[string]any) (CheckoutSubmission, error) {
		from := attempt.State
		_ = attempt.Apply(domain.CheckoutEventFail)
		fields["from"] = string(from)
		fields["cartKey"] = cmd.Owner.Key()
		fields["error"] = err.Error()
		event := "checkout.submit.failed"
		if errors.Is(err, ErrCheckoutInvalidInput) || errors.Is(err, ErrCheckoutEmptyCart) {
			event = "checkout.submit.rejected"
		}
		s.logger(ctx, event, fields)
		return CheckoutSubmission{}, err
	}

	customer := cmd.Customer
	if err := validateCustomer(&customer); err != nil {
		return fail(err, map[string]any{"stage": "validate"})
	}
	if err := attempt.Apply(domain.CheckoutEventValidate); err != nil {
		return CheckoutSubmission{}, err
	}

	providerKey, err := s.payments.Resolve(payments.PaymentContext{PreferredProvider: cmd.Provider, Currency: s.currency})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err), map[string]any{"stage": "provider"})
	}

	view, err := s.carts.Get(ctx, cmd.Owner)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err), map[string]any{"stage": "cart"})
	}
	if view.Cart.IsEmpty() {
		return fail(ErrCheckoutEmptyCart, map[string]any{"stage": "cart"})
	}

	order := domain.NewPendingOrder(s.newID(), view.Cart, cmd.Owner.UserID, customer, view.Totals, s.currency, s.now())
	order.Provider = providerKey
	if err := s.orders.Insert(ctx, order); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err), map[string]any{"stage": "create_order"})
	}
	if err := attempt.Apply(domain.CheckoutEventCreateOrder); err != nil {
		return CheckoutSubmission{}, err
	}

	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = order.ID
	}
	session, err := s.payments.CreateCheckoutSession(ctx,
		payments.PaymentContext{PreferredProvider: providerKey, Currency: order.Currency},
		s.sessionRequest(order, idempotencyKey),
	)
	if err != nil {
		s.abandon(ctx, order.ID, domain.FailureReasonProviderError)
		return fail(fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err), map[string]any{"stage": "provider_order", "orderID": order.ID})
	}

	if err := s.orders.AttachPaymentOrder(ctx, order.ID, session.Provider, session.ID, s.now()); err != nil {
		s.abandon(ctx, order.ID, domain.FailureReasonProviderError)
		return fail(fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err), map[string]any{"stage": "attach", "orderID": order.ID})
	}
	order.Provider = session.Provider
	order.PaymentOrderID = session.ID

	s.logger(ctx, "checkout.submit.created", map[string]any{
		"orderID":        order.ID,
		"paymentOrderID": session.ID,
		"provider":       session.Provider,
		"total":          order.Totals.Total.StringFixed(domain.MoneyPlaces),
		"itemCount":      order.Totals.ItemCount,
	})
	return CheckoutSubmission{Order: order, Session: session}, nil
}

// sessionRequest builds the provider payload from the stored snapshot only.
func (s *checkoutService) sessionRequest(order domain.Order, idempotencyKey string) payments.CheckoutSessionRequest {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:       line.Name,
			SKU:        line.ProductID,
			Quantity:   int64(line.Quantity),
			UnitAmount: domain.RoundMoney(line.UnitPrice),
			ImageURL:   line.ImageRef,
		})
	}
	return payments.CheckoutSessionRequest{
		Reference:      order.ID,
		Amount:         order.Totals.Total,
		ItemTotal:      order.Totals.Subtotal,
		Shipping:       order.Totals.Shipping,
		Currency:       order.Currency,
		ReturnURL:      s.returnURL,
		CancelURL:      s.cancelURL,
		PayerEmail:     order.Customer.Email,
		IdempotencyKey: idempotencyKey,
		Items:          items,
	}
}

// Approve captures the payment, marks the order Paid, clears the cart and publishes order.paid, in
// that order.
func (s *checkoutService) Approve(ctx context.Context, cmd ApproveCheckoutCommand) (CheckoutConfirmation, error) {
	order, err := s.ownedOrder(ctx, cmd.Owner, cmd.OrderID)
	if err != nil {
		return CheckoutConfirmation{}, err
	}
	switch order.Status {
	case domain.OrderStatusPaid:
		return s.confirmation(order), nil
	case domain.OrderStatusFailed:
		return CheckoutConfirmation{}, ErrCheckoutOrderClosed
	}

	// Only the provider order recorded at submit time may be captured for this order.
	paymentOrderID := strings.TrimSpace(cmd.PaymentOrderID)
	if order.PaymentOrderID == "" || (paymentOrderID != "" && paymentOrderID != order.PaymentOrderID) {
		return CheckoutConfirmation{}, ErrCheckoutInvalidInput
	}
	paymentOrderID = order.PaymentOrderID

	state := order.CheckoutState
	if state == "" {
		state = domain.CheckoutStateOrderCreated
	}
	attempt := &domain.CheckoutAttempt{State: state, History: []domain.CheckoutState{state}}
	if err := attempt.Apply(domain.CheckoutEventAuthorize); err != nil {
		return CheckoutConfirmation{}, fmt.Errorf("%w: %v", ErrCheckoutOrderClosed, err)
	}

	details, err := s.payments.Capture(ctx,
		payments.PaymentContext{PreferredProvider: order.Provider, Currency: order.Currency},
		payments.CaptureRequest{PaymentOrderID: paymentOrderID, IdempotencyKey: "capture-" + order.ID},
	)
	if err != nil {
		_ = attempt.Apply(domain.CheckoutEventFail)
		s.logger(ctx, "checkout.capture.failed", map[string]any{
			"orderID":        order.ID,
			"paymentOrderID": paymentOrderID,
			"error":          err.Error(),
		})
		return CheckoutConfirmation{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	if !details.Amount.IsZero() && !details.Amount.Equal(order.Totals.Total) {
		s.logger(ctx, "checkout.capture.amount_mismatch", map[string]any{
			"orderID":  order.ID,
			"expected": order.Totals.Total.StringFixed(domain.MoneyPlaces),
			"captured": details.Amount.StringFixed(domain.MoneyPlaces),
		})
	}
	if err := attempt.Apply(domain.CheckoutEventFinalize); err != nil {
		return CheckoutConfirmation{}, err
	}

	paid, err := s.markPaid(ctx, order, details)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotPending) {
			if current, findErr := s.orders.FindByID(ctx, order.ID); findErr == nil && current.Status == domain.OrderStatusPaid {
				return s.confirmation(current), nil
			}
		}
		s.logger(ctx, "checkout.reconciliation_required", map[string]any{
			"orderID":        order.ID,
			"paymentOrderID": paymentOrderID,
			"transactionID":  details.TransactionID,
			"error":          err.Error(),
		})
		return CheckoutConfirmation{}, &ReconciliationError{OrderID: order.ID, TransactionID: details.TransactionID, Err: err}
	}

	if owner, ok := CartOwnerFromKey(paid.CartKey); ok {
		if err := s.carts.Clear(ctx, owner); err != nil {
			s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
				"orderID": paid.ID,
				"error":   err.Error(),
			})
		}
	}
	s.publishPaid(ctx, paid)

	s.logger(ctx, "checkout.order.paid", map[string]any{
		"orderID":       paid.ID,
		"transactionID": details.TransactionID,
		"provider":      paid.Provider,
		"captureStatus": string(details.Status),
	})
	return s.confirmation(paid), nil
}

// markPaid records the provider capture on the order. A capture the provider still holds is stored
// with its capture_pending status so settlement can be followed up.
func (s *checkoutService) markPaid(ctx context.Context, order Order, details payments.PaymentDetails) (Order, error) {
	capturedAt := s.now()
	if details.CapturedAt != nil {
		capturedAt = details.CapturedAt.UTC()
	}
	currency := details.Currency
	if currency == "" {
		currency = order.Currency
	}
	if details.Status == payments.StatusCapturePending {
		s.logger(ctx, "checkout.capture.settlement_pending", map[string]any{
			"orderID":       order.ID,
			"transactionID": details.TransactionID,
		})
	}
	return s.orders.MarkPaid(ctx, order.ID, domain.PaymentCapture{
		TransactionID: details.TransactionID,
		Status:        string(details.Status),
		Amount:        details.Amount,
		Currency:      strings.ToUpper(currency),
		PayerEmail:    details.PayerEmail,
		CapturedAt:    capturedAt,
	}, s.now())
}

// Cancel marks a Pending order Failed. The cart is left untouched.
func (s *checkoutService) Cancel(ctx context.Context, cmd CancelCheckoutCommand) (Order, error) {
	order, err := s.ownedOrder(ctx, cmd.Owner, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	switch order.Status {
	case domain.OrderStatusFailed:
		return order, nil
	case domain.OrderStatusPaid:
		return Order{}, ErrCheckoutOrderClosed
	}

	failed, err := s.orders.MarkFailed(ctx, order.ID, domain.FailureReasonCancelled, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotPending) {
			current, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr == nil && current.Status == domain.OrderStatusFailed {
				return current, nil
			}
			return Order{}, ErrCheckoutOrderClosed
		}
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	s.logger(ctx, "checkout.order.cancelled", map[string]any{"orderID": failed.ID})
	return failed, nil
}

// ReportError records a widget-side payment error. Neither the order nor the cart changes.
func (s *checkoutService) ReportError(ctx context.Context, cmd ReportCheckoutErrorCommand) error {
	fields := map[string]any{
		"cartKey": cmd.Owner.Key(),
		"code":    truncateRunes(strings.TrimSpace(cmd.Code), 64),
		"message": truncateRunes(strings.TrimSpace(cmd.Message), 256),
	}
	if orderID := strings.TrimSpace(cmd.OrderID); orderID != "" {
		if _, err := s.ownedOrder(ctx, cmd.Owner, orderID); err != nil {
			return err
		}
		fields["orderID"] = orderID
	}
	s.logger(ctx, "checkout.payment.error_reported", fields)
	return nil
}

// ExpirePending marks Pending orders older than olderThan as Failed with reason expired. Orders that
// reached the provider are looked up first: a captured payment is finalized as Paid instead, and an
// order whose payment cannot be verified stays Pending for the next run.
func (s *checkoutService) ExpirePending(ctx context.Context, olderThan time.Duration) (ExpirePendingResult, error) {
	if olderThan <= 0 {
		olderThan = s.pendingTTL
	}
	result := ExpirePendingResult{Cutoff: s.now().Add(-olderThan)}

	for batch := 0; batch < maxExpireBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		orders, err := s.orders.ListPendingBefore(ctx, result.Cutoff, s.batchSize)
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		progressed := false
		for _, order := range orders {
			outcome, err := s.settleStale(ctx, order)
			if err != nil {
				return result, err
			}
			switch outcome {
			case staleExpired:
				result.Expired++
				progressed = true
			case staleReconciled:
				result.Reconciled++
				progressed = true
			default:
				result.Skipped++
			}
		}
		// A full batch that only held skipped orders would be listed again unchanged.
		if len(orders) < s.batchSize || !progressed {
			break
		}
	}

	s.logger(ctx, "checkout.pending.expired", map[string]any{
		"cutoff":     result.Cutoff.Format(time.RFC3339),
		"expired":    result.Expired,
		"reconciled": result.Reconciled,
		"skipped":    result.Skipped,
	})
	return result, nil
}

type staleOutcome int

const (
	staleSkipped staleOutcome = iota
	staleExpired
	staleReconciled
)

func (s *checkoutService) settleStale(ctx context.Context, order Order) (staleOutcome, error) {
	if order.PaymentOrderID != "" {
		details, err := s.payments.LookupPayment(ctx,
			payments.PaymentContext{PreferredProvider: order.Provider, Currency: order.Currency},
			payments.LookupRequest{PaymentOrderID: order.PaymentOrderID},
		)
		if err != nil {
			s.logger(ctx, "checkout.pending.lookup_failed", map[string]any{
				"orderID":        order.ID,
				"paymentOrderID": order.PaymentOrderID,
				"error":          err.Error(),
			})
			return staleSkipped, nil
		}
		if details.Captured {
			return s.reconcileCaptured(ctx, order, details)
		}
	}

	if _, err := s.orders.MarkFailed(ctx, order.ID, domain.FailureReasonExpired, s.now()); err != nil {
		if errors.Is(err, repositories.ErrOrderNotPending) {
			return staleSkipped, nil
		}
		return staleSkipped, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return staleExpired, nil
}

// reconcileCaptured finalizes an order whose capture succeeded but was never recorded. The cart is
// left alone because it may already hold a newer selection.
func (s *checkoutService) reconcileCaptured(ctx context.Context, order Order, details payments.PaymentDetails) (staleOutcome, error) {
	paid, err := s.markPaid(ctx, order, details)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotPending) {
			return staleSkipped, nil
		}
		s.logger(ctx, "checkout.reconciliation_required", map[string]any{
			"orderID":        order.ID,
			"paymentOrderID": order.PaymentOrderID,
			"transactionID":  details.TransactionID,
			"error":          err.Error(),
		})
		return staleSkipped, nil
	}
	s.publishPaid(ctx, paid)
	s.logger(ctx, "checkout.order.reconciled", map[string]any{
		"orderID":       paid.ID,
		"transactionID": details.TransactionID,
	})
	return staleReconciled, nil
}

// Order returns the order for its owner; other callers get ErrCheckoutOrderNotFound.
func (s *checkoutService) Order(ctx context.Context, owner CartOwner, orderID string) (Order, error) {
	return s.ownedOrder(ctx, owner, orderID)
}

func (s *checkoutService) ownedOrder(ctx context.Context, owner CartOwner, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrCheckoutInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrCheckoutOrderNotFound
		}
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if !order.OwnedBy(owner.UserID, owner.Key()) {
		return Order{}, ErrCheckoutOrderNotFound
	}
	return order, nil
}

func (s *checkoutService) abandon(ctx context.Context, orderID string, reason string) {
	if _, err := s.orders.MarkFailed(ctx, orderID, reason, s.now()); err != nil {
		s.logger(ctx, "checkout.order.abandon_failed", map[string]any{
			"orderID": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) publishPaid(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	event := domain.OrderPaidEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Email:     order.Customer.Email,
		Total:     order.Totals.Total.StringFixed(domain.MoneyPlaces),
		Currency:  order.Currency,
		Provider:  order.Provider,
		ItemCount: order.Totals.ItemCount,
	}
	if order.PaymentReference != nil {
		event.TransactionID = *order.PaymentReference
	}
	if order.PaidAt != nil {
		event.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	if _, err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) confirmation(order Order) CheckoutConfirmation {
	return CheckoutConfirmation{
		Order:        order.Snapshot(),
		RedirectPath: s.confirmationPath + "?orderId=" + url.QueryEscape(order.ID),
	}
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
