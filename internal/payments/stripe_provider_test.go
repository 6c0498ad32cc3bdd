package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
)

type fakeStripeSessions struct {
	newParams *stripe.CheckoutSessionParams
	newResult *stripe.CheckoutSession
	getID     string
	getParams *stripe.CheckoutSessionParams
	getResult *stripe.CheckoutSession
	err       error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.newParams = params
	return f.newResult, f.err
}

func (f *fakeStripeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.getID = id
	f.getParams = params
	return f.getResult, f.err
}

func newStripeTestProvider(t *testing.T, sessions *fakeStripeSessions) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Sessions: sessions,
		Clock: func() time.Time {
			return time.Date(2024, time.May, 4, 9, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestStripeCreateCheckoutSessionBuildsLineItems(t *testing.T) {
	sessions := &fakeStripeSessions{newResult: &stripe.CheckoutSession{
		ID:          "cs_test_1",
		URL:         "https://checkout.stripe.test/cs_test_1",
		AmountTotal: 3300,
		ExpiresAt:   time.Date(2024, time.May, 5, 9, 0, 0, 0, time.UTC).Unix(),
	}}
	provider := newStripeTestProvider(t, sessions)

	req := validRequest("USD")
	req.PayerEmail = "buyer@example.com"
	req.IdempotencyKey = "order-1"
	session, err := provider.CreateCheckoutSession(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "cs_test_1" || session.ApproveURL != "https://checkout.stripe.test/cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.ExpiresAt.Equal(time.Date(2024, time.May, 5, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", session.ExpiresAt)
	}

	params := sessions.newParams
	if params == nil {
		t.Fatalf("expected session params")
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected item plus shipping lines, got %d", len(params.LineItems))
	}
	item := params.LineItems[0]
	if *item.Quantity != 2 || *item.PriceData.UnitAmount != 1250 || *item.PriceData.Currency != "usd" {
		t.Fatalf("unexpected item line %+v", item.PriceData)
	}
	shipping := params.LineItems[1]
	if *shipping.PriceData.UnitAmount != 800 || *shipping.PriceData.ProductData.Name != "Shipping" {
		t.Fatalf("unexpected shipping line %+v", shipping.PriceData)
	}
	if *params.ClientReferenceID != "order-1" || params.Metadata["orderId"] != "order-1" {
		t.Fatalf("expected order reference in params")
	}
	if *params.CustomerEmail != "buyer@example.com" {
		t.Fatalf("unexpected customer email %q", *params.CustomerEmail)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "order-1" {
		t.Fatalf("expected idempotency key")
	}
}

func TestStripeCreateCheckoutSessionRejectsTotalMismatch(t *testing.T) {
	sessions := &fakeStripeSessions{newResult: &stripe.CheckoutSession{ID: "cs_test_1", AmountTotal: 3400}}
	provider := newStripeTestProvider(t, sessions)

	if _, err := provider.CreateCheckoutSession(context.Background(), validRequest("USD")); err == nil {
		t.Fatalf("expected total mismatch error")
	}
}

func TestStripeCaptureRequiresPaidSession(t *testing.T) {
	sessions := &fakeStripeSessions{getResult: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Status:        stripe.CheckoutSessionStatusOpen,
	}}
	provider := newStripeTestProvider(t, sessions)

	_, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "cs_test_1"})
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
	if sessions.getID != "cs_test_1" {
		t.Fatalf("unexpected session lookup %q", sessions.getID)
	}
}

func TestStripeCapturePaidSession(t *testing.T) {
	created := time.Date(2024, time.May, 4, 9, 30, 0, 0, time.UTC)
	sessions := &fakeStripeSessions{getResult: &stripe.CheckoutSession{
		ID:              "cs_test_1",
		AmountTotal:     3300,
		Currency:        stripe.CurrencyUSD,
		PaymentStatus:   stripe.CheckoutSessionPaymentStatusPaid,
		Status:          stripe.CheckoutSessionStatusComplete,
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "buyer@example.com"},
		PaymentIntent:   &stripe.PaymentIntent{ID: "pi_123", Created: created.Unix()},
	}}
	provider := newStripeTestProvider(t, sessions)

	details, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "cs_test_1"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if details.TransactionID != "pi_123" || details.Status != StatusSucceeded || !details.Captured {
		t.Fatalf("unexpected details %+v", details)
	}
	if !details.Amount.Equal(decimal.RequireFromString("33.00")) || details.Currency != "USD" {
		t.Fatalf("unexpected amount %s %s", details.Amount, details.Currency)
	}
	if details.CapturedAt == nil || !details.CapturedAt.Equal(created) {
		t.Fatalf("unexpected captured at %v", details.CapturedAt)
	}
}

func TestStripeLookupExpiredSessionFails(t *testing.T) {
	sessions := &fakeStripeSessions{getResult: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Status:        stripe.CheckoutSessionStatusExpired,
	}}
	provider := newStripeTestProvider(t, sessions)

	details, err := provider.LookupPayment(context.Background(), LookupRequest{PaymentOrderID: "cs_test_1"})
	if err != nil {
		t.Fatalf("LookupPayment: %v", err)
	}
	if details.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", details.Status)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
