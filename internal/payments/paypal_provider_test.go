package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type paypalStub struct {
	mu            sync.Mutex
	tokenCalls    int
	createBodies  []map[string]any
	requestIDs    []string
	captureStatus int
	captureBody   string
	lookupBody    string
	failWith      int
}

func (s *paypalStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.tokenCalls++
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		s.mu.Lock()
		fail := s.failWith
		s.requestIDs = append(s.requestIDs, r.Header.Get("PayPal-Request-Id"))
		s.mu.Unlock()
		if fail != 0 {
			w.WriteHeader(fail)
			_, _ = io.WriteString(w, `{"name":"INTERNAL_SERVER_ERROR","debug_id":"dbg"}`)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.createBodies = append(s.createBodies, body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"PAYPAL-1","status":"CREATED","links":[{"rel":"approve","href":"https://paypal.example/approve"}]}`)
	})
	mux.HandleFunc("/v2/checkout/orders/PAYPAL-1/capture", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(s.captureStatus)
		_, _ = io.WriteString(w, s.captureBody)
	})
	mux.HandleFunc("/v2/checkout/orders/PAYPAL-1", func(w http.ResponseWriter, r *http.Request) {
		body := s.lookupBody
		if body == "" {
			body = completedOrderJSON
		}
		_, _ = io.WriteString(w, body)
	})
	return mux
}

const completedOrderJSON = `{
  "id": "PAYPAL-1",
  "status": "COMPLETED",
  "payer": {"email_address": "buyer@example.com"},
  "purchase_units": [{
    "reference_id": "order-1",
    "amount": {"currency_code": "USD", "value": "33.00"},
    "payments": {"captures": [{"id": "CAP-9", "status": "COMPLETED", "amount": {"currency_code": "USD", "value": "33.00"}, "create_time": "2024-05-04T10:00:00Z"}]}
  }]
}`

func newPayPalTestProvider(t *testing.T, stub *paypalStub, maxFailures uint32) *PayPalProvider {
	t.Helper()
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)
	provider, err := NewPayPalProvider(PayPalProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      server.URL,
		HTTPClient:   server.Client(),
		MaxFailures:  maxFailures,
		OpenTimeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPayPalProvider: %v", err)
	}
	return provider
}

func TestPayPalCreateCheckoutSessionSendsBreakdown(t *testing.T) {
	stub := &paypalStub{}
	provider := newPayPalTestProvider(t, stub, 0)

	req := validRequest("usd")
	req.IdempotencyKey = "order-1"
	session, err := provider.CreateCheckoutSession(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "PAYPAL-1" || session.ApproveURL != "https://paypal.example/approve" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", session.Status)
	}

	if len(stub.createBodies) != 1 {
		t.Fatalf("expected one create call, got %d", len(stub.createBodies))
	}
	unit := stub.createBodies[0]["purchase_units"].([]any)[0].(map[string]any)
	amount := unit["amount"].(map[string]any)
	if amount["value"] != "33.00" || amount["currency_code"] != "USD" {
		t.Fatalf("unexpected amount %v", amount)
	}
	breakdown := amount["breakdown"].(map[string]any)
	if breakdown["item_total"].(map[string]any)["value"] != "25.00" || breakdown["shipping"].(map[string]any)["value"] != "8.00" {
		t.Fatalf("unexpected breakdown %v", breakdown)
	}
	item := unit["items"].([]any)[0].(map[string]any)
	if item["quantity"] != "2" || item["sku"] != "candle" || item["unit_amount"].(map[string]any)["value"] != "12.50" {
		t.Fatalf("unexpected item %v", item)
	}
	if stub.requestIDs[0] != "order-1" {
		t.Fatalf("expected PayPal-Request-Id header, got %q", stub.requestIDs[0])
	}

	if _, err := provider.CreateCheckoutSession(context.Background(), req); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if stub.tokenCalls != 1 {
		t.Fatalf("expected cached access token, got %d token calls", stub.tokenCalls)
	}
}

func TestPayPalCaptureReturnsTransaction(t *testing.T) {
	stub := &paypalStub{captureStatus: http.StatusCreated, captureBody: completedOrderJSON}
	provider := newPayPalTestProvider(t, stub, 0)

	details, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "PAYPAL-1"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if details.TransactionID != "CAP-9" || !details.Captured || details.Status != StatusSucceeded {
		t.Fatalf("unexpected details %+v", details)
	}
	if !details.Amount.Equal(decimal.RequireFromString("33.00")) || details.PayerEmail != "buyer@example.com" {
		t.Fatalf("unexpected amount/payer %s %s", details.Amount, details.PayerEmail)
	}
	if details.CapturedAt == nil || !details.CapturedAt.Equal(time.Date(2024, time.May, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected captured at %v", details.CapturedAt)
	}
}

func TestPayPalCaptureNotApproved(t *testing.T) {
	stub := &paypalStub{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_NOT_APPROVED"}],"debug_id":"abc"}`,
	}
	provider := newPayPalTestProvider(t, stub, 0)

	_, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "PAYPAL-1"})
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
}

func TestPayPalCaptureAlreadyCapturedLooksUpOrder(t *testing.T) {
	stub := &paypalStub{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`,
	}
	provider := newPayPalTestProvider(t, stub, 0)

	details, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "PAYPAL-1"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if details.TransactionID != "CAP-9" {
		t.Fatalf("expected transaction from lookup, got %q", details.TransactionID)
	}
}

func TestPayPalCaptureAlreadyCapturedWithoutCaptureIsNotCompleted(t *testing.T) {
	stub := &paypalStub{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`,
		lookupBody:    `{"id":"PAYPAL-1","status":"APPROVED","purchase_units":[{"amount":{"currency_code":"USD","value":"33.00"}}]}`,
	}
	provider := newPayPalTestProvider(t, stub, 0)

	details, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "PAYPAL-1"})
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
	if details.TransactionID != "" {
		t.Fatalf("expected no transaction id, got %q", details.TransactionID)
	}
}

func TestPayPalPaymentDetailsCaptureStatus(t *testing.T) {
	order := func(captureStatus string) paypalOrder {
		var o paypalOrder
		raw := strings.ReplaceAll(completedOrderJSON, `"id": "CAP-9", "status": "COMPLETED"`, `"id": "CAP-9", "status": "`+captureStatus+`"`)
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return o
	}
	cases := []struct {
		captureStatus string
		captured      bool
		status        Status
	}{
		{captureStatus: "COMPLETED", captured: true, status: StatusSucceeded},
		{captureStatus: "PENDING", captured: true, status: StatusCapturePending},
		{captureStatus: "DECLINED", captured: false, status: StatusSucceeded},
	}
	for _, tc := range cases {
		details := paypalPaymentDetails(order(tc.captureStatus))
		if details.Captured != tc.captured || details.Status != tc.status {
			t.Fatalf("%s: got captured=%v status=%s", tc.captureStatus, details.Captured, details.Status)
		}
		if tc.captured && details.TransactionID != "CAP-9" {
			t.Fatalf("%s: expected transaction CAP-9, got %q", tc.captureStatus, details.TransactionID)
		}
	}
}

func TestPayPalBreakerOpensAfterServerErrors(t *testing.T) {
	stub := &paypalStub{failWith: http.StatusBadGateway}
	provider := newPayPalTestProvider(t, stub, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := provider.CreateCheckoutSession(ctx, validRequest("USD"))
		var apiErr *PayPalAPIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
			t.Fatalf("attempt %d: expected PayPal API error, got %v", i, err)
		}
	}

	_, err := provider.CreateCheckoutSession(ctx, validRequest("USD"))
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := len(stub.requestIDs); got != 2 {
		t.Fatalf("expected breaker to short-circuit the third call, got %d upstream calls", got)
	}
}

func TestPayPalClientErrorsDoNotTripBreaker(t *testing.T) {
	stub := &paypalStub{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`,
	}
	provider := newPayPalTestProvider(t, stub, 1)

	for i := 0; i < 3; i++ {
		_, err := provider.Capture(context.Background(), CaptureRequest{PaymentOrderID: "PAYPAL-1"})
		if errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("declines must not open the breaker")
		}
		if err == nil || !strings.Contains(err.Error(), "INSTRUMENT_DECLINED") {
			t.Fatalf("expected decline error, got %v", err)
		}
	}
}

func TestPayPalPingRejectsBadCredentials(t *testing.T) {
	stub := &paypalStub{}
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)
	provider, err := NewPayPalProvider(PayPalProviderConfig{ClientID: "client", ClientSecret: "wrong", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewPayPalProvider: %v", err)
	}
	if err := provider.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail with bad credentials")
	}
}
