package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/southernsense/storefront/internal/platform/observability"
)

const (
	defaultPayPalBaseURL     = "https://api-m.sandbox.paypal.com"
	defaultPayPalTimeout     = 30 * time.Second
	defaultBreakerFailures   = 5
	defaultBreakerOpenPeriod = 30 * time.Second
	tokenRefreshSkew         = time.Minute
	maxPayPalBody            = 1 << 20
)

// PayPalLogger defines the logging contract for PayPal provider operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   *http.Client
	Logger       PayPalLogger
	Clock        func() time.Time
	// MaxFailures consecutive transport or 5xx failures open the breaker for OpenTimeout.
	MaxFailures  uint32
	OpenTimeout  time.Duration
}

// PayPalProvider implements Provider against the PayPal Orders v2 REST API.
type PayPalProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       PayPalLogger
	clock        func() time.Time
	breaker      *gobreaker.CircuitBreaker[paypalResponse]

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

type paypalResponse struct {
	status int
	body   []byte
}

// PayPalAPIError carries a non-2xx PayPal response.
type PayPalAPIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Issue      string
}

// Error implements the error interface.
func (e *PayPalAPIError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("paypal: %d %s", e.StatusCode, e.Name)
	if e.Issue != "" {
		msg += " (" + e.Issue + ")"
	}
	if e.DebugID != "" {
		msg += " debug_id=" + e.DebugID
	}
	return msg
}

// NewPayPalProvider constructs a PayPal provider.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPayPalBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("paypal: invalid base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultPayPalTimeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultBreakerOpenPeriod
	}

	p := &PayPalProvider{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: secret,
		client:       httpClient,
		logger:       logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}
	p.breaker = gobreaker.NewCircuitBreaker[paypalResponse](gobreaker.Settings{
		Name:        ProviderPayPal,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger(context.Background(), "payments.paypal.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return p, nil
}

// CreateCheckoutSession creates a PayPal order with intent CAPTURE.
func (p *PayPalProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (session CheckoutSession, err error) {
	ctx, span := observability.StartSpan(ctx, "paypal.CreateOrder", attribute.String("order.reference", req.Reference))
	defer func() { observability.EndSpan(span, err) }()

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	items := make([]paypalItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, paypalItem{
			Name:       truncate(item.Name, 127),
			SKU:        truncate(item.SKU, 127),
			Quantity:   strconv.FormatInt(item.Quantity, 10),
			UnitAmount: paypalMoney(currency, item.UnitAmount),
			ImageURL:   item.ImageURL,
		})
	}

	payload := paypalCreateOrder{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnitRequest{{
			ReferenceID: req.Reference,
			CustomID:    req.Reference,
			Amount: paypalAmount{
				CurrencyCode: currency,
				Value:        req.Amount.StringFixed(2),
				Breakdown: &paypalBreakdown{
					ItemTotal: paypalMoney(currency, req.ItemTotal),
					Shipping:  paypalMoney(currency, req.Shipping),
				},
			},
			Items: items,
		}},
	}
	if req.ReturnURL != "" || req.CancelURL != "" {
		payload.ApplicationContext = &paypalApplicationContext{
			ReturnURL:  req.ReturnURL,
			CancelURL:  req.CancelURL,
			UserAction: "PAY_NOW",
		}
	}

	var order paypalOrder
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", req.IdempotencyKey, payload, &order); err != nil {
		return CheckoutSession{}, fmt.Errorf("paypal: create order: %w", err)
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"paypalOrderId": order.ID,
		"reference":     req.Reference,
		"status":        order.Status,
	})

	return CheckoutSession{
		ID:         order.ID,
		Provider:   ProviderPayPal,
		Status:     paypalStatus(order.Status),
		ApproveURL: order.link("approve", "payer-action"),
	}, nil
}

// Capture captures the approved PayPal order.
func (p *PayPalProvider) Capture(ctx context.Context, req CaptureRequest) (details PaymentDetails, err error) {
	ctx, span := observability.StartSpan(ctx, "paypal.CaptureOrder", attribute.String("paypal.order_id", req.PaymentOrderID))
	defer func() { observability.EndSpan(span, err) }()

	orderID := strings.TrimSpace(req.PaymentOrderID)
	if orderID == "" {
		return PaymentDetails{}, errors.New("paypal: order id is required")
	}

	var order paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := p.call(ctx, http.MethodPost, path, req.IdempotencyKey, struct{}{}, &order); err != nil {
		var apiErr *PayPalAPIError
		if errors.As(err, &apiErr) {
			switch apiErr.Issue {
			case "ORDER_NOT_APPROVED":
				return PaymentDetails{}, fmt.Errorf("%w: %v", ErrPaymentNotCompleted, err)
			case "ORDER_ALREADY_CAPTURED":
				details, err = p.LookupPayment(ctx, LookupRequest{PaymentOrderID: orderID})
				if err != nil {
					return PaymentDetails{}, err
				}
				if !details.Captured {
					return details, fmt.Errorf("%w: order %s reported captured without a capture", ErrPaymentNotCompleted, orderID)
				}
				return details, nil
			}
		}
		return PaymentDetails{}, fmt.Errorf("paypal: capture order: %w", err)
	}

	details = paypalPaymentDetails(order)
	if !details.Captured {
		return details, fmt.Errorf("%w: capture status %s", ErrPaymentNotCompleted, order.Status)
	}
	p.logger(ctx, "payments.paypal.order.captured", map[string]any{
		"paypalOrderId": order.ID,
		"transactionId": details.TransactionID,
	})
	return details, nil
}

// LookupPayment retrieves the PayPal order.
func (p *PayPalProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	orderID := strings.TrimSpace(req.PaymentOrderID)
	if orderID == "" {
		return PaymentDetails{}, errors.New("paypal: order id is required")
	}
	var order paypalOrder
	if err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), "", nil, &order); err != nil {
		return PaymentDetails{}, fmt.Errorf("paypal: lookup order: %w", err)
	}
	return paypalPaymentDetails(order), nil
}

// Ping obtains an access token to prove PayPal is reachable with the configured credentials.
func (p *PayPalProvider) Ping(ctx context.Context) error {
	_, err := p.accessToken(ctx)
	return err
}

func (p *PayPalProvider) call(ctx context.Context, method, path, requestID string, payload any, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	requestID = strings.TrimSpace(requestID)

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	resp, err := p.execute(func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
		if requestID != "" {
			req.Header.Set("PayPal-Request-Id", requestID)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	if resp.status == http.StatusUnauthorized {
		p.resetToken()
	}
	if resp.status < 200 || resp.status >= 300 {
		return decodePayPalError(resp)
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	now := p.clock()
	if p.token != "" && now.Add(tokenRefreshSkew).Before(p.tokenExpiry) {
		return p.token, nil
	}

	resp, err := p.execute(func() (*http.Request, error) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(p.clientID, p.clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("paypal: access token: %w", err)
	}
	if resp.status != http.StatusOK {
		return "", fmt.Errorf("paypal: access token: %w", decodePayPalError(resp))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.body, &token); err != nil {
		return "", fmt.Errorf("paypal: decode access token: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal: empty access token")
	}
	p.token = token.AccessToken
	p.tokenExpiry = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	return p.token, nil
}

func (p *PayPalProvider) resetToken() {
	p.tokenMu.Lock()
	p.token = ""
	p.tokenExpiry = time.Time{}
	p.tokenMu.Unlock()
}

// execute runs one HTTP exchange through the breaker. Only transport errors and 5xx responses count as
// breaker failures; 4xx responses are returned for the caller to interpret.
func (p *PayPalProvider) execute(build func() (*http.Request, error)) (paypalResponse, error) {
	resp, err := p.breaker.Execute(func() (paypalResponse, error) {
		req, err := build()
		if err != nil {
			return paypalResponse{}, err
		}
		httpResp, err := p.client.Do(req)
		if err != nil {
			return paypalResponse{}, err
		}
		defer httpResp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxPayPalBody))
		if err != nil {
			return paypalResponse{}, err
		}
		result := paypalResponse{status: httpResp.StatusCode, body: body}
		if httpResp.StatusCode >= 500 {
			return result, decodePayPalError(result)
		}
		return result, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return paypalResponse{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return resp, err
}

func decodePayPalError(resp paypalResponse) error {
	apiErr := &PayPalAPIError{StatusCode: resp.status}
	var payload struct {
		Name             string `json:"name"`
		Message          string `json:"message"`
		DebugID          string `json:"debug_id"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Details          []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if err := json.Unmarshal(resp.body, &payload); err == nil {
		apiErr.Name = payload.Name
		apiErr.Message = payload.Message
		apiErr.DebugID = payload.DebugID
		if apiErr.Name == "" {
			apiErr.Name = payload.Error
			apiErr.Message = payload.ErrorDescription
		}
		if len(payload.Details) > 0 {
			apiErr.Issue = payload.Details[0].Issue
		}
	}
	if apiErr.Name == "" {
		apiErr.Name = http.StatusText(resp.status)
	}
	return apiErr
}

type paypalMoneyValue struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalBreakdown struct {
	ItemTotal paypalMoneyValue `json:"item_total"`
	Shipping  paypalMoneyValue `json:"shipping"`
}

type paypalAmount struct {
	CurrencyCode string           `json:"currency_code"`
	Value        string           `json:"value"`
	Breakdown    *paypalBreakdown `json:"breakdown,omitempty"`
}

type paypalItem struct {
	Name       string           `json:"name"`
	SKU        string           `json:"sku,omitempty"`
	Quantity   string           `json:"quantity"`
	UnitAmount paypalMoneyValue `json:"unit_amount"`
	ImageURL   string           `json:"image_url,omitempty"`
}

type paypalPurchaseUnitRequest struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Items       []paypalItem `json:"items"`
}

type paypalApplicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

type paypalCreateOrder struct {
	Intent             string                      `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnitRequest `json:"purchase_units"`
	ApplicationContext *paypalApplicationContext   `json:"application_context,omitempty"`
}

type paypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type paypalCapture struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Amount     paypalMoneyValue `json:"amount"`
	CreateTime string           `json:"create_time"`
}

type paypalOrder struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []paypalLink `json:"links"`
	Payer  struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		Amount      paypalAmount `json:"amount"`
		Payments    struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o paypalOrder) link(rels ...string) string {
	for _, rel := range rels {
		for _, link := range o.Links {
			if link.Rel == rel {
				return link.Href
			}
		}
	}
	return ""
}

func paypalPaymentDetails(order paypalOrder) PaymentDetails {
	details := PaymentDetails{
		Provider:       ProviderPayPal,
		PaymentOrderID: order.ID,
		Status:         paypalStatus(order.Status),
		PayerEmail:     order.Payer.EmailAddress,
	}
	for _, unit := range order.PurchaseUnits {
		if details.Currency == "" {
			details.Currency = unit.Amount.CurrencyCode
			details.Amount, _ = decimal.NewFromString(unit.Amount.Value)
		}
		for _, capture := range unit.Payments.Captures {
			switch capture.Status {
			case "COMPLETED":
				details.Status = StatusSucceeded
			case "PENDING":
				details.Status = StatusCapturePending
			default:
				continue
			}
			details.TransactionID = capture.ID
			details.Captured = true
			if amount, err := decimal.NewFromString(capture.Amount.Value); err == nil {
				details.Amount = amount
				details.Currency = capture.Amount.CurrencyCode
			}
			if ts, err := time.Parse(time.RFC3339, capture.CreateTime); err == nil {
				capturedAt := ts.UTC()
				details.CapturedAt = &capturedAt
			}
		}
	}
	return details
}

func paypalStatus(status string) Status {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return StatusSucceeded
	case "VOIDED":
		return StatusFailed
	default:
		return StatusPending
	}
}

func paypalMoney(currency string, amount decimal.Decimal) paypalMoneyValue {
	return paypalMoneyValue{CurrencyCode: currency, Value: amount.StringFixed(2)}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
