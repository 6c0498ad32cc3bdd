package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Sessions  stripeSessionAPI
}

// StripeProvider implements Provider with Stripe Checkout. Checkout sessions in payment mode capture
// automatically, so Capture confirms the session was paid rather than moving funds itself.
type StripeProvider struct {
	sessions stripeSessionAPI
	account  string
	clock    func() time.Time
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions: sessions,
		account:  strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session with one line per cart item plus shipping.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.PayerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	metadata := map[string]string{"orderId": req.Reference}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items)+1)
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(item.Name),
			Metadata: map[string]string{"sku": item.SKU},
		}
		if item.ImageURL != "" {
			product.Images = []*string{stripe.String(item.ImageURL)}
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(minorUnits(item.UnitAmount)),
				ProductData: product,
			},
		})
	}
	if req.Shipping.IsPositive() {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(minorUnits(req.Shipping)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Shipping"),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if session.AmountTotal != 0 && session.AmountTotal != minorUnits(req.Amount) {
		return CheckoutSession{}, fmt.Errorf("stripe: session total %d does not match order amount %s", session.AmountTotal, req.Amount.StringFixed(2))
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"reference": req.Reference,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:           session.ID,
		Provider:     ProviderStripe,
		Status:       StatusPending,
		ApproveURL:   session.URL,
		ClientSecret: session.ClientSecret,
		ExpiresAt:    expiresAt,
	}, nil
}

// Capture confirms the Checkout session was paid and returns the payment intent as transaction id.
func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error) {
	details, err := p.LookupPayment(ctx, LookupRequest{PaymentOrderID: req.PaymentOrderID})
	if err != nil {
		return PaymentDetails{}, err
	}
	if !details.Captured {
		return details, fmt.Errorf("%w: session %s is %s", ErrPaymentNotCompleted, details.PaymentOrderID, details.Status)
	}
	p.logger(ctx, "payments.stripe.session.captured", map[string]any{
		"sessionId":     details.PaymentOrderID,
		"transactionId": details.TransactionID,
	})
	return details, nil
}

// LookupPayment retrieves the Checkout session with its payment intent expanded.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	sessionID := strings.TrimSpace(req.PaymentOrderID)
	if sessionID == "" {
		return PaymentDetails{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return stripePaymentDetails(session), nil
}

func stripePaymentDetails(session *stripe.CheckoutSession) PaymentDetails {
	if session == nil {
		return PaymentDetails{}
	}

	details := PaymentDetails{
		Provider:       ProviderStripe,
		PaymentOrderID: session.ID,
		Status:         StatusPending,
		Amount:         fromMinorUnits(session.AmountTotal),
		Currency:       strings.ToUpper(string(session.Currency)),
	}
	if session.CustomerDetails != nil {
		details.PayerEmail = session.CustomerDetails.Email
	}

	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		details.Status = StatusSucceeded
		details.Captured = true
	case session.Status == stripe.CheckoutSessionStatusExpired:
		details.Status = StatusFailed
	}

	if intent := session.PaymentIntent; intent != nil {
		details.TransactionID = intent.ID
		if details.Captured && intent.Created != 0 {
			capturedAt := time.Unix(intent.Created, 0).UTC()
			details.CapturedAt = &capturedAt
		}
	}
	return details
}
