package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting buyer approval.
	StatusPending Status = "pending"
	// StatusSucceeded indicates funds were captured.
	StatusSucceeded Status = "succeeded"
	// StatusCapturePending indicates the capture was accepted but the provider is holding the funds,
	// e.g. an eCheck or a PayPal risk review. The payment can still settle or be reversed.
	StatusCapturePending Status = "capture_pending"
	// StatusFailed indicates the provider declined or voided the payment.
	StatusFailed Status = "failed"
)

// Provider names used in configuration and on stored orders.
const (
	ProviderPayPal = "paypal"
	ProviderStripe = "stripe"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrProviderUnavailable is returned while the provider's circuit breaker is open.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrPaymentNotCompleted is returned when capture finds the buyer has not approved the payment.
	ErrPaymentNotCompleted = errors.New("payments: payment not completed")
)

// CheckoutLineItem describes one cart line sent to the provider.
type CheckoutLineItem struct {
	Name       string
	SKU        string
	Quantity   int64
	UnitAmount decimal.Decimal
	ImageURL   string
}

// CheckoutSessionRequest captures the payload required to create a provider order.
// Amount must equal ItemTotal plus Shipping and ItemTotal must equal the sum of the items.
type CheckoutSessionRequest struct {
	Reference      string
	Amount         decimal.Decimal
	ItemTotal      decimal.Decimal
	Shipping       decimal.Decimal
	Currency       string
	ReturnURL      string
	CancelURL      string
	PayerEmail     string
	IdempotencyKey string
	Items          []CheckoutLineItem
	Metadata       map[string]string
}

// Validate checks the amount breakdown reconciles exactly.
func (r CheckoutSessionRequest) Validate() error {
	if strings.TrimSpace(r.Currency) == "" {
		return errors.New("payments: currency is required")
	}
	if len(r.Items) == 0 {
		return errors.New("payments: at least one item is required")
	}
	sum := decimal.Zero
	for _, item := range r.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("payments: item %s has quantity %d", item.SKU, item.Quantity)
		}
		sum = sum.Add(item.UnitAmount.Mul(decimal.NewFromInt(item.Quantity)))
	}
	if !sum.Equal(r.ItemTotal) {
		return fmt.Errorf("payments: item total %s does not match items %s", r.ItemTotal.StringFixed(2), sum.StringFixed(2))
	}
	if !r.ItemTotal.Add(r.Shipping).Equal(r.Amount) {
		return fmt.Errorf("payments: amount %s does not match breakdown", r.Amount.StringFixed(2))
	}
	return nil
}

// CheckoutSession is the provider order the buyer approves.
type CheckoutSession struct {
	ID           string
	Provider     string
	Status       Status
	ApproveURL   string
	ClientSecret string
	ExpiresAt    time.Time
}

// CaptureRequest captures an approved provider order.
type CaptureRequest struct {
	PaymentOrderID string
	IdempotencyKey string
}

// LookupRequest returns provider specific payment details for reconciliation.
type LookupRequest struct {
	PaymentOrderID string
}

// PaymentDetails normalises provider specific fields for storage.
type PaymentDetails struct {
	Provider       string
	PaymentOrderID string
	TransactionID  string
	Status         Status
	Amount         decimal.Decimal
	Currency       string
	PayerEmail     string
	Captured       bool
	CapturedAt     *time.Time
}

// Provider defines the contract for payment adapters. It mirrors the widget's create and approve callbacks.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	Capture(ctx context.Context, req CaptureRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Pinger is implemented by providers that can prove reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap[ProviderPayPal]; ok {
		m.defaultProvider = ProviderPayPal
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Resolve returns the provider key that would serve paymentCtx.
func (m *Manager) Resolve(paymentCtx PaymentContext) (string, error) {
	key, _, err := m.resolveProvider(paymentCtx)
	return key, err
}

// Pingers returns the registered providers that support readiness checks, keyed by name.
func (m *Manager) Pingers() map[string]Pinger {
	out := make(map[string]Pinger)
	if m == nil {
		return out
	}
	for key, provider := range m.providers {
		if pinger, ok := provider.(Pinger); ok {
			out[key] = pinger
		}
	}
	return out
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession validates the breakdown and delegates to the resolved provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, paymentCtx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	if err := req.Validate(); err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// Capture delegates to the resolved provider.
func (m *Manager) Capture(ctx context.Context, paymentCtx PaymentContext, req CaptureRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Capture(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
