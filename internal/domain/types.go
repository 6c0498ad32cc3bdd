package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CartLine stores a single product entry within a cart. Quantity is always at least 1 once stored.
type CartLine struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	ImageRef  string
	Quantity  int
}

// Cart is the ordered, product-unique selection owned by one browser session or one signed-in user.
type Cart struct {
	Key       string
	Lines     []CartLine
	UpdatedAt time.Time
}

// Clone returns a copy that shares no slice storage with c.
func (c Cart) Clone() Cart {
	out := c
	if c.Lines != nil {
		out.Lines = append([]CartLine(nil), c.Lines...)
	}
	return out
}

// Index returns the position of productID in the cart.
func (c Cart) Index(productID string) (int, bool) {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Cart key prefixes distinguish signed-in carts from anonymous browser sessions.
const (
	userCartPrefix    = "user:"
	sessionCartPrefix = "cart:"
)

// UserCartKey returns the cart key of a signed-in user.
func UserCartKey(uid string) string {
	return userCartPrefix + strings.TrimSpace(uid)
}

// SessionCartKey returns the cart key of an anonymous browser session.
func SessionCartKey(session string) string {
	return sessionCartPrefix + strings.TrimSpace(session)
}

// ParseCartKey splits key into its owner. Exactly one of uid and session is non-empty when ok.
func ParseCartKey(key string) (uid string, session string, ok bool) {
	switch {
	case strings.HasPrefix(key, userCartPrefix) && len(key) > len(userCartPrefix):
		return key[len(userCartPrefix):], "", true
	case strings.HasPrefix(key, sessionCartPrefix) && len(key) > len(sessionCartPrefix):
		return "", key[len(sessionCartPrefix):], true
	}
	return "", "", false
}

// Totals are derived from cart lines and never stored on their own.
type Totals struct {
	Subtotal  decimal.Decimal
	Shipping  decimal.Decimal
	Total     decimal.Decimal
	ItemCount int
}

// Customer holds the shipping form submitted at checkout.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Address   string
	City      string
	State     string
	Zip       string
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// OrderStatus enumerates the payment lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPending is set when the payment flow starts.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid is set only after the provider captured the payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed marks a cancelled or abandoned attempt.
	OrderStatusFailed OrderStatus = "failed"
)

// Failure reasons recorded on Failed orders.
const (
	FailureReasonCancelled     = "cancelled"
	FailureReasonExpired       = "expired"
	FailureReasonProviderError = "provider_error"
)

// Order is a frozen snapshot of a cart plus the customer and payment lifecycle.
type Order struct {
	ID               string
	UserID           string
	CartKey          string
	Customer         Customer
	Items            []CartLine
	Totals           Totals
	Currency         string
	Status           OrderStatus
	CheckoutState    CheckoutState
	Provider         string
	PaymentOrderID   string
	PaymentReference *string
	Capture          *PaymentCapture
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	FailedAt         *time.Time
}

// PaymentCapture stores what the provider reported when funds moved.
type PaymentCapture struct {
	TransactionID string
	Status        string
	Amount        decimal.Decimal
	Currency      string
	PayerEmail    string
	CapturedAt    time.Time
}

// NewPendingOrder snapshots cart and totals into a Pending order.
func NewPendingOrder(id string, cart Cart, userID string, customer Customer, totals Totals, currency string, now time.Time) Order {
	return Order{
		ID:            id,
		UserID:        userID,
		CartKey:       cart.Key,
		Customer:      customer,
		Items:         cart.Clone().Lines,
		Totals:        totals,
		Currency:      currency,
		Status:        OrderStatusPending,
		CheckoutState: CheckoutStateOrderCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Snapshot returns a deep copy of the order.
func (o Order) Snapshot() Order {
	out := o
	out.Items = append([]CartLine(nil), o.Items...)
	if o.PaymentReference != nil {
		ref := *o.PaymentReference
		out.PaymentReference = &ref
	}
	if o.Capture != nil {
		capture := *o.Capture
		out.Capture = &capture
	}
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		out.PaidAt = &paidAt
	}
	if o.FailedAt != nil {
		failedAt := *o.FailedAt
		out.FailedAt = &failedAt
	}
	return out
}

// OwnedBy reports whether the order may be shown to the given user or anonymous cart.
func (o Order) OwnedBy(userID, cartKey string) bool {
	if o.UserID != "" {
		return o.UserID == userID
	}
	return cartKey != "" && o.CartKey == cartKey
}

// UserProfile is the customer document created at registration.
type UserProfile struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      string
	CreatedAt time.Time
}

// Product is a catalog entry. Price is authoritative over anything the client sends.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	ImageRef    string
	Featured    bool
	Active      bool
}

// SiteContent is an editable content document such as the homepage hero.
type SiteContent struct {
	ID        string
	Fields    map[string]any
	UpdatedAt time.Time
}

// OrderPaidEvent is published once an order is finalized.
type OrderPaidEvent struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId,omitempty"`
	Email         string `json:"email"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	Provider      string `json:"provider"`
	TransactionID string `json:"transactionId"`
	ItemCount     int    `json:"itemCount"`
	PaidAt        string `json:"paidAt"`
}

// Health statuses reported by readiness checks.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the result of probing one dependency.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
