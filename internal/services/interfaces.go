package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	Totals             = domain.Totals
	Customer           = domain.Customer
	Order              = domain.Order
	UserProfile        = domain.UserProfile
	Product            = domain.Product
	SiteContent        = domain.SiteContent
	SystemHealthReport = domain.SystemHealthReport
)

// CartOwner identifies whose cart an operation targets. A signed-in user always wins over the
// anonymous browser session.
type CartOwner struct {
	UserID  string
	Session string
}

// Key returns the domain cart key of the owner, or "" when neither id is set.
func (o CartOwner) Key() string {
	switch {
	case o.UserID != "":
		return domain.UserCartKey(o.UserID)
	case o.Session != "":
		return domain.SessionCartKey(o.Session)
	}
	return ""
}

// Authenticated reports whether the owner is a signed-in user.
func (o CartOwner) Authenticated() bool {
	return o.UserID != ""
}

// CartOwnerFromKey reverses CartOwner.Key.
func CartOwnerFromKey(key string) (CartOwner, bool) {
	uid, session, ok := domain.ParseCartKey(key)
	if !ok {
		return CartOwner{}, false
	}
	return CartOwner{UserID: uid, Session: session}, true
}

// CartView is a cart together with its freshly computed totals.
type CartView struct {
	Cart   Cart
	Totals Totals
}

// AddCartItemCommand adds quantity units of a product. Name, UnitPrice and ImageRef are only used when
// the catalog does not know the product.
type AddCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Name      string
	UnitPrice *decimal.Decimal
	ImageRef  string
	Quantity  int
}

// CartService is the single source of truth for in-progress carts.
type CartService interface {
	Get(ctx context.Context, owner CartOwner) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	SetQuantity(ctx context.Context, owner CartOwner, productID string, quantity int) (CartView, error)
	RemoveItem(ctx context.Context, owner CartOwner, productID string) (CartView, error)
	Totals(ctx context.Context, owner CartOwner) (Totals, error)
	Clear(ctx context.Context, owner CartOwner) error
	MergeOnSignIn(ctx context.Context, userID string, session string) (CartView, error)
	Watch(ctx context.Context, userID string, fn func(CartView) error) error
}

// CheckoutSummary is what the checkout page renders before submission.
type CheckoutSummary struct {
	Cart      CartView
	Currency  string
	CanSubmit bool
}

// SubmitCheckoutCommand carries a submitted shipping form.
type SubmitCheckoutCommand struct {
	Owner          CartOwner
	Customer       Customer
	Provider       string
	IdempotencyKey string
}

// CheckoutSubmission is the Pending order plus the provider order the buyer approves.
type CheckoutSubmission struct {
	Order   Order
	Session payments.CheckoutSession
}

// ApproveCheckoutCommand finalizes a Pending order after the buyer approved the payment.
type ApproveCheckoutCommand struct {
	Owner          CartOwner
	OrderID        string
	PaymentOrderID string
}

// CheckoutConfirmation is returned once an order is Paid.
type CheckoutConfirmation struct {
	Order        Order
	RedirectPath string
}

// CancelCheckoutCommand records that the buyer abandoned the payment.
type CancelCheckoutCommand struct {
	Owner   CartOwner
	OrderID string
}

// ReportCheckoutErrorCommand records an error reported by the payment widget.
type ReportCheckoutErrorCommand struct {
	Owner   CartOwner
	OrderID string
	Code    string
	Message string
}

// ExpirePendingResult summarises one expiry sweep.
type ExpirePendingResult struct {
	Cutoff     time.Time
	Expired    int
	Reconciled int
	Skipped    int
}

// CheckoutService drives the checkout state machine from a validated form to a Paid order.
type CheckoutService interface {
	Summary(ctx context.Context, owner CartOwner) (CheckoutSummary, error)
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSubmission, error)
	Approve(ctx context.Context, cmd ApproveCheckoutCommand) (CheckoutConfirmation, error)
	Cancel(ctx context.Context, cmd CancelCheckoutCommand) (Order, error)
	ReportError(ctx context.Context, cmd ReportCheckoutErrorCommand) error
	ExpirePending(ctx context.Context, olderThan time.Duration) (ExpirePendingResult, error)
	Order(ctx context.Context, owner CartOwner, orderID string) (Order, error)
}

// NavigationUser is the signed-in user as seen by navigation rules.
type NavigationUser struct {
	UID         string
	Email       string
	DisplayName string
}

// NavigationDecision lists the links to show and an optional redirect target.
type NavigationDecision struct {
	Path         string
	VisibleLinks []string
	Redirect     string
}

// NavigationService maps auth state onto visible links and redirects.
type NavigationService interface {
	Evaluate(path string, user *NavigationUser) NavigationDecision
}

// RegisterAccountCommand creates the profile of a freshly signed-up user.
type RegisterAccountCommand struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
}

// AccountService manages customer profiles.
type AccountService interface {
	Register(ctx context.Context, cmd RegisterAccountCommand) (UserProfile, bool, error)
	Profile(ctx context.Context, userID string) (UserProfile, error)
}

// HomePage is the content and featured product shown on the storefront home page.
type HomePage struct {
	Content  SiteContent
	Featured *Product
}

// CatalogService reads the catalog and editable site content.
type CatalogService interface {
	Home(ctx context.Context) (HomePage, error)
	Product(ctx context.Context, productID string) (Product, error)
}

// SystemService reports dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
