package repositories

import (
	"context"
	"time"

	domain "github.com/southernsense/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency wiring.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Carts() CartRepository
	Users() UserRepository
	Catalog() CatalogRepository
	Content() ContentRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders and their payment lifecycle.
type OrderRepository interface {
	// Insert stores a new order and fails with a conflict when the id already exists.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// AttachPaymentOrder records the provider order id on a Pending order.
	AttachPaymentOrder(ctx context.Context, orderID string, provider string, paymentOrderID string, now time.Time) error
	// MarkPaid moves a Pending order to Paid. It returns ErrOrderNotPending when the order already left Pending.
	MarkPaid(ctx context.Context, orderID string, capture domain.PaymentCapture, now time.Time) (domain.Order, error)
	// MarkFailed moves a Pending order to Failed with reason. It returns ErrOrderNotPending otherwise.
	MarkFailed(ctx context.Context, orderID string, reason string, now time.Time) (domain.Order, error)
	// ListPendingBefore returns up to limit Pending orders created before cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// CartRepository stores the remote cart mirror of signed-in users.
type CartRepository interface {
	// Get returns the stored cart; a missing document is reported as not found.
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, userID string, cart domain.Cart) error
	Delete(ctx context.Context, userID string) error
	// Watch emits the full cart on every change until ctx ends. A missing document is emitted as an empty cart.
	Watch(ctx context.Context, userID string, fn func(domain.Cart) error) error
}

// UserRepository stores customer profiles created at registration.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	// Create stores the profile and fails with a conflict when it already exists.
	Create(ctx context.Context, profile domain.UserProfile) error
}

// CatalogRepository reads the product catalog.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	// FeaturedProduct returns the first active featured product; not found when none is flagged.
	FeaturedProduct(ctx context.Context) (domain.Product, error)
}

// ContentRepository reads editable site content documents.
type ContentRepository interface {
	Get(ctx context.Context, contentID string) (domain.SiteContent, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
