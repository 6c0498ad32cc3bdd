package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/payments"
	"github.com/southernsense/storefront/internal/platform/cartstore"
	"github.com/southernsense/storefront/internal/platform/config"
	"github.com/southernsense/storefront/internal/repositories"
	"github.com/southernsense/storefront/internal/services"
)

type fakeRegistry struct {
	health repositories.HealthRepository
	closed bool
}

type fakeOrders struct{ repositories.OrderRepository }
type fakeCarts struct{ repositories.CartRepository }
type fakeUsers struct{ repositories.UserRepository }
type fakeCatalog struct{ repositories.CatalogRepository }
type fakeContent struct{ repositories.ContentRepository }

type fakeHealth struct{}

func (fakeHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{Status: "ok"}, nil
}

func (r *fakeRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *fakeRegistry) Orders() repositories.OrderRepository    { return fakeOrders{} }
func (r *fakeRegistry) Carts() repositories.CartRepository      { return fakeCarts{} }
func (r *fakeRegistry) Users() repositories.UserRepository      { return fakeUsers{} }
func (r *fakeRegistry) Catalog() repositories.CatalogRepository { return fakeCatalog{} }
func (r *fakeRegistry) Content() repositories.ContentRepository { return fakeContent{} }
func (r *fakeRegistry) Health() repositories.HealthRepository   { return r.health }

type fakeProvider struct{ payments.Provider }

func testConfig() config.Config {
	var cfg config.Config
	cfg.Cart.FlatShipping = decimal.RequireFromString("10.00")
	cfg.Cart.Currency = "usd"
	cfg.Checkout.PendingTTL = 24 * time.Hour
	cfg.Checkout.ExpireBatchSize = 50
	return cfg
}

func testManager(t *testing.T) *payments.Manager {
	t.Helper()
	manager, err := payments.NewManager(map[string]payments.Provider{payments.ProviderPayPal: fakeProvider{}})
	require.NoError(t, err)
	return manager
}

func TestNewContainerBuildsServices(t *testing.T) {
	ctx := context.Background()
	reg := &fakeRegistry{health: fakeHealth{}}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	container, err := NewContainer(ctx, testConfig(), reg, Infrastructure{
		CartStore: cartstore.NewMemoryStore(time.Hour, func() time.Time { return now }),
		Payments:  testManager(t),
		Clock:     func() time.Time { return now },
	})
	require.NoError(t, err)

	svc := container.Services
	assert.NotNil(t, svc.Cart)
	assert.NotNil(t, svc.Checkout)
	assert.NotNil(t, svc.Accounts)
	assert.NotNil(t, svc.Catalog)
	assert.NotNil(t, svc.Navigation)
	assert.NotNil(t, svc.System)

	view, err := svc.Cart.Get(ctx, services.CartOwner{Session: "0b4f6c2e-8f4a-4b8e-9f3d-2a7c1d5e6f70"})
	require.NoError(t, err)
	assert.Empty(t, view.Cart.Lines)

	require.NoError(t, container.Close(ctx))
	assert.True(t, reg.closed)
}

func TestNewContainerWithoutHealthSkipsSystemService(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), &fakeRegistry{}, Infrastructure{
		CartStore: cartstore.NewMemoryStore(time.Hour, time.Now),
		Payments:  testManager(t),
	})
	require.NoError(t, err)
	assert.Nil(t, container.Services.System)
}

func TestNewContainerValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewContainer(ctx, testConfig(), nil, Infrastructure{})
	require.Error(t, err)

	_, err = NewContainer(ctx, testConfig(), &fakeRegistry{}, Infrastructure{
		Payments: testManager(t),
	})
	require.ErrorContains(t, err, "cart service")

	_, err = NewContainer(ctx, testConfig(), &fakeRegistry{}, Infrastructure{
		CartStore: cartstore.NewMemoryStore(time.Hour, time.Now),
	})
	require.ErrorContains(t, err, "payment manager")
}

func TestNewPaymentManagerRequiresDefaultProviderCredentials(t *testing.T) {
	var cfg config.Config
	cfg.PSP.DefaultProvider = payments.ProviderPayPal
	cfg.PSP.StripeAPIKey = "sk_test_123"

	_, err := NewPaymentManager(cfg, nil)
	require.Error(t, err)

	cfg.PSP.DefaultProvider = payments.ProviderStripe
	manager, err := NewPaymentManager(cfg, nil)
	require.NoError(t, err)

	key, err := manager.Resolve(payments.PaymentContext{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, payments.ProviderStripe, key)
}
