package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/southernsense/storefront/internal/payments"
	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/cartstore"
	"github.com/southernsense/storefront/internal/platform/config"
	"github.com/southernsense/storefront/internal/platform/events"
	"github.com/southernsense/storefront/internal/platform/observability"
	"github.com/southernsense/storefront/internal/repositories"
	"github.com/southernsense/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart       services.CartService
	Checkout   services.CheckoutService
	Accounts   services.AccountService
	Catalog    services.CatalogService
	Navigation services.NavigationService
	System     services.SystemService
}

// Infrastructure carries the non-repository collaborators built by the caller.
type Infrastructure struct {
	CartStore cartstore.Store
	Payments  *payments.Manager
	Events    *events.PubSubOrderPublisher
	Firebase  *auth.FirebaseVerifier
	Logger    *zap.Logger
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore-backed
// registries, while tests can supply in-memory ones.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and publishers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	base := infra.Logger
	if base == nil {
		base = zap.NewNop()
	}
	logger := func(component string) observability.EventLogger {
		return observability.NewEventLogger(base, component)
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Content: reg.Content(),
		Logger:  logger("catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Store:        infra.CartStore,
		Remote:       reg.Carts(),
		Catalog:      reg.Catalog(),
		FlatShipping: cfg.Cart.FlatShipping,
		Clock:        clock,
		Logger:       logger("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	accountDeps := services.AccountServiceDeps{
		Users:  reg.Users(),
		Clock:  clock,
		Logger: logger("account"),
	}
	if infra.Firebase != nil {
		accountDeps.Firebase = infra.Firebase
	}
	accountSvc, err := services.NewAccountService(accountDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build account service: %w", err)
	}
	svc.Accounts = accountSvc

	if infra.Payments == nil {
		return Services{}, errors.New("build checkout service: payment manager is required")
	}
	checkoutDeps := services.CheckoutServiceDeps{
		Orders:           reg.Orders(),
		Carts:            cartSvc,
		Payments:         infra.Payments,
		Currency:         strings.ToUpper(cfg.Cart.Currency),
		ReturnURL:        cfg.Checkout.ReturnURL,
		CancelURL:        cfg.Checkout.CancelURL,
		ConfirmationPath: cfg.Checkout.ConfirmationPath,
		PendingTTL:       cfg.Checkout.PendingTTL,
		ExpireBatchSize:  cfg.Checkout.ExpireBatchSize,
		Clock:            clock,
		Logger:           logger("checkout"),
		IDGenerator: func() string {
			return ulid.Make().String()
		},
	}
	if infra.Events != nil {
		checkoutDeps.Events = infra.Events
	}
	checkoutSvc, err := services.NewCheckoutService(checkoutDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	svc.Navigation = services.NewNavigationService()

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
			Critical:         []string{"firestore", "cartStore"},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// NewPaymentManager registers every provider with credentials. PayPal needs both halves of its
// client credentials; Stripe only its API key.
func NewPaymentManager(cfg config.Config, base *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)

	if strings.TrimSpace(cfg.PSP.PayPalClientID) != "" && strings.TrimSpace(cfg.PSP.PayPalSecret) != "" {
		paypal, err := payments.NewPayPalProvider(payments.PayPalProviderConfig{
			ClientID:     cfg.PSP.PayPalClientID,
			ClientSecret: cfg.PSP.PayPalSecret,
			BaseURL:      cfg.PSP.PayPalBaseURL,
			Logger:       payments.PayPalLogger(observability.NewEventLogger(base, "paypal")),
			Clock:        time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("paypal: %w", err)
		}
		providers[payments.ProviderPayPal] = paypal
	}
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: payments.StripeLogger(observability.NewEventLogger(base, "stripe")),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		providers[payments.ProviderStripe] = stripe
	}

	if _, ok := providers[cfg.PSP.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q has no credentials", cfg.PSP.DefaultProvider)
	}
	return payments.NewManager(providers, payments.WithDefaultProvider(cfg.PSP.DefaultProvider))
}
