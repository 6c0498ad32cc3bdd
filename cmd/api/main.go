package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/southernsense/storefront/internal/di"
	"github.com/southernsense/storefront/internal/handlers"
	"github.com/southernsense/storefront/internal/payments"
	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/cartstore"
	"github.com/southernsense/storefront/internal/platform/config"
	"github.com/southernsense/storefront/internal/platform/events"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/platform/idempotency"
	"github.com/southernsense/storefront/internal/platform/observability"
	"github.com/southernsense/storefront/internal/platform/secrets"
	"github.com/southernsense/storefront/internal/repositories"
	firestoreRepo "github.com/southernsense/storefront/internal/repositories/firestore"
	"github.com/southernsense/storefront/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_SERVER_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	cartStore, closeCartStore, err := cartstore.Open(cfg.Redis, cfg.Cart)
	if err != nil {
		logger.Fatal("failed to initialise cart store", zap.Error(err))
	}
	defer func() {
		if err := closeCartStore(); err != nil {
			logger.Warn("cart store close error", zap.Error(err))
		}
	}()

	paymentManager, err := di.NewPaymentManager(cfg, baseLogger)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	publisher, closePublisher, err := newOrderPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer closePublisher()

	healthRepo, err := newHealthRepository(firestoreProvider, cartStore, paymentManager, fetcher, buildInfo)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		CartStore: cartStore,
		Payments:  paymentManager,
		Events:    publisher,
		Firebase:  firebaseVerifier,
		Logger:    baseLogger,
		Build:     buildInfo,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(idempotency.Logger(observability.NewEventLogger(baseLogger, "idempotency"))),
	)

	cleanup := newCleanupWorker(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	cleanup.Start(ctx)

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout,
		handlers.WithSubmitMiddleware(idempotencyMiddleware),
		handlers.WithSubmitRateLimit(cfg.Checkout.SubmitRateLimit, cfg.Checkout.SubmitRateWindow, time.Now),
	)
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Accounts, svc.Cart)
	accountHandlers := handlers.NewAccountHandlers(authenticator, svc.Accounts, svc.Navigation)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog)
	internalHandlers := handlers.NewInternalHandlers(svc.Checkout,
		handlers.WithInternalIdempotencyStore(idempotencyStore),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		handlers.CartSessionMiddleware(handlers.CartSessionConfig{
			CookieName: cfg.Cart.CookieName,
			Secure:     cfg.Cart.CookieSecure,
			TTL:        cfg.Cart.TTL,
		}),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(catalogHandlers.Routes),
		handlers.WithAccountRoutes(accountHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCartMergeRoutes(cartHandlers.MergeRoutes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(checkoutHandlers.OrderRoutes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), baseLogger, cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	handler := otelhttp.NewHandler(router, "storefront-api",
		otelhttp.WithPropagators(observability.Propagator()),
		otelhttp.WithSpanNameFormatter(observability.SpanName),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("southern sense storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanup.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

// newOrderPublisher returns a nil publisher when no topic is configured, which turns order-paid
// events off.
func newOrderPublisher(ctx context.Context, cfg config.Config) (*events.PubSubOrderPublisher, func(), error) {
	topicName := strings.TrimSpace(cfg.PubSub.OrderPaidTopic)
	if topicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := events.NewPubSubOrderPublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		publisher.Stop()
		_ = client.Close()
	}, nil
}

func newHealthRepository(provider *pfirestore.Provider, store cartstore.Store, manager *payments.Manager, fetcher *secrets.Fetcher, build services.BuildInfo) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		},
		{
			Name:    "cartStore",
			Timeout: time.Second,
			Check:   store.Ping,
		},
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}

	pingers := manager.Pingers()
	names := make([]string, 0, len(pingers))
	for name := range pingers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "payments." + name,
			Timeout: 2 * time.Second,
			Check:   pingers[name].Ping,
		})
	}

	return repositories.NewDependencyHealthRepository(checks,
		repositories.WithBuildInfo(build.Version, build.Environment),
	)
}

func buildOIDCMiddleware(logger *zap.Logger, base *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, auth.Logger(observability.NewEventLogger(base, "oidc")))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(auth.OIDCPolicy{
		Audience:        audience,
		Issuers:         issuers,
		ServiceAccounts: cfg.Security.OIDC.ServiceAccounts,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the configured payment provider cannot run without.
func requiredSecretNames(env map[string]string) []string {
	provider := strings.ToLower(strings.TrimSpace(env["API_PSP_DEFAULT_PROVIDER"]))
	if provider == "" {
		provider = payments.ProviderPayPal
	}

	required := make([]string, 0, 3)
	switch provider {
	case payments.ProviderPayPal:
		required = append(required, "PSP.PayPalSecret")
	case payments.ProviderStripe:
		required = append(required, "PSP.StripeAPIKey")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_CART_STORE_DRIVER"]), "redis") && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}
