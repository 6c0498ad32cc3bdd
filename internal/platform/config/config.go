package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	envPrefix                = "API_"
	defaultEnvFile           = ".env"
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer    = "https://accounts.google.com"
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Firebase    FirebaseConfig    `envPrefix:"FIREBASE_"`
	Firestore   FirestoreConfig   `envPrefix:"FIRESTORE_"`
	Storage     StorageConfig     `envPrefix:"STORAGE_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	Cart        CartConfig        `envPrefix:"CART_"`
	Checkout    CheckoutConfig    `envPrefix:"CHECKOUT_"`
	PSP         PSPConfig         `envPrefix:"PSP_"`
	PubSub      PubSubConfig      `envPrefix:"PUBSUB_"`
	Security    SecurityConfig    `envPrefix:"SECURITY_"`
	Idempotency IdempotencyConfig `envPrefix:"IDEMPOTENCY_"`
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	// CheckRevoked makes every token verification consult Firebase for revoked sessions.
	CheckRevoked bool `env:"CHECK_REVOKED"`
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string `env:"PROJECT_ID"`
	EmulatorHost string `env:"EMULATOR_HOST"`
}

// StorageConfig lists bucket names used by the data tools.
type StorageConfig struct {
	ExportsBucket string `env:"EXPORTS_BUCKET"`
}

// RedisConfig points at the anonymous cart store.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// CartConfig controls cart persistence and pricing.
type CartConfig struct {
	StoreDriver  string          `env:"STORE_DRIVER" envDefault:"memory"`
	TTL          time.Duration   `env:"TTL" envDefault:"720h"`
	CookieName   string          `env:"COOKIE_NAME" envDefault:"ss_cart"`
	CookieSecure bool            `env:"COOKIE_SECURE" envDefault:"true"`
	FlatShipping decimal.Decimal `env:"FLAT_SHIPPING" envDefault:"10.00"`
	Currency     string          `env:"CURRENCY" envDefault:"USD"`
}

// CheckoutConfig controls the checkout flow.
type CheckoutConfig struct {
	ConfirmationPath string        `env:"CONFIRMATION_PATH" envDefault:"/order-confirmation/"`
	ReturnURL        string        `env:"RETURN_URL"`
	CancelURL        string        `env:"CANCEL_URL"`
	PendingTTL       time.Duration `env:"PENDING_TTL" envDefault:"24h"`
	ExpireBatchSize  int           `env:"EXPIRE_BATCH_SIZE" envDefault:"200"`
	SubmitRateLimit  int           `env:"SUBMIT_RATE_LIMIT" envDefault:"5"`
	SubmitRateWindow time.Duration `env:"SUBMIT_RATE_WINDOW" envDefault:"1m"`
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"paypal"`
	StripeAPIKey    string `env:"STRIPE_API_KEY"`
	PayPalClientID  string `env:"PAYPAL_CLIENT_ID"`
	PayPalSecret    string `env:"PAYPAL_SECRET"`
	PayPalBaseURL   string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`
}

// PubSubConfig names the topics order events are published to.
type PubSubConfig struct {
	ProjectID      string `env:"PROJECT_ID"`
	OrderPaidTopic string `env:"ORDER_PAID_TOPIC"`
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string     `env:"ENVIRONMENT" envDefault:"local"`
	OIDC        OIDCConfig `envPrefix:"OIDC_"`
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL         string   `env:"JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	Audience        string   `env:"AUDIENCE"`
	Issuers         []string `env:"ISSUERS" envSeparator:","`
	ServiceAccounts []string `env:"SERVICE_ACCOUNTS" envSeparator:","`
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string        `env:"HEADER" envDefault:"Idempotency-Key"`
	TTL              time.Duration `env:"TTL" envDefault:"24h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupBatchSize int           `env:"CLEANUP_BATCH" envDefault:"200"`
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		redacted = append(redacted, redactSecretName(name))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory
// (e.g. "PSP.PayPalSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective key/value environment map using the same precedence
// as Load: dotenv < OS env < explicit env map.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return mergedEnvironment(options)
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := mergedEnvironment(options)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Environment: values,
		Prefix:      envPrefix,
	}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	cfg.Security.Environment = strings.ToLower(strings.TrimSpace(cfg.Security.Environment))
	cfg.Cart.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.Cart.StoreDriver))
	cfg.Cart.Currency = strings.ToUpper(strings.TrimSpace(cfg.Cart.Currency))
	cfg.PSP.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.PSP.DefaultProvider))
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.PayPalSecret", &cfg.PSP.PayPalSecret},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
}

func mergedEnvironment(options loaderOptions) (map[string]string, error) {
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Cart.StoreDriver {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Cart.StoreDriver")
	}
	if cfg.Cart.FlatShipping.IsNegative() {
		missing = append(missing, "Cart.FlatShipping")
	}
	if len(cfg.Cart.Currency) != 3 {
		missing = append(missing, "Cart.Currency")
	}
	if strings.TrimSpace(cfg.Cart.CookieName) == "" {
		missing = append(missing, "Cart.CookieName")
	}
	if !strings.HasPrefix(cfg.Checkout.ConfirmationPath, "/") {
		missing = append(missing, "Checkout.ConfirmationPath")
	}
	if cfg.Checkout.PendingTTL <= 0 {
		missing = append(missing, "Checkout.PendingTTL")
	}
	if cfg.Checkout.ExpireBatchSize <= 0 {
		missing = append(missing, "Checkout.ExpireBatchSize")
	}
	switch cfg.PSP.DefaultProvider {
	case "paypal", "stripe":
	default:
		missing = append(missing, "PSP.DefaultProvider")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
