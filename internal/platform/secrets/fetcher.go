// Package secrets resolves secret:// configuration references against Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/southernsense/storefront/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret://name[?version=N&project=P] references. Values are cached for a short
// period so rotated PayPal and Stripe credentials are picked up without a restart. When Secret
// Manager cannot be reached the fetcher reads a local dotenv file keyed by the upper-cased secret
// name (secret://paypal-client-secret is PAYPAL_CLIENT_SECRET).
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	project    string
	cacheTTL   time.Duration
	now        func() time.Time
	retry      []gax.CallOption

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cacheEntry

	fetches metric.Int64Counter
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	cacheTTL     time.Duration
	now          func() time.Time
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithDefaultProject sets the project used when a reference carries none.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL controls how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a client, mainly for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal; the fetcher then
// serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:       cfg.logger,
		project:      cfg.project,
		cacheTTL:     cfg.cacheTTL,
		now:          cfg.now,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cacheEntry),
		retry: []gax.CallOption{
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
					Initial:    100 * time.Millisecond,
					Max:        2 * time.Second,
					Multiplier: 2,
				})
			}),
		},
	}

	fetches, err := cfg.meter.Int64Counter("secrets.fetch.count",
		metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		cfg.logger.Warn("secrets: unable to register fetch metric", zap.Error(err))
	}
	f.fetches = fetches

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(parsed.key()); ok {
		f.count(ctx, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.project
	}
	if project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, parsed)
		if err == nil {
			f.store(parsed.key(), value)
			f.count(ctx, "remote")
			return value, nil
		}
		if !isFallbackError(err) {
			f.count(ctx, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.canonical, err)
		}
		f.logger.Warn("secrets: secret manager unreachable, trying fallback file", zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok := f.lookupFallback(parsed)
	if !ok {
		f.count(ctx, "error")
		return "", fmt.Errorf("secrets: no value for %s", parsed.canonical)
	}
	f.store(parsed.key(), value)
	f.count(ctx, "fallback")
	return value, nil
}

// Invalidate drops cached values for ref so the next Resolve refetches it.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.key())
	f.mu.Unlock()
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok || f.now().Sub(entry.fetchedAt) >= f.cacheTTL {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cacheEntry{value: value, fetchedAt: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name}, f.retry...)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("empty payload")
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			f.logger.Debug("secrets: fallback file not loaded", zap.String("path", f.fallbackPath), zap.Error(err))
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[envName(ref.name)]
	return value, ok
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.fetches == nil {
		return
	}
	f.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r reference) key() string {
	return r.canonical + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: invalid reference %q", ref)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   version,
		project:   strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func envName(secret string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(secret))
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
