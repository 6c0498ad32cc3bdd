package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/southernsense/storefront/internal/platform/config"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultPingCollection = "products"
	envEmulatorHost       = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID    = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the single Firestore client shared by the repositories, the idempotency store
// and the data tools. The client is dialled on first use; a failed dial is retried on the next call.
type Provider struct {
	projectID    string
	emulatorHost string
	dialTimeout  time.Duration
	pingPath     string
	clientOpts   []option.ClientOption

	mu     sync.RWMutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends client options, e.g. a service account key file.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// WithCredentialsFile authenticates with a service account key; blank keeps default credentials.
func WithCredentialsFile(path string) ProviderOption {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return WithClientOptions(option.WithCredentialsFile(path))
}

// WithPingCollection changes the collection read by Ping.
func WithPingCollection(collection string) ProviderOption {
	return func(p *Provider) {
		if collection = strings.TrimSpace(collection); collection != "" {
			p.pingPath = collection
		}
	}
}

// NewProvider prepares a Provider. The project falls back to GOOGLE_CLOUD_PROJECT and the emulator
// host to FIRESTORE_EMULATOR_HOST.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		projectID:    firstSet(cfg.ProjectID, os.Getenv(envGoogleProjectID)),
		emulatorHost: firstSet(cfg.EmulatorHost, os.Getenv(envEmulatorHost)),
		dialTimeout:  defaultDialTimeout,
		pingPath:     defaultPingCollection,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Client returns the shared Firestore client, dialling it on first use.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if p == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	p.mu.RLock()
	client, closed := p.client, p.closed
	p.mu.RUnlock()
	switch {
	case closed:
		return nil, ErrProviderClosed
	case client != nil:
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client == nil {
		dialled, err := p.dial(ctx)
		if err != nil {
			return nil, err
		}
		p.client = dialled
	}
	return p.client, nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if p.emulatorHost != "" {
		// The emulator is detected by the client library through the environment as well.
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, p.emulatorHost)
		}
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(p.emulatorHost),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(ctx, p.projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.projectID, err)
	}
	return client, nil
}

// Close releases the client. The Provider refuses further use afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RunTransaction executes fn inside a Firestore transaction using the provider's client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

// Ping reads at most one catalog document. An empty collection still counts as reachable.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(p.pingPath).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !isIteratorDone(err) {
		return WrapError("firestore.ping", err)
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
