package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/repositories"
)

// Registry bundles the Firestore repositories around one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	carts    *CartRepository
	users    *UserRepository
	catalog  *CatalogRepository
	content  *ContentRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository. health is supplied by the caller since its checks span services.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	content, err := NewContentRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		carts:    carts,
		users:    users,
		catalog:  catalog,
		content:  content,
		health:   health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository    { return r.orders }
func (r *Registry) Carts() repositories.CartRepository      { return r.carts }
func (r *Registry) Users() repositories.UserRepository      { return r.users }
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Content() repositories.ContentRepository { return r.content }
func (r *Registry) Health() repositories.HealthRepository   { return r.health }
