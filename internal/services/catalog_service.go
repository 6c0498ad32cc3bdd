package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/repositories"
)

const (
	// HomepageContentID is the siteContent document rendered on the home page.
	HomepageContentID = "homepage"
	// FeaturedProductField names the homepage field holding the featured product id.
	FeaturedProductField = "featuredProductID"
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Content repositories.ContentRepository
	Logger  func(context.Context, string, map[string]any)
}

type catalogService struct {
	catalog repositories.CatalogRepository
	content repositories.ContentRepository
	logger  func(context.Context, string, map[string]any)
}

var (
	// ErrCatalogInvalidInput indicates the caller supplied an invalid product id.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the product is unknown or inactive.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
	// ErrCatalogUnavailable indicates the catalog could not be read.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog service: catalog repository is required")
	}
	if deps.Content == nil {
		return nil, fmt.Errorf("catalog service: content repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		catalog: deps.Catalog,
		content: deps.Content,
		logger:  logger,
	}, nil
}

// Home returns the homepage content and the featured product. Either part degrades to empty on
// failure so the page still renders.
func (s *catalogService) Home(ctx context.Context) (HomePage, error) {
	page := HomePage{Content: SiteContent{ID: HomepageContentID, Fields: map[string]any{}}}

	content, err := s.content.Get(ctx, HomepageContentID)
	switch {
	case err == nil:
		page.Content = content
		if page.Content.Fields == nil {
			page.Content.Fields = map[string]any{}
		}
	case !isRepoNotFound(err):
		s.logger(ctx, "catalog.home.content_degraded", map[string]any{"error": err.Error()})
	}

	featured, err := s.featuredProduct(ctx, page.Content)
	switch {
	case err == nil:
		featured.Price = domain.RoundMoney(featured.Price)
		page.Featured = &featured
	case !isRepoNotFound(err):
		s.logger(ctx, "catalog.home.featured_degraded", map[string]any{"error": err.Error()})
	}
	return page, nil
}

// featuredProduct loads the product the homepage document points at. The featured flag on products
// is only consulted when the document names none.
func (s *catalogService) featuredProduct(ctx context.Context, content SiteContent) (Product, error) {
	raw, ok := content.Fields[FeaturedProductField]
	if !ok {
		return s.catalog.FeaturedProduct(ctx)
	}
	productID, _ := raw.(string)
	productID = strings.TrimSpace(productID)
	if productID == "" || strings.Contains(productID, "/") {
		return Product{}, fmt.Errorf("%w: featured product id %v", ErrCatalogInvalidInput, raw)
	}
	return s.catalog.GetProduct(ctx, productID)
}

func (s *catalogService) Product(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || strings.Contains(productID, "/") {
		return Product{}, ErrCatalogInvalidInput
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, ErrCatalogProductNotFound
		}
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if !product.Active {
		return Product{}, ErrCatalogProductNotFound
	}
	product.Price = domain.RoundMoney(product.Price)
	return product, nil
}
