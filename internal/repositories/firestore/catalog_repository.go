package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/southernsense/storefront/internal/domain"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/repositories"
)

const (
	productCollection = "products"
	contentCollection = "siteContent"
)

// CatalogRepository reads products from Firestore.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil),
	}, nil
}

// GetProduct loads a product by id. Inactive products are reported as not found.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data.toDomain(doc.ID)
	if !product.Active {
		return domain.Product{}, pfirestore.WrapError("products.get", status.Errorf(codes.NotFound, "product %s is inactive", doc.ID))
	}
	return product, nil
}

// FeaturedProduct returns the first active product flagged as featured.
func (r *CatalogRepository) FeaturedProduct(ctx context.Context) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("featured", "==", true).Limit(5)
	})
	if err != nil {
		return domain.Product{}, err
	}
	for _, doc := range docs {
		if product := doc.Data.toDomain(doc.ID); product.Active {
			return product, nil
		}
	}
	return domain.Product{}, pfirestore.WrapError("products.featured", status.Error(codes.NotFound, "no featured product"))
}

type productDocument struct {
	Name        string  `firestore:"name"`
	Description string  `firestore:"description"`
	Category    string  `firestore:"category"`
	Price       float64 `firestore:"price"`
	ImageRef    string  `firestore:"image"`
	Featured    bool    `firestore:"featured"`
	Inactive    bool    `firestore:"inactive,omitempty"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Price:       floatToMoney(d.Price),
		ImageRef:    d.ImageRef,
		Featured:    d.Featured,
		Active:      !d.Inactive,
	}
}

// ContentRepository reads editable siteContent documents.
type ContentRepository struct {
	base *pfirestore.BaseRepository[map[string]any]
}

var _ repositories.ContentRepository = (*ContentRepository)(nil)

// NewContentRepository constructs a Firestore-backed content repository.
func NewContentRepository(provider *pfirestore.Provider) (*ContentRepository, error) {
	if provider == nil {
		return nil, errors.New("content repository requires firestore provider")
	}
	decode := func(snap *firestore.DocumentSnapshot) (map[string]any, error) {
		return snap.Data(), nil
	}
	return &ContentRepository{
		base: pfirestore.NewBaseRepository[map[string]any](provider, contentCollection, decode),
	}, nil
}

// Get loads a content document such as "homepage".
func (r *ContentRepository) Get(ctx context.Context, contentID string) (domain.SiteContent, error) {
	if r == nil || r.base == nil {
		return domain.SiteContent{}, errors.New("content repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(contentID))
	if err != nil {
		return domain.SiteContent{}, err
	}
	updatedAt := doc.UpdateTime.UTC()
	if ts, ok := doc.Data["updatedAt"].(time.Time); ok && !ts.IsZero() {
		updatedAt = ts.UTC()
	}
	return domain.SiteContent{
		ID:        doc.ID,
		Fields:    doc.Data,
		UpdatedAt: updatedAt,
	}, nil
}
