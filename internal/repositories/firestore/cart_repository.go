package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/southernsense/storefront/internal/domain"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists the signed-in cart mirror using the user ID as document identifier.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil),
	}, nil
}

// Get loads the user's cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCartDocument(uid, doc.Data, doc.UpdateTime), nil
}

// Save replaces the whole cart document.
func (r *CartRepository) Save(ctx context.Context, userID string, cart domain.Cart) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.base.Set(ctx, strings.TrimSpace(userID), cartDocument{
		Items:     encodeLines(cart.Lines),
		UpdatedAt: updatedAt,
	})
}

// Delete removes the cart document.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	return r.base.Delete(ctx, strings.TrimSpace(userID))
}

// Watch streams the cart until ctx ends.
func (r *CartRepository) Watch(ctx context.Context, userID string, fn func(domain.Cart) error) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	return r.base.Watch(ctx, uid, func(doc pfirestore.Document[cartDocument], exists bool) error {
		if !exists {
			return fn(domain.Cart{Key: cartKey(uid)})
		}
		return fn(decodeCartDocument(uid, doc.Data, doc.UpdateTime))
	})
}

type cartDocument struct {
	Items     []lineDocument `firestore:"items"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

func decodeCartDocument(userID string, doc cartDocument, updateTime time.Time) domain.Cart {
	updatedAt := doc.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = updateTime.UTC()
	}
	return domain.Cart{
		Key:       cartKey(userID),
		Lines:     domain.NormalizeLines(decodeLines(doc.Items)),
		UpdatedAt: updatedAt,
	}
}

func cartKey(userID string) string {
	return domain.UserCartKey(userID)
}
