package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/platform/cartstore"
	"github.com/southernsense/storefront/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid cart input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartQuantityTooLarge indicates a line would exceed domain.MaxLineQuantity. It matches ErrCartInvalidInput.
	ErrCartQuantityTooLarge = fmt.Errorf("%w: quantity above %d", ErrCartInvalidInput, domain.MaxLineQuantity)
	// ErrCartItemNotFound indicates the product has no line in the cart.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartProductNotFound indicates the product is unknown to the catalog and no fallback data was sent.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartUnavailable indicates the remote cart mirror could not be reached.
	ErrCartUnavailable = errors.New("cart service: unavailable")

	errCartStoreRequired  = errors.New("cart service: cart store is required")
	errCartRemoteRequired = errors.New("cart service: cart repository is required")
)

type productLookup interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CartServiceDeps bundles collaborators for the cart service.
type CartServiceDeps struct {
	Store        cartstore.Store
	Remote       repositories.CartRepository
	Catalog      productLookup
	FlatShipping decimal.Decimal
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type cartService struct {
	store    cartstore.Store
	remote   repositories.CartRepository
	catalog  productLookup
	shipping decimal.Decimal
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// storedCartLine is the JSON shape of one line in the browser-session store.
type storedCartLine struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Quantity int             `json:"quantity"`
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService. Anonymous carts live in Store; signed-in carts in Remote.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	if deps.Remote == nil {
		return nil, errCartRemoteRequired
	}
	if deps.FlatShipping.IsNegative() {
		return nil, errors.New("cart service: flat shipping must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		store:    deps.Store,
		remote:   deps.Remote,
		catalog:  deps.Catalog,
		shipping: domain.RoundMoney(deps.FlatShipping),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *cartService) Get(ctx context.Context, owner CartOwner) (CartView, error) {
	if owner.Key() == "" {
		return CartView{}, ErrCartInvalidInput
	}
	cart, err := s.load(ctx, owner)
	if err != nil {
		return CartView{}, err
	}
	return s.view(cart), nil
}

// AddItem accumulates quantity on an existing line or appends a new one. Catalog data wins over
// anything the client sent.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if cmd.Owner.Key() == "" || productID == "" {
		return CartView{}, ErrCartInvalidInput
	}
	quantity := cmd.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	if quantity > domain.MaxLineQuantity {
		return CartView{}, ErrCartQuantityTooLarge
	}

	line, err := s.resolveLine(ctx, productID, cmd)
	if err != nil {
		return CartView{}, err
	}
	line.Quantity = quantity

	return s.mutate(ctx, cmd.Owner, func(cart *Cart) error {
		if i, ok := cart.Index(productID); ok {
			if cart.Lines[i].Quantity > domain.MaxLineQuantity-quantity {
				return ErrCartQuantityTooLarge
			}
			cart.Lines[i].Quantity += quantity
			cart.Lines[i].UnitPrice = line.UnitPrice
			return nil
		}
		cart.Lines = append(cart.Lines, line)
		return nil
	})
}

// SetQuantity sets the quantity exactly. A quantity of zero or less removes the line.
func (s *cartService) SetQuantity(ctx context.Context, owner CartOwner, productID string, quantity int) (CartView, error) {
	productID = strings.TrimSpace(productID)
	if owner.Key() == "" || productID == "" {
		return CartView{}, ErrCartInvalidInput
	}
	if quantity > domain.MaxLineQuantity {
		return CartView{}, ErrCartQuantityTooLarge
	}
	return s.mutate(ctx, owner, func(cart *Cart) error {
		i, ok := cart.Index(productID)
		if quantity <= 0 {
			if ok {
				cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			}
			return nil
		}
		if !ok {
			return ErrCartItemNotFound
		}
		cart.Lines[i].Quantity = quantity
		return nil
	})
}

// RemoveItem drops the line; removing an absent product is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, owner CartOwner, productID string) (CartView, error) {
	return s.SetQuantity(ctx, owner, productID, 0)
}

func (s *cartService) Totals(ctx context.Context, owner CartOwner) (Totals, error) {
	view, err := s.Get(ctx, owner)
	if err != nil {
		return Totals{}, err
	}
	return view.Totals, nil
}

// Clear persists an empty cart.
func (s *cartService) Clear(ctx context.Context, owner CartOwner) error {
	if owner.Key() == "" {
		return ErrCartInvalidInput
	}
	empty := Cart{Key: owner.Key(), Lines: []CartLine{}, UpdatedAt: s.now()}
	return s.save(ctx, owner, empty)
}

// MergeOnSignIn copies lines that exist only in the browser-session cart into the user's cart. For
// products present in both, the signed-in quantity wins. The session cart is deleted afterwards.
func (s *cartService) MergeOnSignIn(ctx context.Context, userID string, session string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	session = strings.TrimSpace(session)
	if userID == "" {
		return CartView{}, ErrCartInvalidInput
	}
	userOwner := CartOwner{UserID: userID}

	remote, err := s.loadRemote(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	if session == "" {
		return s.view(remote), nil
	}

	local := s.loadLocal(ctx, session)
	added := 0
	for _, line := range local.Lines {
		if _, ok := remote.Index(line.ProductID); ok {
			continue
		}
		remote.Lines = append(remote.Lines, line)
		added++
	}
	if added > 0 {
		remote.UpdatedAt = s.now()
		if err := s.save(ctx, userOwner, remote); err != nil {
			return CartView{}, err
		}
	}

	if err := s.store.Delete(ctx, cartstore.Key(session)); err != nil {
		s.logger(ctx, "cart.merge.session_delete_failed", map[string]any{
			"userID": userID,
			"error":  err.Error(),
		})
	}
	s.logger(ctx, "cart.merged", map[string]any{
		"userID":     userID,
		"addedLines": added,
		"totalLines": len(remote.Lines),
	})
	return s.view(remote), nil
}

// Watch streams the signed-in cart with totals on every change until ctx ends.
func (s *cartService) Watch(ctx context.Context, userID string, fn func(CartView) error) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || fn == nil {
		return ErrCartInvalidInput
	}
	err := s.remote.Watch(ctx, userID, func(cart domain.Cart) error {
		cart.Lines = domain.NormalizeLines(cart.Lines)
		return fn(s.view(cart))
	})
	if err != nil && ctx.Err() == nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return ErrCartUnavailable
		}
	}
	return err
}

func (s *cartService) mutate(ctx context.Context, owner CartOwner, fn func(*Cart) error) (CartView, error) {
	cart, err := s.load(ctx, owner)
	if err != nil {
		return CartView{}, err
	}
	cart = cart.Clone()
	if err := fn(&cart); err != nil {
		return CartView{}, err
	}
	cart.Lines = domain.NormalizeLines(cart.Lines)
	cart.UpdatedAt = s.now()
	if err := s.save(ctx, owner, cart); err != nil {
		return CartView{}, err
	}
	return s.view(cart), nil
}

func (s *cartService) load(ctx context.Context, owner CartOwner) (Cart, error) {
	if owner.Authenticated() {
		return s.loadRemote(ctx, owner.UserID)
	}
	return s.loadLocal(ctx, owner.Session), nil
}

func (s *cartService) save(ctx context.Context, owner CartOwner, cart Cart) error {
	if owner.Authenticated() {
		if err := s.remote.Save(ctx, owner.UserID, cart); err != nil {
			s.logger(ctx, "cart.remote.write_failed", map[string]any{
				"userID": owner.UserID,
				"error":  err.Error(),
			})
			return ErrCartUnavailable
		}
		return nil
	}
	s.saveLocal(ctx, owner.Session, cart)
	return nil
}

func (s *cartService) loadRemote(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.remote.Get(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{Key: domain.UserCartKey(userID), Lines: []CartLine{}}, nil
		}
		s.logger(ctx, "cart.remote.read_failed", map[string]any{
			"userID": userID,
			"error":  err.Error(),
		})
		return Cart{}, ErrCartUnavailable
	}
	cart.Key = domain.UserCartKey(userID)
	cart.Lines = domain.NormalizeLines(cart.Lines)
	return cart, nil
}

// loadLocal never fails: unreadable or corrupt session carts degrade to an empty cart.
func (s *cartService) loadLocal(ctx context.Context, session string) Cart {
	empty := Cart{Key: domain.SessionCartKey(session), Lines: []CartLine{}}
	key := cartstore.Key(session)

	data, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cartstore.ErrNotFound) {
			s.logger(ctx, "cart.store.read_failed", map[string]any{
				"session": session,
				"error":   err.Error(),
			})
		}
		return empty
	}

	var stored []storedCartLine
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger(ctx, "cart.store.corrupt", map[string]any{
			"session": session,
			"error":   err.Error(),
		})
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger(ctx, "cart.store.reset_failed", map[string]any{
				"session": session,
				"error":   err.Error(),
			})
		}
		return empty
	}

	lines := make([]CartLine, 0, len(stored))
	for _, line := range stored {
		lines = append(lines, CartLine{
			ProductID: strings.TrimSpace(line.ID),
			Name:      line.Name,
			UnitPrice: domain.RoundMoney(line.Price),
			ImageRef:  line.Image,
			Quantity:  line.Quantity,
		})
	}
	empty.Lines = domain.NormalizeLines(lines)
	return empty
}

func (s *cartService) saveLocal(ctx context.Context, session string, cart Cart) {
	stored := make([]storedCartLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		stored = append(stored, storedCartLine{
			ID:       line.ProductID,
			Name:     line.Name,
			Price:    line.UnitPrice,
			Image:    line.ImageRef,
			Quantity: line.Quantity,
		})
	}
	data, err := json.Marshal(stored)
	if err == nil {
		err = s.store.Set(ctx, cartstore.Key(session), data)
	}
	if err != nil {
		s.logger(ctx, "cart.store.write_failed", map[string]any{
			"session":   session,
			"persisted": false,
			"error":     err.Error(),
		})
	}
}

func (s *cartService) resolveLine(ctx context.Context, productID string, cmd AddCartItemCommand) (CartLine, error) {
	catalogMiss := false
	if s.catalog != nil {
		product, err := s.catalog.GetProduct(ctx, productID)
		switch {
		case err == nil:
			return CartLine{
				ProductID: product.ID,
				Name:      product.Name,
				UnitPrice: domain.RoundMoney(product.Price),
				ImageRef:  product.ImageRef,
			}, nil
		case isRepoNotFound(err):
			catalogMiss = true
		default:
			s.logger(ctx, "cart.catalog.lookup_failed", map[string]any{
				"productID": productID,
				"error":     err.Error(),
			})
		}
	}

	name := strings.TrimSpace(cmd.Name)
	if name == "" || cmd.UnitPrice == nil || cmd.UnitPrice.IsNegative() {
		if catalogMiss {
			return CartLine{}, ErrCartProductNotFound
		}
		return CartLine{}, ErrCartInvalidInput
	}
	return CartLine{
		ProductID: productID,
		Name:      name,
		UnitPrice: domain.RoundMoney(*cmd.UnitPrice),
		ImageRef:  strings.TrimSpace(cmd.ImageRef),
	}, nil
}

func (s *cartService) view(cart Cart) CartView {
	if cart.Lines == nil {
		cart.Lines = []CartLine{}
	}
	return CartView{Cart: cart, Totals: domain.ComputeTotals(cart.Lines, s.shipping)}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
