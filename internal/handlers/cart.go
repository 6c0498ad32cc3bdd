package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

const maxCartBodySize = 8 * 1024

// CartHandlers exposes the cart of the current browser session or signed-in user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. Auth is optional on every cart route except merge.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productId}", h.setQuantity)
	r.Delete("/items/{productId}", h.removeItem)
}

// MergeRoutes registers POST /cart:merge, which needs a signed-in user.
func (h *CartHandlers) MergeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/cart:merge", h.mergeCart)
}

type addCartItemRequest struct {
	ProductID string           `json:"productId"`
	Name      string           `json:"name"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
	ImageRef  string           `json:"imageRef"`
	Quantity  int              `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	Key       string            `json:"key"`
	Items     []cartItemPayload `json:"items"`
	Totals    totalsPayload     `json:"totals"`
	UpdatedAt string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	ImageRef  string `json:"imageRef,omitempty"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
}

type totalsPayload struct {
	Subtotal  string `json:"subtotal"`
	Shipping  string `json:"shipping"`
	Total     string `json:"total"`
	ItemCount int    `json:"itemCount"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	view, err := h.carts.Get(r.Context(), cartOwner(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}

	view, err := h.carts.AddItem(r.Context(), services.AddCartItemCommand{
		Owner:     cartOwner(r),
		ProductID: req.ProductID,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		ImageRef:  req.ImageRef,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	var req setQuantityRequest
	if !decodeJSONBody(w, r, maxCartBodySize, false, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	view, err := h.carts.SetQuantity(r.Context(), cartOwner(r), chi.URLParam(r, "productId"), *req.Quantity)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	view, err := h.carts.RemoveItem(r.Context(), cartOwner(r), chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, view)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	owner := cartOwner(r)
	if err := h.carts.Clear(r.Context(), owner); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, services.CartView{Cart: services.Cart{Key: owner.Key()}})
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	owner := cartOwner(r)
	view, err := h.carts.MergeOnSignIn(r.Context(), identity.UID, owner.Session)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, view)
}

func writeCart(w http.ResponseWriter, status int, view services.CartView) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	httpx.WriteJSON(w, status, cartResponse{Cart: buildCartPayload(view)})
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{
		Key:    view.Cart.Key,
		Items:  make([]cartItemPayload, 0, len(view.Cart.Lines)),
		Totals: buildTotalsPayload(view.Totals),
	}
	for _, line := range view.Cart.Lines {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: formatMoney(line.UnitPrice),
			ImageRef:  line.ImageRef,
			Quantity:  line.Quantity,
			LineTotal: formatMoney(domain.LineTotal(line)),
		})
	}
	if !view.Cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = view.Cart.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func buildTotalsPayload(totals services.Totals) totalsPayload {
	return totalsPayload{
		Subtotal:  formatMoney(totals.Subtotal),
		Shipping:  formatMoney(totals.Shipping),
		Total:     formatMoney(totals.Total),
		ItemCount: totals.ItemCount,
	}
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}

func marshalCartEvent(view services.CartView) ([]byte, error) {
	return json.Marshal(buildCartPayload(view))
}
