package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

// CatalogHandlers serves the public home page data and product lookups.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers GET /home and GET /products/{productId}.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/home", h.home)
	r.Get("/products/{productId}", h.product)
}

type homeResponse struct {
	Content  map[string]any  `json:"content"`
	Featured *productPayload `json:"featured,omitempty"`
}

type productPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Price       string `json:"price"`
	ImageRef    string `json:"imageRef,omitempty"`
}

func (h *CatalogHandlers) home(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	page, err := h.catalog.Home(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := homeResponse{Content: page.Content.Fields}
	if resp.Content == nil {
		resp.Content = map[string]any{}
	}
	if page.Featured != nil {
		featured := buildProductPayload(*page.Featured)
		resp.Featured = &featured
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandlers) product(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	product, err := h.catalog.Product(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]productPayload{"product": buildProductPayload(product)})
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		Category:    product.Category,
		Price:       formatMoney(product.Price),
		ImageRef:    product.ImageRef,
	}
}
