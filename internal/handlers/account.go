package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

// AccountHandlers serves registration and the navigation decision for the static pages.
type AccountHandlers struct {
	authn      *auth.Authenticator
	accounts   services.AccountService
	navigation services.NavigationService
}

// NewAccountHandlers constructs account handlers.
func NewAccountHandlers(authn *auth.Authenticator, accounts services.AccountService, navigation services.NavigationService) *AccountHandlers {
	return &AccountHandlers{
		authn:      authn,
		accounts:   accounts,
		navigation: navigation,
	}
}

// Routes registers POST /auth/register and GET /navigation.
func (h *AccountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	register := r
	optional := r
	if h.authn != nil {
		register = r.With(h.authn.RequireFirebaseAuth())
		optional = r.With(h.authn.OptionalFirebaseAuth())
	}
	register.Post("/auth/register", h.register)
	optional.Get("/navigation", h.evaluateNavigation)
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type navigationResponse struct {
	Path         string   `json:"path"`
	SignedIn     bool     `json:"signedIn"`
	VisibleLinks []string `json:"visibleLinks"`
	Redirect     string   `json:"redirect,omitempty"`
}

func (h *AccountHandlers) register(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		serviceUnavailable(w, r, "account")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, true, &req) {
		return
	}
	email := req.Email
	if email == "" {
		email = identity.Email
	}

	profile, created, err := h.accounts.Register(r.Context(), services.RegisterAccountCommand{
		UserID:    identity.UID,
		Email:     email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, profileResponse{Profile: buildProfilePayload(profile)})
}

func (h *AccountHandlers) evaluateNavigation(w http.ResponseWriter, r *http.Request) {
	if h.navigation == nil {
		serviceUnavailable(w, r, "navigation")
		return
	}
	var user *services.NavigationUser
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
		user = &services.NavigationUser{UID: identity.UID, Email: identity.Email, DisplayName: identity.DisplayName}
	}
	decision := h.navigation.Evaluate(r.URL.Query().Get("path"), user)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Vary", "Authorization")
	httpx.WriteJSON(w, http.StatusOK, navigationResponse{
		Path:         decision.Path,
		SignedIn:     user != nil && user.UID != "",
		VisibleLinks: decision.VisibleLinks,
		Redirect:     decision.Redirect,
	})
}
