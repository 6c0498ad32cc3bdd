package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

const defaultStreamHeartbeat = 25 * time.Second

// MeHandlers exposes endpoints scoped to the signed-in shopper.
type MeHandlers struct {
	authn     *auth.Authenticator
	accounts  services.AccountService
	carts     services.CartService
	heartbeat time.Duration
}

// MeOption customises MeHandlers.
type MeOption func(*MeHandlers)

// WithStreamHeartbeat sets how often idle cart streams send a keep-alive comment.
func WithStreamHeartbeat(d time.Duration) MeOption {
	return func(h *MeHandlers) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// NewMeHandlers constructs handlers enforcing Firebase authentication.
func NewMeHandlers(authn *auth.Authenticator, accounts services.AccountService, carts services.CartService, opts ...MeOption) *MeHandlers {
	h := &MeHandlers{
		authn:     authn,
		accounts:  accounts,
		carts:     carts,
		heartbeat: defaultStreamHeartbeat,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Get("/cart/stream", h.streamCart)
}

type profileResponse struct {
	Profile profilePayload `json:"profile"`
}

type profilePayload struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		serviceUnavailable(w, r, "account")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	profile, err := h.accounts.Profile(r.Context(), identity.UID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profileResponse{Profile: buildProfilePayload(profile)})
}

// streamCart pushes the full cart with totals as server-sent events on every remote change.
func (h *MeHandlers) streamCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		done <- h.carts.Watch(ctx, identity.UID, func(view services.CartView) error {
			data, err := marshalCartEvent(view)
			if err != nil {
				return err
			}
			select {
			case events <- data:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				_, _ = fmt.Fprintf(w, "event: error\ndata: {\"message\":%q}\n\n", "Your cart could not be loaded. Please refresh.")
				flusher.Flush()
			}
			return
		case data := <-events:
			if _, err := fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func buildProfilePayload(profile services.UserProfile) profilePayload {
	payload := profilePayload{
		UserID:    profile.ID,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Role:      profile.Role,
	}
	if !profile.CreatedAt.IsZero() {
		payload.CreatedAt = profile.CreatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
