package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/southernsense/storefront/internal/platform/requestctx"
)

const (
	defaultCartCookieName = "ss_cart"
	defaultCartCookieTTL  = 30 * 24 * time.Hour
)

// CartSessionConfig controls the anonymous cart cookie.
type CartSessionConfig struct {
	CookieName string
	Secure     bool
	TTL        time.Duration
	// NewID overrides session id generation in tests.
	NewID func() string
}

// CartSessionMiddleware attaches the browser's cart session id to the request context, issuing a new
// random id when the cookie is missing or malformed. Each browser gets an independent cart.
func CartSessionMiddleware(cfg CartSessionConfig) func(http.Handler) http.Handler {
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = defaultCartCookieName
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCartCookieTTL
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := ""
			if cookie, err := r.Cookie(name); err == nil {
				if id, parseErr := uuid.Parse(strings.TrimSpace(cookie.Value)); parseErr == nil {
					session = id.String()
				}
			}
			if session == "" {
				session = newID()
			}
			// Refresh on every request so active carts never expire.
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    session,
				Path:     "/",
				MaxAge:   int(ttl / time.Second),
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r.WithContext(requestctx.WithCartSession(r.Context(), session)))
		})
	}
}
