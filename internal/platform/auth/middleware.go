package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenRevoked signals a token issued before a sign-out-everywhere or for a disabled user.
	ErrTokenRevoked = errors.New("auth: firebase id token revoked")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into request identities.
type Authenticator struct {
	verifier TokenVerifier
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token for a real account.
// Anonymous-auth tokens are refused because they cannot own a remote cart or a profile.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "Please sign in to continue.")
				return
			}
			identity, err := a.identify(r.Context(), tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}
			if identity.Anonymous() {
				respondAuthError(w, http.StatusUnauthorized, "account_required", "Please sign in to your account to continue.")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth attaches an identity when a bearer token is present and lets guests
// through. Anonymous-auth tokens are treated as guests. A present but invalid token is still
// rejected so a stale session is never silently treated as a guest checkout.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			tokenStr, ok := extractBearerToken(header)
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "Please sign in again.")
				return
			}
			identity, err := a.identify(r.Context(), tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}
			if identity.Anonymous() {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identify(ctx context.Context, tokenStr string) (*Identity, error) {
	if a == nil || a.verifier == nil {
		return nil, ErrTokenInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return nil, ErrTokenInvalid
	}
	return identityFromToken(token), nil
}

func claimAsString(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func claimAsBool(claims map[string]any, key string) bool {
	v, _ := claims[key].(bool)
	return v
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "Your session has expired. Please sign in again.")
	case errors.Is(err, ErrTokenRevoked):
		respondAuthError(w, http.StatusUnauthorized, "token_revoked", "You have been signed out. Please sign in again.")
	case errors.Is(err, context.DeadlineExceeded):
		// Key fetch or revocation lookup timed out; the shopper's session may still be fine.
		respondAuthError(w, http.StatusServiceUnavailable, "auth_unavailable", "Sign-in is temporarily unavailable. Please try again.")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "Please sign in again.")
	}
}
