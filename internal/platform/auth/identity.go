package auth

import (
	"context"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// ProviderAnonymous is the sign_in_provider Firebase stamps on anonymous-auth tokens. Those
// shoppers have no account, so they keep the session cart.
const ProviderAnonymous = "anonymous"

// Identity is the signed-in shopper extracted from a Firebase ID token. Nil means guest.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
	// Provider is the Firebase sign-in provider, e.g. "password" or "google.com".
	Provider string
	AuthTime time.Time

	token *firebaseauth.Token
}

func identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:           token.UID,
		Email:         claimAsString(token.Claims, "email"),
		EmailVerified: claimAsBool(token.Claims, "email_verified"),
		DisplayName:   claimAsString(token.Claims, "name"),
		Provider:      token.Firebase.SignInProvider,
		token:         token,
	}
	if token.AuthTime > 0 {
		identity.AuthTime = time.Unix(token.AuthTime, 0).UTC()
	}
	return identity
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Anonymous reports whether the token came from Firebase anonymous auth.
func (i *Identity) Anonymous() bool {
	return i != nil && i.Provider == ProviderAnonymous
}

type contextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
