package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/platform/requestctx"
	"github.com/southernsense/storefront/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads at most limit bytes into dst. An empty body is allowed when optional is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, optional bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// cartOwner resolves the signed-in user and the anonymous cart session of the request.
func cartOwner(r *http.Request) services.CartOwner {
	ctx := r.Context()
	owner := services.CartOwner{Session: requestctx.CartSession(ctx)}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		owner.UserID = strings.TrimSpace(identity.UID)
	}
	return owner
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "Please sign in to continue.", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, name string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(name+"_unavailable", fmt.Sprintf("%s service is unavailable", name), http.StatusServiceUnavailable))
}
