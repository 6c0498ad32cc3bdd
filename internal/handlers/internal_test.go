package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/platform/idempotency"
	"github.com/southernsense/storefront/internal/services"
)

func TestInternalHandlersExpirePending(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	var got time.Duration
	checkout := &stubCheckoutService{
		expireFunc: func(ctx context.Context, olderThan time.Duration) (services.ExpirePendingResult, error) {
			got = olderThan
			return services.ExpirePendingResult{Cutoff: now.Add(-olderThan), Expired: 4, Reconciled: 2, Skipped: 1}, nil
		},
	}
	router := chi.NewRouter()
	NewInternalHandlers(checkout).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/expire-pending", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got != 24*time.Hour {
		t.Fatalf("expected default 24h, got %s", got)
	}
	var resp expirePendingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Expired != 4 || resp.Reconciled != 2 || resp.Skipped != 1 || resp.Cutoff != "2024-05-11T10:00:00Z" {
		t.Fatalf("unexpected response %#v", resp)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/expire-pending", strings.NewReader(`{"olderThan":"2h"}`)))
	if rr.Code != http.StatusOK || got != 2*time.Hour {
		t.Fatalf("expected custom window, got status %d window %s", rr.Code, got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/expire-pending", strings.NewReader(`{"olderThan":"1s"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for tiny window, got %d", rr.Code)
	}
}

func TestInternalHandlersIdempotencyCleanup(t *testing.T) {
	now := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	store := idempotency.NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		if _, err := store.Reserve(ctx, key, "fp", now.Add(-2*time.Hour), time.Hour); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", now, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	router := chi.NewRouter()
	NewInternalHandlers(nil, WithInternalIdempotencyStore(store), WithInternalClock(func() time.Time { return now })).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/maintenance/idempotency:cleanup", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["removed"] != 2 {
		t.Fatalf("expected 2 removed, got %d", resp["removed"])
	}
}

func TestInternalHandlersUnavailable(t *testing.T) {
	router := chi.NewRouter()
	NewInternalHandlers(nil).Routes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/expire-pending", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
