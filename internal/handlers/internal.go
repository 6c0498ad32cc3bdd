package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/platform/idempotency"
	"github.com/southernsense/storefront/internal/services"
)

const (
	defaultExpireAfter      = 24 * time.Hour
	minExpireAfter          = 5 * time.Minute
	defaultIdempotencyBatch = 200
)

// InternalHandlers exposes maintenance endpoints for schedulers. Callers are authenticated by the
// middleware configured on the /internal group.
type InternalHandlers struct {
	checkout    services.CheckoutService
	idempotency idempotency.Store
	clock       func() time.Time
}

// InternalOption customises internal handlers.
type InternalOption func(*InternalHandlers)

// WithInternalIdempotencyStore enables POST /maintenance/idempotency:cleanup.
func WithInternalIdempotencyStore(store idempotency.Store) InternalOption {
	return func(h *InternalHandlers) {
		h.idempotency = store
	}
}

// WithInternalClock overrides the clock used for cleanup cutoffs.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs maintenance handlers.
func NewInternalHandlers(checkout services.CheckoutService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		checkout: checkout,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the maintenance endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout/expire-pending", h.expirePending)
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

type expirePendingRequest struct {
	OlderThan string `json:"olderThan"`
}

type expirePendingResponse struct {
	Cutoff     string `json:"cutoff"`
	Expired    int    `json:"expired"`
	Reconciled int    `json:"reconciled"`
	Skipped    int    `json:"skipped"`
}

type idempotencyCleanupRequest struct {
	Limit int `json:"limit"`
}

func (h *InternalHandlers) expirePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	var req expirePendingRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, true, &req) {
		return
	}
	olderThan := defaultExpireAfter
	if value := strings.TrimSpace(req.OlderThan); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed < minExpireAfter {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a duration of at least 5m", http.StatusBadRequest))
			return
		}
		olderThan = parsed
	}

	result, err := h.checkout.ExpirePending(ctx, olderThan)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expirePendingResponse{
		Cutoff:     result.Cutoff.UTC().Format(time.RFC3339),
		Expired:    result.Expired,
		Reconciled: result.Reconciled,
		Skipped:    result.Skipped,
	})
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.idempotency == nil {
		serviceUnavailable(w, r, "idempotency")
		return
	}
	var req idempotencyCleanupRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, true, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultIdempotencyBatch
	}
	removed, err := idempotency.Cleanup(ctx, h.idempotency, h.clock().UTC(), limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
