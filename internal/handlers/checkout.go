package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/southernsense/storefront/internal/platform/auth"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes checkout endpoints for guests and signed-in shoppers.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	submitGuard []func(http.Handler) http.Handler
	limiter     rateLimiter
	retryAfter  time.Duration
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithSubmitMiddleware wraps POST /checkout/orders, typically with the idempotency middleware.
func WithSubmitMiddleware(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.submitGuard = append(h.submitGuard, mw...)
	}
}

// WithSubmitRateLimit caps order submissions per cart owner within window.
func WithSubmitRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
		if limit > 0 {
			h.retryAfter = window / time.Duration(limit)
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers with optional Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/summary", h.summary)
	r.With(h.submitGuard...).Post("/orders", h.submit)
	r.Post("/orders/{orderId}:approve", h.approve)
	r.Post("/orders/{orderId}:cancel", h.cancel)
	r.Post("/orders/{orderId}:error", h.reportError)
}

// OrderRoutes registers GET /orders/{orderId}.
func (h *CheckoutHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/{orderId}", h.getOrder)
}

type customerPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
}

type submitCheckoutRequest struct {
	Customer customerPayload `json:"customer"`
	Provider string          `json:"provider"`
}

type approveCheckoutRequest struct {
	PaymentOrderID string `json:"paymentOrderId"`
}

type reportErrorRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type checkoutSummaryResponse struct {
	Cart      cartPayload `json:"cart"`
	Currency  string      `json:"currency"`
	CanSubmit bool        `json:"canSubmit"`
}

type checkoutSubmissionResponse struct {
	Order   orderPayload          `json:"order"`
	Payment paymentSessionPayload `json:"payment"`
}

type paymentSessionPayload struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	ApproveURL   string `json:"approveUrl,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

type checkoutConfirmationResponse struct {
	Order    orderPayload `json:"order"`
	Redirect string       `json:"redirect"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Items            []cartItemPayload `json:"items"`
	Totals           totalsPayload     `json:"totals"`
	Currency         string            `json:"currency"`
	Customer         customerPayload   `json:"customer"`
	Provider         string            `json:"provider,omitempty"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	PaidAt           string            `json:"paidAt,omitempty"`
}

func (h *CheckoutHandlers) summary(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	summary, err := h.checkout.Summary(r.Context(), cartOwner(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutSummaryResponse{
		Cart:      buildCartPayload(summary.Cart),
		Currency:  summary.Currency,
		CanSubmit: summary.CanSubmit,
	})
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	owner := cartOwner(r)
	if h.limiter != nil && !h.limiter.Allow(owner.Key()) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "Too many checkout attempts. Please wait a moment and try again.", http.StatusTooManyRequests).
			WithRetryAfter(h.retryAfter))
		return
	}

	var req submitCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, false, &req) {
		return
	}

	submission, err := h.checkout.Submit(ctx, services.SubmitCheckoutCommand{
		Owner: owner,
		Customer: services.Customer{
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Email:     req.Customer.Email,
			Address:   req.Customer.Address,
			City:      req.Customer.City,
			State:     req.Customer.State,
			Zip:       req.Customer.Zip,
		},
		Provider:       req.Provider,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payment := paymentSessionPayload{
		ID:           submission.Session.ID,
		Provider:     submission.Session.Provider,
		ApproveURL:   submission.Session.ApproveURL,
		ClientSecret: submission.Session.ClientSecret,
	}
	if !submission.Session.ExpiresAt.IsZero() {
		payment.ExpiresAt = submission.Session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusCreated, checkoutSubmissionResponse{
		Order:   buildOrderPayload(submission.Order),
		Payment: payment,
	})
}

func (h *CheckoutHandlers) approve(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	var req approveCheckoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, true, &req) {
		return
	}
	confirmation, err := h.checkout.Approve(r.Context(), services.ApproveCheckoutCommand{
		Owner:          cartOwner(r),
		OrderID:        chi.URLParam(r, "orderId"),
		PaymentOrderID: req.PaymentOrderID,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutConfirmationResponse{
		Order:    buildOrderPayload(confirmation.Order),
		Redirect: confirmation.RedirectPath,
	})
}

func (h *CheckoutHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	order, err := h.checkout.Cancel(r.Context(), services.CancelCheckoutCommand{
		Owner:   cartOwner(r),
		OrderID: chi.URLParam(r, "orderId"),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// reportError always answers with the generic payment message; the buyer may retry.
func (h *CheckoutHandlers) reportError(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	var req reportErrorRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, true, &req) {
		return
	}
	err := h.checkout.ReportError(r.Context(), services.ReportCheckoutErrorCommand{
		Owner:   cartOwner(r),
		OrderID: chi.URLParam(r, "orderId"),
		Code:    req.Code,
		Message: req.Message,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": services.CheckoutPaymentErrorMessage})
}

func (h *CheckoutHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	order, err := h.checkout.Order(r.Context(), cartOwner(r), chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:       order.ID,
		Status:   string(order.Status),
		Items:    make([]cartItemPayload, 0, len(order.Items)),
		Totals:   buildTotalsPayload(order.Totals),
		Currency: order.Currency,
		Customer: customerPayload{
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Email:     order.Customer.Email,
			Address:   order.Customer.Address,
			City:      order.Customer.City,
			State:     order.Customer.State,
			Zip:       order.Customer.Zip,
		},
		Provider:      order.Provider,
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
	}
	items := buildCartPayload(services.CartView{Cart: services.Cart{Lines: order.Items}})
	payload.Items = items.Items
	if order.PaymentReference != nil {
		payload.PaymentReference = *order.PaymentReference
	}
	if order.PaidAt != nil {
		payload.PaidAt = order.PaidAt.UTC().Format(time.RFC3339)
	}
	return payload
}
