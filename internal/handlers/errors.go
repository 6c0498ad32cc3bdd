package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	domain "github.com/southernsense/storefront/internal/domain"
	"github.com/southernsense/storefront/internal/platform/httpx"
	"github.com/southernsense/storefront/internal/services"
)

type userMessenger interface {
	UserMessage() string
}

// writeServiceError maps service errors onto the JSON envelope. Messages are shown to shoppers verbatim,
// so raw error text never reaches the body for server-side failures.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var reconcile *services.ReconciliationError
	if errors.As(err, &reconcile) {
		httpx.WriteError(ctx, w, httpx.NewError("reconciliation_required", reconcile.UserMessage(), http.StatusBadGateway).
			WithDetails(map[string]any{"transactionId": reconcile.TransactionID, "orderId": reconcile.OrderID}))
		return
	}

	var validation *services.CheckoutValidationError
	if errors.As(err, &validation) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_field", validation.UserMessage(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"field": validation.Field}))
		return
	}

	switch {
	case errors.Is(err, services.ErrCartQuantityTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("quantity_too_large", fmt.Sprintf("You can add at most %d of an item.", domain.MaxLineQuantity), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "The cart request is invalid.", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "That item is not in your cart.", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "That product is no longer available.", http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "Your cart could not be loaded. Please try again.", http.StatusServiceUnavailable))

	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "Your cart is empty.", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "The checkout request is invalid.", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "Order not found.", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutOrderClosed):
		httpx.WriteError(ctx, w, httpx.NewError("order_closed", "This order can no longer be changed.", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", services.CheckoutPaymentErrorMessage, http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", services.CheckoutStartFailedMessage, http.StatusServiceUnavailable))

	case errors.Is(err, services.ErrAccountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Please provide your first name, last name and email.", http.StatusBadRequest))
	case errors.Is(err, services.ErrAccountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "Account profile not found.", http.StatusNotFound))
	case errors.Is(err, services.ErrAccountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("account_unavailable", "Your account could not be loaded. Please try again.", http.StatusServiceUnavailable))

	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "The product id is invalid.", http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "That product is no longer available.", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "The catalog is temporarily unavailable.", http.StatusServiceUnavailable))

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "The request timed out. Please try again.", http.StatusGatewayTimeout))
	default:
		message := "Something went wrong. Please try again."
		var messenger userMessenger
		if errors.As(err, &messenger) {
			message = messenger.UserMessage()
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", message, http.StatusInternalServerError))
	}
}
