package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxName     = "transaction"
)

var tracer = otel.Tracer("github.com/southernsense/storefront/internal/platform/firestore")

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	name     string
	attempts int
	timeout  time.Duration
}

// WithTxName labels the transaction span and wrapped errors, e.g. "orders.mark_paid".
func WithTxName(name string) TxOption {
	return func(cfg *txConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithTxAttempts overrides how many times Firestore retries on contention.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included. A shorter parent deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a traced transaction on the provided client. Errors come back
// as *Error so callers can test IsConflict and IsUnavailable.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{name: defaultTxName, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if client == nil {
		return WrapError(cfg.name, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(cfg.name, errors.New("firestore: transaction function is nil"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "firestore."+cfg.name)
	defer span.End()

	attempts := 0
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))

	span.SetAttributes(attribute.Int("firestore.tx.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction failed")
	}
	return WrapError(cfg.name, err)
}
