package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("carts.get", status.Error(tc.code, "boom"))
			var classified *Error
			if !errors.As(err, &classified) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if classified.IsNotFound() != tc.notFound || classified.IsConflict() != tc.conflict || classified.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, classified)
			}
			if classified.Op() != "carts.get" {
				t.Fatalf("expected op carts.get, got %q", classified.Op())
			}
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("orders.get", fmt.Errorf("rpc: %w", context.Canceled)); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("orders.get", status.Error(codes.DeadlineExceeded, "slow")); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if WrapError("orders.get", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestWrapErrorKeepsSentinelsAndExistingOp(t *testing.T) {
	sentinel := errors.New("order is not pending")
	err := WrapError("orders.mark_paid", sentinel)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel to be reachable, got %v", err)
	}
	if err.Error() != "orders.mark_paid: order is not pending" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	rewrapped := WrapError("outer", err)
	var classified *Error
	if !errors.As(rewrapped, &classified) || classified.Op() != "orders.mark_paid" {
		t.Fatalf("expected original op to survive, got %v", rewrapped)
	}
}

func TestRunTransactionRejectsNilInputs(t *testing.T) {
	err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil }, WithTxName("orders.mark_failed"))
	if err == nil || err.Error() != "orders.mark_failed: firestore: client is nil" {
		t.Fatalf("unexpected error %v", err)
	}
}
