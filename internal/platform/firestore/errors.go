package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind uint8

const (
	kindUnknown errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

func (k errorKind) String() string {
	switch k {
	case kindNotFound:
		return "not_found"
	case kindConflict:
		return "conflict"
	case kindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// classify maps gRPC status codes onto the categories services act on. Aborted covers
// transactions that exhausted their retries on contended cart and order documents.
func classify(code codes.Code) errorKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	default:
		return kindUnknown
	}
}

// Error is a classified Firestore failure tagged with the operation that produced it,
// for example "orders.mark_paid" or "carts.get".
type Error struct {
	op   string
	kind errorKind
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return fmt.Sprintf("firestore %s: %v", e.kind, e.err)
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Op returns the operation label, empty when none was supplied.
func (e *Error) Op() string {
	if e == nil {
		return ""
	}
	return e.op
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports a precondition or contention failure.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable reports a transient backend outage; callers may retry or degrade.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func newError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{op: op, kind: classify(status.Code(err)), err: err}
}

func unavailable(op string, err error) *Error {
	return &Error{op: op, kind: kindUnavailable, err: err}
}

// WrapError classifies err under op. Context cancellation is returned bare so handlers can
// tell a client disconnect from a backend failure. An existing *Error keeps its kind and
// only gains op when it had none.
func WrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.op == "" {
			classified.op = op
		}
		return classified
	}
	return newError(op, err)
}
