package repositories

import "errors"

var (
	// ErrOrderNotPending indicates the order already left Pending and cannot transition again.
	ErrOrderNotPending = errors.New("order repository: order is not pending")
	// ErrInvalidOrder indicates the order is missing fields required for persistence.
	ErrInvalidOrder = errors.New("order repository: invalid order")
)
