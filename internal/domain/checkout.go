package domain

import (
	"errors"
	"fmt"
)

// CheckoutState is the position of one checkout attempt in its state machine.
type CheckoutState string

const (
	CheckoutStateIdle              CheckoutState = "idle"
	CheckoutStateFormValidated     CheckoutState = "form_validated"
	CheckoutStateOrderCreated      CheckoutState = "order_created"
	CheckoutStatePaymentAuthorized CheckoutState = "payment_authorized"
	CheckoutStateOrderFinalized    CheckoutState = "order_finalized"
)

// CheckoutEvent drives a checkout attempt forward or back to idle.
type CheckoutEvent string

const (
	CheckoutEventValidate    CheckoutEvent = "validate"
	CheckoutEventCreateOrder CheckoutEvent = "create_order"
	CheckoutEventAuthorize   CheckoutEvent = "authorize"
	CheckoutEventFinalize    CheckoutEvent = "finalize"
	CheckoutEventFail        CheckoutEvent = "fail"
)

// ErrInvalidCheckoutTransition is returned for any state/event pair outside the table.
var ErrInvalidCheckoutTransition = errors.New("checkout: invalid state transition")

type checkoutEdge struct {
	from  CheckoutState
	event CheckoutEvent
}

var checkoutTransitions = map[checkoutEdge]CheckoutState{
	{CheckoutStateIdle, CheckoutEventValidate}:              CheckoutStateFormValidated,
	{CheckoutStateFormValidated, CheckoutEventCreateOrder}:  CheckoutStateOrderCreated,
	{CheckoutStateOrderCreated, CheckoutEventAuthorize}:     CheckoutStatePaymentAuthorized,
	{CheckoutStatePaymentAuthorized, CheckoutEventFinalize}: CheckoutStateOrderFinalized,
	{CheckoutStateIdle, CheckoutEventFail}:                  CheckoutStateIdle,
	{CheckoutStateFormValidated, CheckoutEventFail}:         CheckoutStateIdle,
	{CheckoutStateOrderCreated, CheckoutEventFail}:          CheckoutStateIdle,
	{CheckoutStatePaymentAuthorized, CheckoutEventFail}:     CheckoutStateIdle,
}

// CheckoutStates lists every state in flow order.
func CheckoutStates() []CheckoutState {
	return []CheckoutState{
		CheckoutStateIdle,
		CheckoutStateFormValidated,
		CheckoutStateOrderCreated,
		CheckoutStatePaymentAuthorized,
		CheckoutStateOrderFinalized,
	}
}

// NextCheckoutState applies event to from using the transition table.
func NextCheckoutState(from CheckoutState, event CheckoutEvent) (CheckoutState, error) {
	next, ok := checkoutTransitions[checkoutEdge{from: from, event: event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidCheckoutTransition, event, from)
	}
	return next, nil
}

// Terminal reports whether no event can leave the state.
func (s CheckoutState) Terminal() bool {
	return s == CheckoutStateOrderFinalized
}

// CheckoutAttempt tracks one attempt and the states it passed through.
type CheckoutAttempt struct {
	State   CheckoutState
	History []CheckoutState
}

// NewCheckoutAttempt starts an attempt in idle.
func NewCheckoutAttempt() *CheckoutAttempt {
	return &CheckoutAttempt{State: CheckoutStateIdle, History: []CheckoutState{CheckoutStateIdle}}
}

// Apply advances the attempt; the state is unchanged on error.
func (a *CheckoutAttempt) Apply(event CheckoutEvent) error {
	next, err := NextCheckoutState(a.State, event)
	if err != nil {
		return err
	}
	a.State = next
	a.History = append(a.History, next)
	return nil
}
