package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrProviderUnavailable = errors.New("text generation provider unavailable")
	ErrStorage             = errors.New("storage failure")
	ErrConflict            = errors.New("already exists")

	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
	ErrSelfTransfer    = fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidArgument)
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be a positive number with at most two decimals", ErrInvalidArgument)
	ErrBalanceOverflow = fmt.Errorf("%w: payee balance would exceed the supported maximum", ErrInvalidArgument)

	// ErrIdempotencyConflict is returned while another request holding the
	// same idempotency key has not finished.
	ErrIdempotencyConflict = fmt.Errorf("idempotency key %w: request still in progress", ErrConflict)
	// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
	ErrIdempotencyMismatch = fmt.Errorf("%w: idempotency key reused with a different request", ErrInvalidArgument)
)

// Side identifies which end of a transfer an error refers to.
type Side string

const (
	SideNone Side = ""
	SideFrom Side = "from"
	SideTo   Side = "to"
)

// AccountError reports a failure tied to a named account.
type AccountError struct {
	Name string
	Side Side
	Err  error
}

func (e *AccountError) Error() string {
	if e.Side != SideNone {
		return fmt.Sprintf("%s account %q: %v", e.Side, e.Name, e.Err)
	}
	return fmt.Sprintf("account %q: %v", e.Name, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// NotFound builds the error returned when name does not resolve to an account.
func NotFound(name string, side Side) error {
	return &AccountError{Name: name, Side: side, Err: ErrAccountNotFound}
}

// InsufficientFundsError carries the figures needed to explain a rejected transfer.
type InsufficientFundsError struct {
	Name      string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %q: insufficient funds: balance %d, requested %d", e.Name, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StorageError wraps an underlying persistence error for op.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
