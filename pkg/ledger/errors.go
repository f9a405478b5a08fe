package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrOrderDoesNotExist   = errors.New("order does not exist")
	ErrOrderAlreadyFilled  = errors.New("order already filled")
	ErrUnauthorizedAccess  = errors.New("unauthorized access")
	ErrInvalidCounterparty = errors.New("invalid counterparty")
	ErrInvalidInstrument   = errors.New("invalid instrument")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Wire codes for the taxonomy above.
const (
	CodeOrderDoesNotExist   = "order_does_not_exist"
	CodeOrderAlreadyFilled  = "order_already_filled"
	CodeUnauthorizedAccess  = "unauthorized_access"
	CodeInvalidCounterparty = "invalid_counterparty"
	CodeInvalidInstrument   = "invalid_instrument"
	CodeTransferFailed      = "transfer_failed"
	CodeInvalidArgument     = "invalid_argument"
	CodeInternal            = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrOrderDoesNotExist, CodeOrderDoesNotExist},
	{ErrOrderAlreadyFilled, CodeOrderAlreadyFilled},
	{ErrUnauthorizedAccess, CodeUnauthorizedAccess},
	{ErrInvalidCounterparty, CodeInvalidCounterparty},
	{ErrInvalidInstrument, CodeInvalidInstrument},
	{ErrTransferFailed, CodeTransferFailed},
	{ErrInvalidArgument, CodeInvalidArgument},
}

// Code maps an error to its wire code; unknown errors are "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// remoteError carries the message of an error reported by another process
// while still matching the local sentinel.
type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// FromCode rebuilds a matchable error from a wire code and message.
func FromCode(code, message string) error {
	for _, c := range codes {
		if c.code == code {
			if message == "" || message == c.err.Error() {
				return c.err
			}
			return &remoteError{kind: c.err, msg: message}
		}
	}
	if message == "" {
		message = code
	}
	return errors.New(message)
}

// unauthorized wraps the sub-check that failed so both are matchable.
func unauthorized(reason error) error {
	return fmt.Errorf("%w: %w", ErrUnauthorizedAccess, reason)
}
