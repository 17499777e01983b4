package engine

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
)

// Kind classifies engine errors
type Kind int8

const (
	KindInternal Kind = iota
	KindValidation
	KindInsufficientFunds
	KindMarketClosed
	KindOrderNotFound
	KindPermissionDenied
	KindInvalidOrderState
	KindConcurrencyConflict
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindMarketClosed:
		return "market_closed"
	case KindOrderNotFound:
		return "order_not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidOrderState:
		return "invalid_order_state"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "internal"
	}
}

// Code is the stable error code exposed to API clients
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindMarketClosed:
		return "MARKET_CLOSED"
	case KindOrderNotFound:
		return "ORDER_NOT_FOUND"
	case KindPermissionDenied:
		return "UNAUTHORIZED_ORDER_ACCESS"
	case KindInvalidOrderState:
		return "INVALID_ORDER_STATE"
	case KindConcurrencyConflict:
		return "CONCURRENCY_CONFLICT"
	case KindInvariantViolation:
		return "INVARIANT_VIOLATION"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is returned by every engine operation that fails for a reason the
// caller can act on. Compare with the sentinels:
//
//	if errors.Is(err, engine.ErrInsufficientFunds) { ... }
type Error struct {
	Kind    Kind
	Msg     string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrMarketClosed        = &Error{Kind: KindMarketClosed}
	ErrOrderNotFound       = &Error{Kind: KindOrderNotFound}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrInvalidOrderState   = &Error{Kind: KindInvalidOrderState}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// fromLedger maps ledger failures into the engine taxonomy
func fromLedger(err error) error {
	var ife *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &ife):
		return &Error{
			Kind: KindInsufficientFunds,
			Msg:  fmt.Sprintf("available %d, required %d", ife.Available, ife.Required),
			Details: map[string]any{
				"available": ife.Available,
				"required":  ife.Required,
			},
			Err: err,
		}
	case errors.Is(err, ledger.ErrInvariantViolation):
		return wrapError(KindInvariantViolation, err, "ledger rejected commit")
	case errors.Is(err, ledger.ErrInvalidEntry):
		return wrapError(KindValidation, err, "invalid ledger entry")
	}
	return err
}
