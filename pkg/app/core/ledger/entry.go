package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a ledger entry
type Kind string

const (
	KindLock               Kind = "lock"
	KindUnlock             Kind = "unlock"
	KindTradeDebit         Kind = "trade_debit"
	KindTradeCredit        Kind = "trade_credit"
	KindFee                Kind = "fee"
	KindExternalDeposit    Kind = "external_deposit"
	KindExternalWithdrawal Kind = "external_withdrawal"
)

// Valid reports whether k is a recognized entry kind
func (k Kind) Valid() bool {
	switch k {
	case KindLock, KindUnlock, KindTradeDebit, KindTradeCredit, KindFee,
		KindExternalDeposit, KindExternalWithdrawal:
		return true
	}
	return false
}

// checked reports whether a negative entry of this kind spends the user's
// own funds and therefore needs a funds check when recorded on its own.
func (k Kind) checked() bool {
	return k == KindLock || k == KindExternalWithdrawal
}

// Entry is one append-only balance change. A user's available balance is
// the sum of its entries.
type Entry struct {
	ID        uint64    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    int64     `json:"amount"` // signed, minor units
	Kind      Kind      `json:"kind"`
	Reference string    `json:"reference,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Request describes an entry to record
type Request struct {
	UserID    string
	Amount    int64
	Kind      Kind
	Reference string
}

var (
	ErrInvalidEntry       = errors.New("invalid ledger entry")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvariantViolation = errors.New("ledger invariant violation")
	ErrTxDone             = errors.New("ledger transaction already finished")
)

// InsufficientFundsError carries the numbers behind a failed funds check
type InsufficientFundsError struct {
	UserID    string
	Available int64
	Required  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for %s: available %d, required %d", e.UserID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

func (r Request) validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: empty user", ErrInvalidEntry)
	}
	if r.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidEntry)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, r.Kind)
	}
	return nil
}
