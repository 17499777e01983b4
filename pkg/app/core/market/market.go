package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

var (
	ErrNotFound          = errors.New("market not found")
	ErrInvalidTransition = errors.New("invalid market status transition")
)

// Status defines the trading status of a market
type Status int8

const (
	Open     Status = iota + 1 // Trading enabled until the deadline
	Halted                     // Trading paused by an operator
	Resolved                   // Outcome decided, terminal
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Halted:
		return "halted"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(v) {
	case "open":
		return Open, nil
	case "halted":
		return Halted, nil
	case "resolved":
		return Resolved, nil
	}
	return 0, fmt.Errorf("unknown market status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Market is a binary question traded as complementary yes/no orders.
// Metadata authoring lives outside the core; this is what matching needs.
type Market struct {
	ID       string     `json:"id" yaml:"id"`
	Title    string     `json:"title" yaml:"title"`
	Deadline time.Time  `json:"deadline" yaml:"deadline"` // zero means no deadline
	Status   Status     `json:"status" yaml:"status"`
	Outcome  order.Side `json:"outcome,omitempty" yaml:"outcome,omitempty"` // set once resolved
}

// IsOpen reports whether orders may be placed at now
func (m *Market) IsOpen(now time.Time) bool {
	if m.Status != Open {
		return false
	}
	return m.Deadline.IsZero() || now.Before(m.Deadline)
}

// EscrowAccount is the ledger account holding the matched value of the
// market's trades until settlement pays it out
func EscrowAccount(marketID string) string {
	return "@escrow/" + marketID
}

// FeeAccount receives taker fees of every market
const FeeAccount = "@fees"

// ValidID reports whether id can be used as a market id: non-empty, no
// whitespace and no ':' (the storage key separator)
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ": \t\r\n")
}

// Validate checks market sanity
func (m *Market) Validate() error {
	if !ValidID(m.ID) {
		return fmt.Errorf("invalid market id %q", m.ID)
	}
	switch m.Status {
	case Open, Halted:
	case Resolved:
		if !m.Outcome.Valid() {
			return fmt.Errorf("market %s resolved without outcome", m.ID)
		}
	default:
		return fmt.Errorf("market %s has invalid status %d", m.ID, m.Status)
	}
	return nil
}
