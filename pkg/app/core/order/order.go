package order

import (
	"fmt"
	"time"
)

// Prices are integer basis points of the 1.0 payout
const (
	MinPrice   int64 = 1
	MaxPrice   int64 = 9999
	PriceScale int64 = 10000
)

// Side is the outcome an order buys
type Side int8

const (
	Yes Side = iota + 1
	No
)

func (s Side) String() string {
	switch s {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of s matches against
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

// Valid reports whether s is yes or no
func (s Side) Valid() bool {
	return s == Yes || s == No
}

// ParseSide parses "yes" or "no"
func ParseSide(v string) (Side, error) {
	switch v {
	case "yes":
		return Yes, nil
	case "no":
		return No, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Status represents the lifecycle state of an order
//
//	open ──fill──> partial ──fill──> filled
//	  │              │
//	  └──cancel──────┴──> cancelled
type Status int8

const (
	StatusOpen Status = iota + 1
	StatusPartial
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPartial:
		return "partial"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus parses the String form of a status
func ParseStatus(v string) (Status, error) {
	switch v {
	case "open":
		return StatusOpen, nil
	case "partial":
		return StatusPartial, nil
	case "filled":
		return StatusFilled, nil
	case "cancelled":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	if s < StatusOpen || s > StatusCancelled {
		return nil, fmt.Errorf("invalid order status %d", s)
	}
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

// Order is a limit order on one side of a binary market.
// Amounts are in minor currency units.
type Order struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	MarketID string `json:"marketId"`
	Side     Side   `json:"side"`
	Price    int64  `json:"price"`  // basis points, 1..9999
	Amount   int64  `json:"amount"` // total size
	Filled   int64  `json:"filled"`

	// Part of the placement lock not yet released. Equals Remaining()
	// unless a taker fee reserve is held on top.
	Locked int64 `json:"locked"`

	Status Status `json:"status"`

	// Seq is the FIFO key. CreatedAt is informational.
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Remaining returns the unfilled amount
func (o *Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// Resting reports whether the order belongs in the book
func (o *Order) Resting() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// DeriveStatus computes the status from filled/amount. Cancellation is the
// only status not derivable and must be set explicitly.
func (o *Order) DeriveStatus() Status {
	switch {
	case o.Filled >= o.Amount:
		return StatusFilled
	case o.Filled > 0:
		return StatusPartial
	default:
		return StatusOpen
	}
}

// Fill applies a matched amount and re-derives the status
func (o *Order) Fill(amount int64, at time.Time) error {
	if amount <= 0 || amount > o.Remaining() {
		return fmt.Errorf("fill %d out of range for order %s (remaining %d)", amount, o.ID, o.Remaining())
	}
	if !o.Resting() {
		return fmt.Errorf("fill on %s order %s", o.Status, o.ID)
	}
	o.Filled += amount
	o.Status = o.DeriveStatus()
	o.UpdatedAt = at
	return nil
}

// Check validates the order's internal invariants
func (o *Order) Check() error {
	if o.Filled < 0 || o.Filled > o.Amount {
		return fmt.Errorf("order %s: filled %d outside [0, %d]", o.ID, o.Filled, o.Amount)
	}
	if o.Status != StatusCancelled && o.Status != o.DeriveStatus() {
		return fmt.Errorf("order %s: status %s inconsistent with filled %d/%d", o.ID, o.Status, o.Filled, o.Amount)
	}
	if o.Locked < 0 {
		return fmt.Errorf("order %s: negative lock %d", o.ID, o.Locked)
	}
	if o.Resting() && o.Locked < o.Remaining() {
		return fmt.Errorf("order %s: lock %d below remaining %d", o.ID, o.Locked, o.Remaining())
	}
	return nil
}

// Crosses reports whether a yes order at yesPrice and a no order at
// noPrice can trade: together they pay no more than the full payout.
func Crosses(yesPrice, noPrice int64) bool {
	return yesPrice+noPrice <= PriceScale
}

// ValidPrice reports whether p is a tradable basis-point price
func ValidPrice(p int64) bool {
	return p >= MinPrice && p <= MaxPrice
}
