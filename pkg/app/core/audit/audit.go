package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/storage"
)

// EventType names a lifecycle transition
type EventType string

const (
	EventCreated   EventType = "created"
	EventFilled    EventType = "filled"
	EventRested    EventType = "rested"
	EventCancelled EventType = "cancelled"
)

// OrderEvent is one row of an order's lifecycle log
type OrderEvent struct {
	Seq        uint64       `json:"seq"`
	OrderID    string       `json:"orderId"`
	MarketID   string       `json:"marketId"`
	UserID     string       `json:"userId"`
	Type       EventType    `json:"type"`
	From       order.Status `json:"from,omitempty"` // zero for created
	To         order.Status `json:"to"`
	FillAmount int64        `json:"fillAmount,omitempty"`
	FilledNow  int64        `json:"filledAfter"`
	TradeID    string       `json:"tradeId,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Recorder writes trades and lifecycle events into the caller's batch and
// serves read-only views over them. It never commits on its own: a trade is
// durable exactly when the unit that produced it is.
type Recorder struct {
	store *storage.Store
}

func NewRecorder(store *storage.Store) *Recorder {
	return &Recorder{store: store}
}

// RecordTrade stages a trade. The key is derived from the trade's sequence
// and id, so staging the same trade twice writes one row.
func (r *Recorder) RecordTrade(b *storage.Batch, t order.Trade) error {
	if t.ID == "" || t.MarketID == "" {
		return fmt.Errorf("trade missing id or market")
	}
	if t.YesCost+t.NoCost != t.Amount {
		return fmt.Errorf("trade %s: costs %d+%d do not sum to %d", t.ID, t.YesCost, t.NoCost, t.Amount)
	}
	if err := b.Put(storage.TradeKey(t.MarketID, t.Seq, t.ID), t); err != nil {
		return err
	}
	b.MarkSeq(t.Seq)
	return nil
}

// RecordTransition stages a lifecycle event
func (r *Recorder) RecordTransition(b *storage.Batch, e OrderEvent) error {
	if e.OrderID == "" || e.Type == "" {
		return fmt.Errorf("lifecycle event missing order id or type")
	}
	if err := b.Put(storage.EventKey(e.OrderID, e.Seq), e); err != nil {
		return err
	}
	b.MarkSeq(e.Seq)
	return nil
}

// Trades returns up to limit trades of a market, newest first. limit <= 0
// returns everything.
func (r *Recorder) Trades(marketID string, limit int) ([]order.Trade, error) {
	var out []order.Trade
	err := r.store.ScanReverse(storage.TradePrefix(marketID), func(_, v []byte) error {
		var t order.Trade
		if err := storage.Decode(v, &t); err != nil {
			return err
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			return storage.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read trades of %s: %w", marketID, err)
	}
	return out, nil
}

// TradesSince returns trades with a sequence above afterSeq, oldest first.
// Consumers that missed real-time events catch up with it.
func (r *Recorder) TradesSince(marketID string, afterSeq uint64) ([]order.Trade, error) {
	var out []order.Trade
	err := r.store.Scan(storage.TradePrefix(marketID), func(_, v []byte) error {
		var t order.Trade
		if err := storage.Decode(v, &t); err != nil {
			return err
		}
		if t.Seq > afterSeq {
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read trades of %s: %w", marketID, err)
	}
	return out, nil
}

// OrderEvents returns the lifecycle log of an order, oldest first
func (r *Recorder) OrderEvents(orderID string) ([]OrderEvent, error) {
	var out []OrderEvent
	err := r.store.Scan(storage.EventPrefix(orderID), func(_, v []byte) error {
		var e OrderEvent
		if err := storage.Decode(v, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read events of %s: %w", orderID, err)
	}
	return out, nil
}

// Position is a user's exposure in one market
type Position struct {
	UserID  string `json:"userId"`
	YesHeld int64  `json:"yesHeld"` // payout if yes wins
	NoHeld  int64  `json:"noHeld"`  // payout if no wins
	Cost    int64  `json:"cost"`    // total paid for both
}

// Positions derives every user's exposure in a market from its trades.
// The settlement process pays winners from the market escrow with it.
func (r *Recorder) Positions(marketID string) ([]Position, error) {
	byUser := make(map[string]*Position)
	get := func(u string) *Position {
		p, ok := byUser[u]
		if !ok {
			p = &Position{UserID: u}
			byUser[u] = p
		}
		return p
	}

	err := r.store.Scan(storage.TradePrefix(marketID), func(_, v []byte) error {
		var t order.Trade
		if err := storage.Decode(v, &t); err != nil {
			return err
		}
		y := get(t.YesUserID)
		y.YesHeld += t.Amount
		y.Cost += t.YesCost
		n := get(t.NoUserID)
		n.NoHeld += t.Amount
		n.Cost += t.NoCost
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to derive positions of %s: %w", marketID, err)
	}

	out := make([]Position, 0, len(byUser))
	for _, p := range byUser {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
