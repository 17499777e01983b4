package events

import (
	"context"
	"time"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

// TradeEvent is the outbound notification for one executed trade
type TradeEvent struct {
	TradeID   string    `json:"tradeId"`
	MarketID  string    `json:"marketId"`
	Price     int64     `json:"price"`    // resting order's price, basis points
	YesPrice  int64     `json:"yesPrice"` // implied yes price, basis points
	Amount    int64     `json:"amount"`
	YesUserID string    `json:"yesUserId"`
	NoUserID  string    `json:"noUserId"`
	TakerSide string    `json:"takerSide"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

func FromTrade(t order.Trade) TradeEvent {
	return TradeEvent{
		TradeID:   t.ID,
		MarketID:  t.MarketID,
		Price:     t.Price,
		YesPrice:  t.YesPrice,
		Amount:    t.Amount,
		YesUserID: t.YesUserID,
		NoUserID:  t.NoUserID,
		TakerSide: t.TakerSide.String(),
		Seq:       t.Seq,
		Timestamp: t.Timestamp,
	}
}

// Publisher delivers trade events to one downstream sink
type Publisher interface {
	Name() string
	PublishTrade(ctx context.Context, ev TradeEvent) error
}
