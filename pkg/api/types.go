package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/predikt/pkg/app/core/audit"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
)

// API response types for REST endpoints and WebSocket messages.
// Prices travel as basis points plus a decimal probability; amounts as
// minor units plus a decimal in major units.

const minorUnitExp = -2 // 100 minor units per major unit

func probability(bp int64) string {
	return decimal.New(bp, -4).StringFixed(4)
}

func major(minor int64) string {
	return decimal.New(minor, minorUnitExp).StringFixed(2)
}

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   string     `json:"status"`             // "open", "halted", "resolved"
	Deadline *time.Time `json:"deadline,omitempty"` // absent when trading has no end
	Outcome  string     `json:"outcome,omitempty"`  // "yes" or "no" once resolved
}

func marketInfo(m market.Market) MarketInfo {
	info := MarketInfo{ID: m.ID, Title: m.Title, Status: m.Status.String()}
	if !m.Deadline.IsZero() {
		d := m.Deadline
		info.Deadline = &d
	}
	if m.Status == market.Resolved {
		info.Outcome = m.Outcome.String()
	}
	return info
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	MarketID  string       `json:"marketId"`
	Yes       []PriceLevel `json:"yes"`       // best (highest) first
	No        []PriceLevel `json:"no"`        // best (lowest) first
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel is one aggregated price of one side
type PriceLevel struct {
	Price       int64  `json:"price"`       // basis points
	Probability string `json:"probability"` // price as a decimal in (0, 1)
	Amount      int64  `json:"amount"`      // minor units
	Orders      int    `json:"orders"`
}

func priceLevels(in []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{
			Price:       l.Price,
			Probability: probability(l.Price),
			Amount:      l.Amount,
			Orders:      l.Orders,
		}
	}
	return out
}

// TradeInfo represents a recent trade
type TradeInfo struct {
	ID        string `json:"id"`
	MarketID  string `json:"marketId"`
	Price     int64  `json:"price"`    // resting order's price
	YesPrice  int64  `json:"yesPrice"` // implied yes probability, bp
	Amount    int64  `json:"amount"`
	YesUserID string `json:"yesUserId"`
	NoUserID  string `json:"noUserId"`
	YesCost   int64  `json:"yesCost"`
	NoCost    int64  `json:"noCost"`
	TakerSide string `json:"takerSide"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

func tradeInfo(t order.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID,
		MarketID:  t.MarketID,
		Price:     t.Price,
		YesPrice:  t.YesPrice,
		Amount:    t.Amount,
		YesUserID: t.YesUserID,
		NoUserID:  t.NoUserID,
		YesCost:   t.YesCost,
		NoCost:    t.NoCost,
		TakerSide: t.TakerSide.String(),
		Seq:       t.Seq,
		Timestamp: t.Timestamp.UnixMilli(),
	}
}

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	MarketID    string `json:"marketId"`
	Side        string `json:"side"` // "yes" or "no"
	Price       int64  `json:"price"`
	Probability string `json:"probability"`
	Amount      int64  `json:"amount"`
	Filled      int64  `json:"filled"`
	Remaining   int64  `json:"remaining"`
	Locked      int64  `json:"locked"`
	Status      string `json:"status"` // "open", "partial", "filled", "cancelled"
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func orderInfo(o order.Order) OrderInfo {
	return OrderInfo{
		ID:          o.ID,
		UserID:      o.UserID,
		MarketID:    o.MarketID,
		Side:        o.Side.String(),
		Price:       o.Price,
		Probability: probability(o.Price),
		Amount:      o.Amount,
		Filled:      o.Filled,
		Remaining:   o.Remaining(),
		Locked:      o.Locked,
		Status:      o.Status.String(),
		CreatedAt:   o.CreatedAt.UnixMilli(),
		UpdatedAt:   o.UpdatedAt.UnixMilli(),
	}
}

// PlaceOrderResponse is the committed outcome of a placement
type PlaceOrderResponse struct {
	Order  OrderInfo   `json:"order"`
	Trades []TradeInfo `json:"trades"`
}

// BalanceInfo represents a user's spendable funds
type BalanceInfo struct {
	UserID    string `json:"userId"`
	Available int64  `json:"available"`        // minor units
	Display   string `json:"availableDisplay"` // major units
}

// LedgerEntryInfo is one ledger row
type LedgerEntryInfo struct {
	ID        uint64 `json:"id"`
	Amount    int64  `json:"amount"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Timestamp int64  `json:"timestamp"`
}

func ledgerEntryInfo(e ledger.Entry) LedgerEntryInfo {
	return LedgerEntryInfo{
		ID:        e.ID,
		Amount:    e.Amount,
		Kind:      string(e.Kind),
		Reference: e.Reference,
		Timestamp: e.Timestamp.UnixMilli(),
	}
}

// PositionInfo represents a user's exposure in a market
type PositionInfo = audit.Position

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:btc-100k-2026"]
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type        string `json:"type"` // "trade"
	TradeID     string `json:"tradeId"`
	MarketID    string `json:"marketId"`
	Price       int64  `json:"price"`
	Probability string `json:"probability"` // implied yes probability
	Amount      int64  `json:"amount"`
	YesUserID   string `json:"yesUserId"`
	NoUserID    string `json:"noUserId"`
	TakerSide   string `json:"takerSide"`
	Timestamp   int64  `json:"timestamp"`
}

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders. Either price
// (basis points) or probability ("0.6500") must be given.
type PlaceOrderRequest struct {
	UserID      string `json:"userId"`
	MarketID    string `json:"marketId"`
	Side        string `json:"side"`
	Price       int64  `json:"price,omitempty"`
	Probability string `json:"probability,omitempty"`
	Amount      int64  `json:"amount"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/{id}/cancel
type CancelOrderRequest struct {
	UserID string `json:"userId"`
}

// TransferRequest is the payment rail's deposit or withdrawal notice
type TransferRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"` // rail transaction id
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Detail string      `json:"detail"`
	Error  ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
