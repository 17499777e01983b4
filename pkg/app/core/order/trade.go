package order

import (
	"fmt"
	"time"
)

// Trade is an immutable match between a yes order and a no order
type Trade struct {
	ID         string `json:"id"`
	MarketID   string `json:"marketId"`
	YesOrderID string `json:"yesOrderId"`
	NoOrderID  string `json:"noOrderId"`
	YesUserID  string `json:"yesUserId"`
	NoUserID   string `json:"noUserId"`

	// Price is the resting order's price in its own side's terms.
	// YesPrice is the implied yes price the costs were split at.
	Price    int64 `json:"price"`
	YesPrice int64 `json:"yesPrice"`
	Amount   int64 `json:"amount"`

	TakerSide Side  `json:"takerSide"`
	YesCost   int64 `json:"yesCost"`
	NoCost    int64 `json:"noCost"`
	TakerFee  int64 `json:"takerFee"`

	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Settlement is the cost split of one fill
type Settlement struct {
	YesPrice int64
	YesCost  int64
	NoCost   int64
}

// Settle splits a fill of amount at the resting order's price. The implied
// yes price is the resting price when the resting order is yes, else its
// complement. The yes side pays floor(amount*P/10000) and the no side pays
// the rest, so the two costs always sum to amount.
func Settle(resting Side, restingPrice, amount int64) (Settlement, error) {
	if !ValidPrice(restingPrice) {
		return Settlement{}, fmt.Errorf("resting price %d out of range", restingPrice)
	}
	if amount <= 0 {
		return Settlement{}, fmt.Errorf("non-positive fill amount %d", amount)
	}
	p := restingPrice
	if resting == No {
		p = PriceScale - restingPrice
	}
	yes := amount * p / PriceScale
	no := amount - yes
	if yes+no != amount || yes < 0 || no < 0 {
		return Settlement{}, fmt.Errorf("cost split %d+%d does not sum to %d", yes, no, amount)
	}
	return Settlement{YesPrice: p, YesCost: yes, NoCost: no}, nil
}

// Cost returns what the given side pays
func (s Settlement) Cost(side Side) int64 {
	if side == Yes {
		return s.YesCost
	}
	return s.NoCost
}

// FeeFor returns the taker fee for a fill, floored
func FeeFor(amount, feeBps int64) int64 {
	return amount * feeBps / PriceScale
}
