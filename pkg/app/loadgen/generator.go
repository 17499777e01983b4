package loadgen

import (
	"fmt"
	"math/rand"

	"github.com/uhyunpark/predikt/pkg/app/core/engine"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

// Action is one generated request: a placement, or a cancel when CancelID
// is set
type Action struct {
	Place    engine.PlaceRequest
	UserID   string
	CancelID string
}

// Generator creates random order flow for load testing. Yes and no prices
// scatter around a per-market fair value that drifts, so a share of the
// flow crosses and the rest builds depth.
type Generator struct {
	accounts []string
	markets  []string
	fair     map[string]int64 // implied yes price per market
	open     map[string][]string
	rng      *rand.Rand
}

// NewGenerator creates a generator over numAccounts simulated traders
func NewGenerator(numAccounts int, markets []string, seed int64) *Generator {
	accounts := make([]string, numAccounts)
	for i := 0; i < numAccounts; i++ {
		accounts[i] = fmt.Sprintf("trader_%d", i+1)
	}
	fair := make(map[string]int64, len(markets))
	for _, m := range markets {
		fair[m] = 5000
	}
	return &Generator{
		accounts: accounts,
		markets:  markets,
		fair:     fair,
		open:     make(map[string][]string),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Accounts returns the simulated trader ids
func (g *Generator) Accounts() []string {
	return g.accounts
}

// Order creates a random limit order
func (g *Generator) Order() engine.PlaceRequest {
	account := g.accounts[g.rng.Intn(len(g.accounts))]
	market := g.markets[g.rng.Intn(len(g.markets))]

	// Random walk of the fair value, kept away from the bounds
	fair := g.fair[market] + int64(g.rng.Intn(41)-20)
	fair = max(1000, min(9000, fair))
	g.fair[market] = fair

	side := order.Yes
	price := fair
	if g.rng.Intn(2) == 1 {
		side = order.No
		price = order.PriceScale - fair
	}
	// ±5% around fair; the lower half crosses
	price += int64(g.rng.Intn(1001) - 500)
	price = max(order.MinPrice, min(order.MaxPrice, price))

	// 1.00 to 50.00 in minor units
	amount := int64(g.rng.Intn(50)+1) * 100

	return engine.PlaceRequest{
		UserID:   account,
		MarketID: market,
		Side:     side,
		Price:    price,
		Amount:   amount,
	}
}

// Rested tells the generator that an order now rests so it can be cancelled
// later. Only the last 100 per account are remembered.
func (g *Generator) Rested(o order.Order) {
	ids := append(g.open[o.UserID], o.ID)
	if len(ids) > 100 {
		ids = ids[len(ids)-100:]
	}
	g.open[o.UserID] = ids
}

// Cancel picks a remembered order of a random account. ok is false when
// that account has none.
func (g *Generator) Cancel() (Action, bool) {
	account := g.accounts[g.rng.Intn(len(g.accounts))]
	ids := g.open[account]
	if len(ids) == 0 {
		return Action{}, false
	}
	i := g.rng.Intn(len(ids))
	id := ids[i]
	g.open[account] = append(ids[:i], ids[i+1:]...)
	return Action{UserID: account, CancelID: id}, true
}

// Next creates a random action (90% orders, 10% cancels)
func (g *Generator) Next() Action {
	if g.rng.Intn(100) >= 90 {
		if a, ok := g.Cancel(); ok {
			return a
		}
	}
	p := g.Order()
	return Action{Place: p, UserID: p.UserID}
}
