package orderbook

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

// PriceLevel aggregates the resting orders at one price
type PriceLevel struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"` // total remaining at this price level
	Orders int   `json:"orders"`
}

// Depth is the top of both sides of a book, best level first
type Depth struct {
	Yes []PriceLevel `json:"yes"`
	No  []PriceLevel `json:"no"`
}

type level struct {
	price  int64
	orders []*order.Order // FIFO by Seq
}

// Trees are ordered best-first: yes (bids) by descending price, no (asks)
// by ascending price.
func lessYes(a, b *level) bool { return a.price > b.price }
func lessNo(a, b *level) bool  { return a.price < b.price }

// OrderBook indexes the resting orders of one market. It holds copies of
// the persisted rows and is never the source of truth: the engine mutates
// it only after the corresponding batch has committed.
type OrderBook struct {
	mu sync.RWMutex

	market string
	yes    *btree.BTreeG[*level]
	no     *btree.BTreeG[*level]

	// Order index for O(1) lookup and cancellation
	index map[string]*order.Order
}

func NewOrderBook(market string) *OrderBook {
	return &OrderBook{
		market: market,
		yes:    btree.NewG(8, lessYes),
		no:     btree.NewG(8, lessNo),
		index:  make(map[string]*order.Order),
	}
}

// Market returns the market id the book belongs to
func (ob *OrderBook) Market() string {
	return ob.market
}

func (ob *OrderBook) tree(s order.Side) *btree.BTreeG[*level] {
	if s == order.Yes {
		return ob.yes
	}
	return ob.no
}

// Insert rests an order at its price level. Orders at one price stay in
// sequence order, so an order re-inserted during rebuild keeps its place.
func (ob *OrderBook) Insert(o order.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.insert(o)
}

func (ob *OrderBook) insert(o order.Order) {
	if _, dup := ob.index[o.ID]; dup {
		return
	}
	cp := o
	t := ob.tree(o.Side)
	lv, ok := t.Get(&level{price: o.Price})
	if !ok {
		lv = &level{price: o.Price}
		t.ReplaceOrInsert(lv)
	}

	n := len(lv.orders)
	if n == 0 || lv.orders[n-1].Seq < cp.Seq {
		lv.orders = append(lv.orders, &cp)
	} else {
		i := sort.Search(n, func(i int) bool { return lv.orders[i].Seq > cp.Seq })
		lv.orders = append(lv.orders, nil)
		copy(lv.orders[i+1:], lv.orders[i:])
		lv.orders[i] = &cp
	}
	ob.index[cp.ID] = &cp
}

// Remove deletes an order and prunes its level if it became empty
func (ob *OrderBook) Remove(id string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.remove(id)
}

func (ob *OrderBook) remove(id string) bool {
	o, ok := ob.index[id]
	if !ok {
		return false
	}
	t := ob.tree(o.Side)
	lv, ok := t.Get(&level{price: o.Price})
	if ok {
		for i, r := range lv.orders {
			if r.ID == id {
				lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
				break
			}
		}
		if len(lv.orders) == 0 {
			t.Delete(lv)
		}
	}
	delete(ob.index, id)
	return true
}

// BestOpposite returns the best-ranked resting order on the side an
// incoming order of side s would match against
func (ob *OrderBook) BestOpposite(s order.Side) (order.Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	lv, ok := ob.tree(s.Opposite()).Min()
	if !ok || len(lv.orders) == 0 {
		return order.Order{}, false
	}
	return *lv.orders[0], true
}

// Crossing returns copies of the resting orders an incoming order of side s
// at price would match, in priority order (price first, then sequence). It
// stops once the candidates cover want or maxOrders have been collected.
// The book is not modified.
func (ob *OrderBook) Crossing(s order.Side, price, want int64, maxOrders int) []order.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	var out []order.Order
	var covered int64
	visit := func(lv *level) bool {
		for _, r := range lv.orders {
			if covered >= want || len(out) >= maxOrders {
				return false
			}
			out = append(out, *r)
			covered += r.Remaining()
		}
		return covered < want && len(out) < maxOrders
	}

	limit := order.PriceScale - price
	if s == order.Yes {
		// no levels upward from the cheapest while Pn <= 10000-Py
		ob.no.Ascend(func(lv *level) bool {
			if lv.price > limit {
				return false
			}
			return visit(lv)
		})
	} else {
		// yes levels downward from the highest Py <= 10000-Pn
		ob.yes.AscendGreaterOrEqual(&level{price: limit}, visit)
	}
	return out
}

// Apply installs the book side of one committed unit under a single write
// lock: changed orders are updated in place (or removed once they no longer
// rest) and insert, if any, is rested.
func (ob *OrderBook) Apply(changed []order.Order, insert *order.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for _, c := range changed {
		cur, ok := ob.index[c.ID]
		if !ok {
			continue
		}
		if !c.Resting() || c.Remaining() == 0 {
			ob.remove(c.ID)
			continue
		}
		*cur = c
	}
	if insert != nil && insert.Resting() && insert.Remaining() > 0 {
		ob.insert(*insert)
	}
}

// Depth aggregates the top n levels of each side. n <= 0 means all levels.
func (ob *OrderBook) Depth(n int) Depth {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return Depth{
		Yes: levels(ob.yes, n),
		No:  levels(ob.no, n),
	}
}

func levels(t *btree.BTreeG[*level], n int) []PriceLevel {
	out := make([]PriceLevel, 0)
	t.Ascend(func(lv *level) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		var total int64
		for _, o := range lv.orders {
			total += o.Remaining()
		}
		out = append(out, PriceLevel{Price: lv.price, Amount: total, Orders: len(lv.orders)})
		return true
	})
	return out
}

// Get returns a copy of a resting order
func (ob *OrderBook) Get(id string) (order.Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o, ok := ob.index[id]
	if !ok {
		return order.Order{}, false
	}
	return *o, true
}

// Len returns the number of resting orders
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}

// Orders returns copies of every resting order, best-ranked first per side
// (yes side, then no side)
func (ob *OrderBook) Orders() []order.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	out := make([]order.Order, 0, len(ob.index))
	collect := func(lv *level) bool {
		for _, o := range lv.orders {
			out = append(out, *o)
		}
		return true
	}
	ob.yes.Ascend(collect)
	ob.no.Ascend(collect)
	return out
}
