package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/audit"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/metrics"
	"github.com/uhyunpark/predikt/pkg/storage"
	"github.com/uhyunpark/predikt/pkg/util"
)

// TradeSink receives trades after the unit that produced them committed
type TradeSink interface {
	Emit(t order.Trade)
}

// Deps are the collaborators an Engine is built from
type Deps struct {
	Store    *storage.Store
	Ledger   *ledger.Ledger
	Markets  *market.MarketRegistry
	Recorder *audit.Recorder
	Seq      *util.Sequencer
	Clock    util.Clock
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Sink     TradeSink // optional
}

// Engine orchestrates placement and cancellation. Each market has a single
// writer; everything one operation changes is committed in one storage
// batch before the in-memory book is touched.
type Engine struct {
	cfg      Config
	store    *storage.Store
	ledger   *ledger.Ledger
	markets  *market.MarketRegistry
	recorder *audit.Recorder
	seq      *util.Sequencer
	clock    util.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	sink     TradeSink

	mu    sync.Mutex // guards books and locks
	books map[string]*orderbook.OrderBook
	locks map[string]chan struct{}

	// afterFill runs after the n-th fill of a placement has been staged.
	// Nil in production; tests set it to inject mid-match failures.
	afterFill func(n int) error
}

func New(cfg Config, d Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if d.Store == nil || d.Ledger == nil || d.Markets == nil || d.Recorder == nil || d.Seq == nil {
		return nil, errors.New("engine: missing dependency")
	}
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return &Engine{
		cfg:      cfg,
		store:    d.Store,
		ledger:   d.Ledger,
		markets:  d.Markets,
		recorder: d.Recorder,
		seq:      d.Seq,
		clock:    d.Clock,
		log:      d.Log.Named("engine"),
		metrics:  d.Metrics,
		sink:     d.Sink,
		books:    make(map[string]*orderbook.OrderBook),
		locks:    make(map[string]chan struct{}),
	}, nil
}

// Config returns the engine limits
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) book(marketID string) *orderbook.OrderBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[marketID]
	if !ok {
		b = orderbook.NewOrderBook(marketID)
		e.books[marketID] = b
	}
	return b
}

// acquire takes the market's single-writer lock, bounded by the caller's
// context and the configured timeout
func (e *Engine) acquire(ctx context.Context, marketID string) (func(), error) {
	e.mu.Lock()
	slot, ok := e.locks[marketID]
	if !ok {
		slot = make(chan struct{}, 1)
		e.locks[marketID] = slot
	}
	e.mu.Unlock()

	start := time.Now()
	select {
	case slot <- struct{}{}:
	default:
		timer := time.NewTimer(e.cfg.LockTimeout)
		defer timer.Stop()
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, wrapError(KindConcurrencyConflict, ctx.Err(), "market %s busy", marketID)
		case <-timer.C:
			return nil, newError(KindConcurrencyConflict, "market %s busy for %s", marketID, e.cfg.LockTimeout)
		}
	}
	e.metrics.LockWait.Observe(time.Since(start).Seconds())
	return func() { <-slot }, nil
}

// ValidUserID reports whether a caller-supplied user id is acceptable.
// Ids starting with '@' are reserved for system accounts.
func ValidUserID(id string) bool {
	return id != "" && !strings.HasPrefix(id, "@") && !strings.ContainsAny(id, ": \t\r\n")
}

func (e *Engine) openMarket(marketID string) (market.Market, error) {
	m, err := e.markets.GetMarket(marketID)
	if err != nil {
		return market.Market{}, wrapError(KindValidation, err, "unknown market %q", marketID)
	}
	if !m.IsOpen(e.clock.Now()) {
		return market.Market{}, &Error{
			Kind:    KindMarketClosed,
			Msg:     fmt.Sprintf("market %s is not accepting orders", marketID),
			Details: map[string]any{"status": m.Status.String(), "deadline": m.Deadline},
		}
	}
	return m, nil
}

func (e *Engine) loadOrder(id string) (order.Order, bool, error) {
	var o order.Order
	ok, err := e.store.Get(storage.OrderKey(id), &o)
	if err != nil {
		return order.Order{}, false, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return o, ok, nil
}

// Order returns a persisted order by id
func (e *Engine) Order(id string) (order.Order, error) {
	o, ok, err := e.loadOrder(id)
	if err != nil {
		return order.Order{}, err
	}
	if !ok {
		return order.Order{}, newError(KindOrderNotFound, "order %s not found", id)
	}
	return o, nil
}

// UserOrders returns every order of a user, newest first
func (e *Engine) UserOrders(userID string) ([]order.Order, error) {
	var ids []string
	err := e.store.ScanReverse(storage.UserOrderPrefix(userID), func(_, v []byte) error {
		var id string
		if err := storage.Decode(v, &id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders of %s: %w", userID, err)
	}

	out := make([]order.Order, 0, len(ids))
	for _, id := range ids {
		o, ok, err := e.loadOrder(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, wrapError(KindInvariantViolation, nil, "order %s indexed for %s but missing", id, userID)
		}
		out = append(out, o)
	}
	return out, nil
}

// Snapshot is the aggregated book of one market
type Snapshot struct {
	MarketID  string                 `json:"marketId"`
	Yes       []orderbook.PriceLevel `json:"yes"`
	No        []orderbook.PriceLevel `json:"no"`
	Timestamp time.Time              `json:"timestamp"`
}

// Snapshot returns the top depth levels of both sides. depth <= 0 returns
// every level.
func (e *Engine) Snapshot(marketID string, depth int) (Snapshot, error) {
	if _, err := e.markets.GetMarket(marketID); err != nil {
		return Snapshot{}, wrapError(KindValidation, err, "unknown market %q", marketID)
	}
	d := e.book(marketID).Depth(depth)
	return Snapshot{
		MarketID:  marketID,
		Yes:       d.Yes,
		No:        d.No,
		Timestamp: e.clock.Now(),
	}, nil
}

// Rebuild reconstructs every book from persisted resting orders. Called
// once on start-up before the engine serves requests.
func (e *Engine) Rebuild() error {
	e.mu.Lock()
	e.books = make(map[string]*orderbook.OrderBook)
	e.mu.Unlock()

	n := 0
	err := e.store.Scan(storage.RestingPrefixAll(), func(_, v []byte) error {
		var id string
		if err := storage.Decode(v, &id); err != nil {
			return err
		}
		o, ok, err := e.loadOrder(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("resting index points at missing order %s", id)
		}
		if err := o.Check(); err != nil {
			return err
		}
		if !o.Resting() {
			return fmt.Errorf("resting index points at %s order %s", o.Status, id)
		}
		e.book(o.MarketID).Insert(o)
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild order books: %w", err)
	}

	e.mu.Lock()
	for id, b := range e.books {
		e.metrics.RestingOrders.WithLabelValues(id).Set(float64(b.Len()))
	}
	markets := len(e.books)
	e.mu.Unlock()

	e.log.Info("order_books_rebuilt", zap.Int("orders", n), zap.Int("markets", markets))
	return nil
}
