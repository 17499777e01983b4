package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/audit"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/storage"
)

// PlaceRequest is a new limit order
type PlaceRequest struct {
	UserID   string
	MarketID string
	Side     order.Side
	Price    int64 // basis points
	Amount   int64 // minor units
}

// PlaceResult is the committed outcome of a placement
type PlaceResult struct {
	Order  order.Order
	Trades []order.Trade
}

func (e *Engine) validate(r PlaceRequest) error {
	switch {
	case !ValidUserID(r.UserID):
		return newError(KindValidation, "invalid user id %q", r.UserID)
	case !r.Side.Valid():
		return newError(KindValidation, "invalid side %d", r.Side)
	case !order.ValidPrice(r.Price):
		return newError(KindValidation, "price %d outside [%d, %d]", r.Price, order.MinPrice, order.MaxPrice)
	case r.Amount < e.cfg.MinOrderAmount:
		return newError(KindValidation, "amount %d below minimum %d", r.Amount, e.cfg.MinOrderAmount)
	case r.Amount > e.cfg.MaxOrderAmount:
		return newError(KindValidation, "amount %d above maximum %d", r.Amount, e.cfg.MaxOrderAmount)
	}
	return nil
}

// unit is the staged state of one placement or cancellation
type unit struct {
	tx      *ledger.Tx
	batch   *storage.Batch
	events  []audit.OrderEvent
	trades  []order.Trade
	changed []order.Order // resting orders touched
}

func (e *Engine) event(o *order.Order, typ audit.EventType, from order.Status, fill int64, tradeID string, at time.Time) audit.OrderEvent {
	return audit.OrderEvent{
		Seq:        e.seq.Next(),
		OrderID:    o.ID,
		MarketID:   o.MarketID,
		UserID:     o.UserID,
		Type:       typ,
		From:       from,
		To:         o.Status,
		FillAmount: fill,
		FilledNow:  o.Filled,
		TradeID:    tradeID,
		Timestamp:  at,
	}
}

// Place validates, locks funds, matches against the book and rests any
// remainder, all as one atomic unit.
func (e *Engine) Place(ctx context.Context, r PlaceRequest) (res *PlaceResult, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveOp("place", start)
		if err != nil {
			e.metrics.OrdersRejected.WithLabelValues(KindOf(err).String()).Inc()
			e.log.Debug("order_rejected",
				zap.String("user", r.UserID),
				zap.String("market", r.MarketID),
				zap.Error(err))
		}
	}()

	if err := e.validate(r); err != nil {
		return nil, err
	}
	if _, err := e.openMarket(r.MarketID); err != nil {
		return nil, err
	}

	release, err := e.acquire(ctx, r.MarketID)
	if err != nil {
		return nil, err
	}
	defer release()

	// The market may have closed while we waited
	if _, err := e.openMarket(r.MarketID); err != nil {
		return nil, err
	}

	u := &unit{
		tx:    e.ledger.Begin(),
		batch: e.store.NewBatch(),
	}
	defer u.tx.Rollback()
	defer u.batch.Close()

	now := e.clock.Now()
	feeReserve := order.FeeFor(r.Amount, e.cfg.TakerFeeBps)
	o := order.Order{
		ID:        uuid.NewString(),
		UserID:    r.UserID,
		MarketID:  r.MarketID,
		Side:      r.Side,
		Price:     r.Price,
		Amount:    r.Amount,
		Locked:    r.Amount + feeReserve,
		Status:    order.StatusOpen,
		Seq:       e.seq.Next(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := u.tx.Lock(o.UserID, o.Locked, o.ID); err != nil {
		return nil, fromLedger(err)
	}
	u.events = append(u.events, e.event(&o, audit.EventCreated, 0, 0, "", now))

	if err := e.match(u, &o, now); err != nil {
		return nil, err
	}

	if o.Remaining() == 0 {
		if o.Locked > 0 {
			if err := u.tx.Record(o.UserID, o.Locked, ledger.KindUnlock, o.ID); err != nil {
				return nil, fromLedger(err)
			}
			o.Locked = 0
		}
	} else {
		u.events = append(u.events, e.event(&o, audit.EventRested, o.Status, 0, "", now))
		if err := u.batch.Put(storage.RestingKey(o.MarketID, o.Seq, o.ID), o.ID); err != nil {
			return nil, err
		}
	}
	if err := o.Check(); err != nil {
		return nil, wrapError(KindInvariantViolation, err, "placement produced inconsistent order")
	}
	if err := u.batch.Put(storage.OrderKey(o.ID), o); err != nil {
		return nil, err
	}
	if err := u.batch.Put(storage.UserOrderKey(o.UserID, o.Seq, o.ID), o.ID); err != nil {
		return nil, err
	}
	u.batch.MarkSeq(o.Seq)

	if err := e.commit(u); err != nil {
		return nil, err
	}

	// Committed: only now does the book change
	b := e.book(o.MarketID)
	var insert *order.Order
	if o.Resting() {
		insert = &o
	}
	b.Apply(u.changed, insert)

	e.metrics.OrdersPlaced.WithLabelValues(o.MarketID, o.Side.String()).Inc()
	e.metrics.RestingOrders.WithLabelValues(o.MarketID).Set(float64(b.Len()))
	for _, t := range u.trades {
		e.metrics.Trades.WithLabelValues(t.MarketID).Inc()
		e.metrics.TradedVolume.WithLabelValues(t.MarketID).Add(float64(t.Amount))
		if e.sink != nil {
			e.sink.Emit(t)
		}
	}
	e.log.Info("order_placed",
		zap.String("order_id", o.ID),
		zap.String("user", o.UserID),
		zap.String("market", o.MarketID),
		zap.Stringer("side", o.Side),
		zap.Int64("price", o.Price),
		zap.Int64("amount", o.Amount),
		zap.Int64("filled", o.Filled),
		zap.Int("trades", len(u.trades)),
		zap.Stringer("status", o.Status))

	return &PlaceResult{Order: o, Trades: u.trades}, nil
}

// match fills o against crossing resting orders, best-ranked first. The
// book itself is only read; every change is staged in u.
func (e *Engine) match(u *unit, o *order.Order, now time.Time) error {
	candidates := e.book(o.MarketID).Crossing(o.Side, o.Price, o.Remaining(), e.cfg.MaxFillsPerOrder)

	for i := range candidates {
		if o.Remaining() == 0 {
			break
		}
		maker := candidates[i]
		fill := min(o.Remaining(), maker.Remaining())

		st, err := order.Settle(maker.Side, maker.Price, fill)
		if err != nil {
			return wrapError(KindInvariantViolation, err, "settlement of %s against %s", o.ID, maker.ID)
		}
		fee := order.FeeFor(fill, e.cfg.TakerFeeBps)
		t := order.Trade{
			ID:        uuid.NewString(),
			MarketID:  o.MarketID,
			Price:     maker.Price,
			YesPrice:  st.YesPrice,
			Amount:    fill,
			TakerSide: o.Side,
			YesCost:   st.YesCost,
			NoCost:    st.NoCost,
			TakerFee:  fee,
			Seq:       e.seq.Next(),
			Timestamp: now,
		}
		yes, no := o, &maker
		if o.Side == order.No {
			yes, no = &maker, o
		}
		t.YesOrderID, t.YesUserID = yes.ID, yes.UserID
		t.NoOrderID, t.NoUserID = no.ID, no.UserID

		if err := e.settle(u.tx, t, o, &maker, st, fee); err != nil {
			return err
		}

		takerFrom, makerFrom := o.Status, maker.Status
		if err := o.Fill(fill, now); err != nil {
			return wrapError(KindInvariantViolation, err, "taker fill")
		}
		if err := maker.Fill(fill, now); err != nil {
			return wrapError(KindInvariantViolation, err, "maker fill")
		}
		if maker.Remaining() == 0 && maker.Locked > 0 {
			if err := u.tx.Record(maker.UserID, maker.Locked, ledger.KindUnlock, maker.ID); err != nil {
				return fromLedger(err)
			}
			maker.Locked = 0
		}
		if err := maker.Check(); err != nil {
			return wrapError(KindInvariantViolation, err, "maker after fill")
		}

		if err := e.recorder.RecordTrade(u.batch, t); err != nil {
			return err
		}
		u.events = append(u.events,
			e.event(o, audit.EventFilled, takerFrom, fill, t.ID, now),
			e.event(&maker, audit.EventFilled, makerFrom, fill, t.ID, now),
		)
		if err := u.batch.Put(storage.OrderKey(maker.ID), maker); err != nil {
			return err
		}
		if !maker.Resting() {
			if err := u.batch.Delete(storage.RestingKey(maker.MarketID, maker.Seq, maker.ID)); err != nil {
				return err
			}
		}
		u.trades = append(u.trades, t)
		u.changed = append(u.changed, maker)

		e.log.Debug("trade_executed",
			zap.String("trade_id", t.ID),
			zap.String("market", t.MarketID),
			zap.String("taker", o.ID),
			zap.String("maker", maker.ID),
			zap.Int64("price", t.Price),
			zap.Int64("amount", fill))

		if e.afterFill != nil {
			if err := e.afterFill(i + 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// settle stages the ledger side of one fill: both sides release the matched
// part of their lock and pay their cost into the market escrow. The taker
// also releases and pays its fee.
func (e *Engine) settle(tx *ledger.Tx, t order.Trade, taker, maker *order.Order, st order.Settlement, fee int64) error {
	escrow := market.EscrowAccount(t.MarketID)
	reqs := []ledger.Request{
		{UserID: taker.UserID, Amount: t.Amount + fee, Kind: ledger.KindUnlock, Reference: taker.ID},
		{UserID: taker.UserID, Amount: -st.Cost(taker.Side), Kind: ledger.KindTradeDebit, Reference: t.ID},
		{UserID: maker.UserID, Amount: t.Amount, Kind: ledger.KindUnlock, Reference: maker.ID},
		{UserID: maker.UserID, Amount: -st.Cost(maker.Side), Kind: ledger.KindTradeDebit, Reference: t.ID},
		{UserID: escrow, Amount: t.Amount, Kind: ledger.KindTradeCredit, Reference: t.ID},
	}
	if fee > 0 {
		reqs = append(reqs,
			ledger.Request{UserID: taker.UserID, Amount: -fee, Kind: ledger.KindFee, Reference: t.ID},
			ledger.Request{UserID: market.FeeAccount, Amount: fee, Kind: ledger.KindFee, Reference: t.ID},
		)
	}
	for _, r := range reqs {
		// A cost of zero (price floor on tiny fills) has no entry
		if r.Amount == 0 {
			continue
		}
		if err := tx.Record(r.UserID, r.Amount, r.Kind, r.Reference); err != nil {
			return fromLedger(err)
		}
	}
	taker.Locked -= t.Amount + fee
	maker.Locked -= t.Amount
	if taker.Locked < 0 || maker.Locked < 0 {
		return newError(KindInvariantViolation, "lock underflow on trade %s", t.ID)
	}
	return nil
}

// commit stages the lifecycle events and hands the batch to the ledger,
// which commits it together with the ledger entries
func (e *Engine) commit(u *unit) error {
	for _, ev := range u.events {
		if err := e.recorder.RecordTransition(u.batch, ev); err != nil {
			return err
		}
	}
	if err := u.tx.Commit(u.batch); err != nil {
		return fromLedger(fmt.Errorf("commit: %w", err))
	}
	return nil
}
