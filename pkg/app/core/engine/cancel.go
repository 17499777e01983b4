package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/audit"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/storage"
)

// Cancel cancels an open or partially filled order owned by userID and
// releases its remaining lock
func (e *Engine) Cancel(ctx context.Context, userID, orderID string) (res order.Order, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveOp("cancel", start)
		if err != nil {
			e.metrics.OrdersRejected.WithLabelValues(KindOf(err).String()).Inc()
		}
	}()

	o, err := e.Order(orderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.UserID != userID {
		return order.Order{}, newError(KindPermissionDenied, "order %s is not owned by %s", orderID, userID)
	}

	release, err := e.acquire(ctx, o.MarketID)
	if err != nil {
		return order.Order{}, err
	}
	defer release()

	// Re-read under the market lock: a match may have filled it meanwhile
	o, err = e.Order(orderID)
	if err != nil {
		return order.Order{}, err
	}
	if !o.Resting() {
		return order.Order{}, &Error{
			Kind:    KindInvalidOrderState,
			Msg:     "order " + orderID + " is " + o.Status.String(),
			Details: map[string]any{"status": o.Status.String()},
		}
	}

	u := &unit{tx: e.ledger.Begin(), batch: e.store.NewBatch()}
	defer u.tx.Rollback()
	defer u.batch.Close()

	if err := e.stageCancel(u, &o); err != nil {
		return order.Order{}, err
	}
	if err := e.commit(u); err != nil {
		return order.Order{}, err
	}

	b := e.book(o.MarketID)
	b.Remove(o.ID)
	e.metrics.OrdersCancelled.WithLabelValues(o.MarketID).Inc()
	e.metrics.RestingOrders.WithLabelValues(o.MarketID).Set(float64(b.Len()))
	e.log.Info("order_cancelled",
		zap.String("order_id", o.ID),
		zap.String("user", o.UserID),
		zap.String("market", o.MarketID),
		zap.Int64("filled", o.Filled),
		zap.Int64("remaining", o.Remaining()))

	return o, nil
}

// stageCancel unlocks what the order still holds and marks it cancelled
func (e *Engine) stageCancel(u *unit, o *order.Order) error {
	now := e.clock.Now()
	if o.Locked > 0 {
		if err := u.tx.Record(o.UserID, o.Locked, ledger.KindUnlock, o.ID); err != nil {
			return fromLedger(err)
		}
	}
	from := o.Status
	o.Locked = 0
	o.Status = order.StatusCancelled
	o.UpdatedAt = now
	u.events = append(u.events, e.event(o, audit.EventCancelled, from, 0, "", now))

	if err := u.batch.Put(storage.OrderKey(o.ID), *o); err != nil {
		return err
	}
	return u.batch.Delete(storage.RestingKey(o.MarketID, o.Seq, o.ID))
}

// CancelMarketOrders cancels every resting order of a market that no
// longer accepts orders, in one atomic unit. The settlement process calls
// it before paying out a resolved market. Returns the number cancelled.
func (e *Engine) CancelMarketOrders(ctx context.Context, marketID string) (int, error) {
	m, err := e.markets.GetMarket(marketID)
	if err != nil {
		return 0, wrapError(KindValidation, err, "unknown market %q", marketID)
	}
	if m.IsOpen(e.clock.Now()) {
		return 0, newError(KindInvalidOrderState, "market %s is still open", marketID)
	}

	release, err := e.acquire(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer release()

	b := e.book(marketID)
	resting := b.Orders()
	if len(resting) == 0 {
		return 0, nil
	}

	u := &unit{tx: e.ledger.Begin(), batch: e.store.NewBatch()}
	defer u.tx.Rollback()
	defer u.batch.Close()

	for i := range resting {
		// The book holds copies; the persisted row is authoritative
		o, err := e.Order(resting[i].ID)
		if err != nil {
			return 0, err
		}
		if !o.Resting() {
			return 0, wrapError(KindInvariantViolation, nil, "book holds %s order %s", o.Status, o.ID)
		}
		if err := e.stageCancel(u, &o); err != nil {
			return 0, err
		}
	}
	if err := e.commit(u); err != nil {
		return 0, err
	}

	for _, o := range resting {
		b.Remove(o.ID)
	}
	e.metrics.OrdersCancelled.WithLabelValues(marketID).Add(float64(len(resting)))
	e.metrics.RestingOrders.WithLabelValues(marketID).Set(0)
	e.log.Info("market_orders_cancelled", zap.String("market", marketID), zap.Int("orders", len(resting)))
	return len(resting), nil
}
