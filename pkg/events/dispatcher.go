package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/metrics"
)

const DefaultBuffer = 4096

// Dispatcher decouples the engine from slow sinks. Emit never blocks: the
// trade is already durable, so a full buffer drops the notification and
// consumers catch up from the trade history.
type Dispatcher struct {
	ch      chan TradeEvent
	sinks   []Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(buffer int, log *zap.Logger, m *metrics.Metrics, sinks ...Publisher) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		ch:      make(chan TradeEvent, buffer),
		sinks:   sinks,
		log:     log.Named("events"),
		metrics: m,
	}
}

// Emit queues a trade for delivery
func (d *Dispatcher) Emit(t order.Trade) {
	select {
	case d.ch <- FromTrade(t):
	default:
		d.metrics.EventsDropped.Inc()
		d.log.Warn("trade_event_dropped", zap.String("trade_id", t.ID), zap.String("market", t.MarketID))
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already buffered with a fresh context so shutdown doesn't lose them.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.ch:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.flush()
			return nil
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.ch:
			d.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev TradeEvent) {
	for _, s := range d.sinks {
		if err := s.PublishTrade(ctx, ev); err != nil {
			d.metrics.EventsPublished.WithLabelValues(s.Name(), "error").Inc()
			d.log.Warn("trade_event_publish_failed",
				zap.String("sink", s.Name()),
				zap.String("trade_id", ev.TradeID),
				zap.Error(err))
			continue
		}
		d.metrics.EventsPublished.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// Pending returns the number of buffered events
func (d *Dispatcher) Pending() int {
	return len(d.ch)
}
