package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/metrics"
)

type recordingSink struct {
	mu     sync.Mutex
	events []TradeEvent
	fail   bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) PublishTrade(_ context.Context, ev TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func sampleTrade(id string) order.Trade {
	return order.Trade{
		ID:        id,
		MarketID:  "m1",
		Price:     4000,
		YesPrice:  6000,
		Amount:    100,
		YesUserID: "alice",
		NoUserID:  "bob",
		TakerSide: order.Yes,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestFromTradeWireFormat(t *testing.T) {
	b, err := json.Marshal(FromTrade(sampleTrade("t1")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)
	for _, k := range []string{"tradeId", "marketId", "price", "amount", "yesUserId", "noUserId", "timestamp"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing field %q in %s", k, b)
		}
	}
	if m["takerSide"] != "yes" {
		t.Errorf("takerSide = %v", m["takerSide"])
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(2, zaptest.NewLogger(t), m)

	for i := 0; i < 5; i++ {
		d.Emit(sampleTrade("t"))
	}
	if d.Pending() != 2 {
		t.Errorf("pending = %d, want 2", d.Pending())
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
}

func TestRunDeliversAndFlushes(t *testing.T) {
	m := metrics.New()
	ok := &recordingSink{}
	bad := &recordingSink{fail: true}
	d := NewDispatcher(16, zaptest.NewLogger(t), m, ok, bad)

	for i := 0; i < 3; i++ {
		d.Emit(sampleTrade("t"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A cancelled context still flushes what was queued
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ok.count() != 3 {
		t.Errorf("delivered = %d, want 3", ok.count())
	}
	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("recording", "error")); got != 3 {
		t.Errorf("errors = %v, want 3", got)
	}
}

type fakeWriter struct {
	failures int
	msgs     []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func fastPolicy(retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	}
}

func TestKafkaPublisherRetries(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := &KafkaPublisher{writer: w, policy: fastPolicy(5)}

	if err := p.PublishTrade(context.Background(), FromTrade(sampleTrade("t1"))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "m1" {
		t.Errorf("key = %q, want m1", w.msgs[0].Key)
	}
	var ev TradeEvent
	if err := json.Unmarshal(w.msgs[0].Value, &ev); err != nil || ev.TradeID != "t1" {
		t.Errorf("value = %s (%v)", w.msgs[0].Value, err)
	}
}

func TestKafkaPublisherGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 100}
	p := &KafkaPublisher{writer: w, policy: fastPolicy(1)}

	if err := p.PublishTrade(context.Background(), FromTrade(sampleTrade("t1"))); err == nil {
		t.Error("expected error after retries exhausted")
	}
}
