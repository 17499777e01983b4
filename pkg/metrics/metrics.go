package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "predikt"

// Metrics holds every collector the node exports. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced    *prometheus.CounterVec // market, side
	OrdersRejected  *prometheus.CounterVec // reason
	OrdersCancelled *prometheus.CounterVec // market
	Trades          *prometheus.CounterVec // market
	TradedVolume    *prometheus.CounterVec // market, minor units
	RestingOrders   *prometheus.GaugeVec   // market
	OpLatency       *prometheus.HistogramVec
	LockWait        prometheus.Histogram

	LedgerEntries       *prometheus.CounterVec // kind
	InvariantViolations prometheus.Counter

	EventsDropped   prometheus.Counter
	EventsPublished *prometheus.CounterVec // sink, result
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "orders_placed_total",
			Help: "Orders accepted by the matching engine.",
		}, []string{"market", "side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "orders_rejected_total",
			Help: "Placements and cancellations rejected, by error kind.",
		}, []string{"reason"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "orders_cancelled_total",
			Help: "Orders cancelled.",
		}, []string{"market"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "trades_total",
			Help: "Trades executed.",
		}, []string{"market"}),
		TradedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "traded_amount_total",
			Help: "Matched amount in minor units.",
		}, []string{"market"}),
		RestingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "book", Name: "resting_orders",
			Help: "Orders currently resting in the book.",
		}, []string{"market"}),
		OpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "operation_seconds",
			Help:    "Latency of engine operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "market_lock_wait_seconds",
			Help:    "Time spent waiting for a market's single-writer lock.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "entries_total",
			Help: "Ledger entries committed, by kind.",
		}, []string{"kind"}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "invariant_violations_total",
			Help: "Commits aborted because a balance would have gone negative.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "dropped_total",
			Help: "Trade events dropped because the dispatch buffer was full.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Trade events handed to sinks, by sink and result.",
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersPlaced,
		m.OrdersRejected,
		m.OrdersCancelled,
		m.Trades,
		m.TradedVolume,
		m.RestingOrders,
		m.OpLatency,
		m.LockWait,
		m.LedgerEntries,
		m.InvariantViolations,
		m.EventsDropped,
		m.EventsPublished,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOp records how long an engine operation took
func (m *Metrics) ObserveOp(op string, start time.Time) {
	m.OpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
