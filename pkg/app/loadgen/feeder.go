// Package loadgen drives the engine with synthetic order flow
package loadgen

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/engine"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

// Target is what the feeder trades against
type Target interface {
	Place(ctx context.Context, r engine.PlaceRequest) (*engine.PlaceResult, error)
	Cancel(ctx context.Context, userID, orderID string) (order.Order, error)
}

// Funder credits simulated traders before they trade
type Funder interface {
	AvailableBalance(user string) (int64, error)
	Deposit(user string, amount int64, reference string) (ledger.Entry, error)
}

// Config controls order generation rate
type Config struct {
	OrdersPerSecond int           // Target actions per second
	BatchSize       int           // Actions per tick
	Interval        time.Duration // How often to generate batches
	NumAccounts     int           // Number of simulated traders
	InitialBalance  int64         // Topped up on start, minor units
	Markets         []string      // Markets to trade
	Seed            int64
}

// DefaultConfig returns reasonable defaults for testing
func DefaultConfig() Config {
	return Config{
		OrdersPerSecond: 100,
		BatchSize:       10,
		Interval:        100 * time.Millisecond,
		NumAccounts:     50,
		InitialBalance:  1_000_000,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() Config {
	cfg := DefaultConfig()
	cfg.OrdersPerSecond = 1000
	cfg.BatchSize = 100
	cfg.NumAccounts = 200
	return cfg
}

// Stats summarizes a run
type Stats struct {
	Placed    int
	Trades    int
	Cancelled int
	Rejected  int
	Elapsed   time.Duration
}

func (s Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Placed+s.Cancelled) / s.Elapsed.Seconds()
}

// Feeder feeds generated actions into a Target at a fixed cadence
type Feeder struct {
	cfg    Config
	gen    *Generator
	target Target
	funder Funder
	log    *zap.Logger
	stats  Stats
}

func NewFeeder(cfg Config, target Target, funder Funder, log *zap.Logger) *Feeder {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Feeder{
		cfg:    cfg,
		gen:    NewGenerator(cfg.NumAccounts, cfg.Markets, cfg.Seed),
		target: target,
		funder: funder,
		log:    log.Named("loadgen"),
	}
}

// Fund tops every simulated trader up to the initial balance
func (f *Feeder) Fund() error {
	for _, a := range f.gen.Accounts() {
		b, err := f.funder.AvailableBalance(a)
		if err != nil {
			return err
		}
		if b < f.cfg.InitialBalance {
			if _, err := f.funder.Deposit(a, f.cfg.InitialBalance-b, "loadgen"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step executes one generated action
func (f *Feeder) Step(ctx context.Context) {
	a := f.gen.Next()
	if a.CancelID != "" {
		if _, err := f.target.Cancel(ctx, a.UserID, a.CancelID); err != nil {
			// Filled since it rested
			f.stats.Rejected++
			return
		}
		f.stats.Cancelled++
		return
	}

	res, err := f.target.Place(ctx, a.Place)
	if err != nil {
		f.stats.Rejected++
		if !errors.Is(err, engine.ErrInsufficientFunds) {
			f.log.Debug("loadgen_place_failed", zap.Error(err))
		}
		return
	}
	f.stats.Placed++
	f.stats.Trades += len(res.Trades)
	if res.Order.Resting() {
		f.gen.Rested(res.Order)
	}
}

// Run funds the traders then feeds batches until ctx is cancelled
func (f *Feeder) Run(ctx context.Context) error {
	if len(f.cfg.Markets) == 0 {
		return errors.New("loadgen: no markets to trade")
	}
	if err := f.Fund(); err != nil {
		return err
	}

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	lastLog := start
	f.log.Info("loadgen_started",
		zap.Int("target_ops", f.cfg.OrdersPerSecond),
		zap.Int("batch", f.cfg.BatchSize),
		zap.Duration("interval", f.cfg.Interval),
		zap.Strings("markets", f.cfg.Markets))

	for {
		select {
		case <-ctx.Done():
			f.stats.Elapsed = time.Since(start)
			f.log.Info("loadgen_stopped",
				zap.Int("placed", f.stats.Placed),
				zap.Int("trades", f.stats.Trades),
				zap.Int("cancelled", f.stats.Cancelled),
				zap.Int("rejected", f.stats.Rejected),
				zap.Float64("ops_per_sec", f.stats.Rate()))
			return nil
		case <-ticker.C:
			for i := 0; i < f.cfg.BatchSize; i++ {
				f.Step(ctx)
			}
			// Log stats every 10 seconds
			if time.Since(lastLog) >= 10*time.Second {
				f.stats.Elapsed = time.Since(start)
				f.log.Info("loadgen_stats",
					zap.Int("placed", f.stats.Placed),
					zap.Int("trades", f.stats.Trades),
					zap.Float64("ops_per_sec", f.stats.Rate()))
				lastLog = time.Now()
			}
		}
	}
}

// Stats returns the counters so far
func (f *Feeder) Stats() Stats {
	return f.stats
}
