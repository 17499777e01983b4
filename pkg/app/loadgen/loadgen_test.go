package loadgen

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/params"
	"github.com/uhyunpark/predikt/pkg/app/core"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

func TestGeneratorOrdersAreValid(t *testing.T) {
	g := NewGenerator(5, []string{"a", "b"}, 42)
	for i := 0; i < 1000; i++ {
		r := g.Order()
		if !order.ValidPrice(r.Price) {
			t.Fatalf("price %d out of range", r.Price)
		}
		if r.Amount < 100 || r.Amount > 5000 || r.Amount%100 != 0 {
			t.Fatalf("amount %d", r.Amount)
		}
		if !r.Side.Valid() {
			t.Fatalf("side %d", r.Side)
		}
	}
}

func TestGeneratorCancelsOnlyRemembered(t *testing.T) {
	g := NewGenerator(1, []string{"a"}, 1)
	if _, ok := g.Cancel(); ok {
		t.Fatal("cancel without resting orders")
	}
	g.Rested(order.Order{ID: "o1", UserID: "trader_1"})
	a, ok := g.Cancel()
	if !ok || a.CancelID != "o1" || a.UserID != "trader_1" {
		t.Fatalf("cancel = %+v, %v", a, ok)
	}
	if _, ok := g.Cancel(); ok {
		t.Error("order cancelled twice")
	}
}

func openCore(t *testing.T) *core.App {
	t.Helper()
	cfg := params.Default()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "db")
	cfg.MarketsFile = ""
	app, err := core.Open(core.Options{Config: cfg, Log: zap.NewNop()})
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	for _, id := range []string{"m1", "m2"} {
		if err := app.Markets.RegisterMarket(market.Market{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	return app
}

func TestFeederKeepsLedgerConsistent(t *testing.T) {
	app := openCore(t)
	cfg := DefaultConfig()
	cfg.NumAccounts = 8
	cfg.InitialBalance = 20_000
	cfg.Markets = []string{"m1", "m2"}
	cfg.Seed = 7

	f := NewFeeder(cfg, app.Engine, app.Ledger, zap.NewNop())
	if err := f.Fund(); err != nil {
		t.Fatalf("fund: %v", err)
	}
	for i := 0; i < 500; i++ {
		f.Step(context.Background())
	}

	s := f.Stats()
	if s.Placed == 0 || s.Trades == 0 {
		t.Errorf("stats = %+v, expected orders and trades", s)
	}
	report, err := app.Ledger.Audit()
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Deposits != 8*20_000 {
		t.Errorf("deposits = %d", report.Deposits)
	}

	// Funding again only tops up
	if err := f.Fund(); err != nil {
		t.Fatalf("refund: %v", err)
	}
	for _, a := range f.gen.Accounts() {
		if b, _ := app.Ledger.AvailableBalance(a); b < cfg.InitialBalance {
			t.Errorf("%s = %d after top-up", a, b)
		}
	}
}

func TestFeederRunStopsOnCancel(t *testing.T) {
	app := openCore(t)
	cfg := DefaultConfig()
	cfg.NumAccounts = 4
	cfg.Interval = 5 * time.Millisecond
	cfg.BatchSize = 5
	cfg.Markets = []string{"m1"}

	f := NewFeeder(cfg, app.Engine, app.Ledger, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := f.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.Stats().Placed == 0 {
		t.Error("nothing placed")
	}

	empty := NewFeeder(Config{Interval: time.Millisecond}, app.Engine, app.Ledger, zap.NewNop())
	if err := empty.Run(context.Background()); err == nil {
		t.Error("expected error without markets")
	}
}
