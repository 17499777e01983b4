package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/predikt/pkg/metrics"
	"github.com/uhyunpark/predikt/pkg/storage"
	"github.com/uhyunpark/predikt/pkg/util"
)

type fixture struct {
	store   *storage.Store
	ledger  *Ledger
	metrics *metrics.Metrics
	dir     string
}

func newFixture(t *testing.T, cacheSize int) *fixture {
	t.Helper()
	dir := t.TempDir()
	return openFixture(t, dir, cacheSize)
}

func openFixture(t *testing.T, dir string, cacheSize int) *fixture {
	t.Helper()
	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	clock := util.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l, err := New(store, util.NewSequencer(store.Seq()), clock, zaptest.NewLogger(t), m, cacheSize)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return &fixture{store: store, ledger: l, metrics: m, dir: dir}
}

func balance(t *testing.T, l *Ledger, user string) int64 {
	t.Helper()
	b, err := l.AvailableBalance(user)
	if err != nil {
		t.Fatalf("balance of %s: %v", user, err)
	}
	return b
}

func TestRecordEntryValidation(t *testing.T) {
	f := newFixture(t, 0)

	tests := []struct {
		name   string
		user   string
		amount int64
		kind   Kind
	}{
		{"zero amount", "alice", 0, KindExternalDeposit},
		{"empty user", "", 100, KindExternalDeposit},
		{"blank user", "  ", 100, KindExternalDeposit},
		{"unknown kind", "alice", 100, Kind("bonus")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.RecordEntry(tt.user, tt.amount, tt.kind, "")
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("err = %v, want ErrInvalidEntry", err)
			}
		})
	}
	if b := balance(t, f.ledger, "alice"); b != 0 {
		t.Errorf("balance = %d after rejected entries, want 0", b)
	}
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t, 0)

	if _, err := f.ledger.Deposit("alice", 1000, "dep-1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.Withdraw("alice", 300, "wd-1"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if b := balance(t, f.ledger, "alice"); b != 700 {
		t.Errorf("balance = %d, want 700", b)
	}

	_, err := f.ledger.Withdraw("alice", 701, "wd-2")
	var ife *InsufficientFundsError
	if !errors.As(err, &ife) || !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want InsufficientFundsError", err)
	}
	if ife.Available != 700 || ife.Required != 701 {
		t.Errorf("details = %+v", ife)
	}
	if _, err := f.ledger.Deposit("alice", -5, ""); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("negative deposit err = %v", err)
	}
}

func TestDepositOverflowRejected(t *testing.T) {
	f := newFixture(t, 0)

	if _, err := f.ledger.Deposit("alice", math.MaxInt64, "dep-1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.Deposit("alice", 1, "dep-2"); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("err = %v, want ErrInvalidEntry", err)
	}
	if b := balance(t, f.ledger, "alice"); b != math.MaxInt64 {
		t.Errorf("balance = %d, want %d", b, int64(math.MaxInt64))
	}
	if got := testutil.ToFloat64(f.metrics.InvariantViolations); got != 0 {
		t.Errorf("invariant violations = %v, want 0", got)
	}
	if entries, _ := f.ledger.Entries("alice", 0); len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestEntriesNewestFirst(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 100, "a")
	f.ledger.Deposit("alice", 200, "b")
	f.ledger.RecordEntry("alice", -50, KindLock, "o1")

	got, err := f.ledger.Entries("alice", 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].Kind != KindLock || got[0].Reference != "o1" || got[0].Amount != -50 {
		t.Errorf("newest = %+v", got[0])
	}
	if got[0].ID <= got[1].ID || got[1].ID <= got[2].ID {
		t.Errorf("ids not descending: %d %d %d", got[0].ID, got[1].ID, got[2].ID)
	}

	limited, _ := f.ledger.Entries("alice", 2)
	if len(limited) != 2 {
		t.Errorf("limited entries = %d, want 2", len(limited))
	}
}

func TestTxLockAndRollback(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 100, "")

	tx := f.ledger.Begin()
	if err := tx.Lock("alice", 60, "o1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// A concurrent unit cannot see the 60 as available
	other := f.ledger.Begin()
	if err := other.Lock("alice", 50, "o2"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overlapping lock err = %v, want insufficient funds", err)
	}
	// A second lock in the same unit can't reuse it either
	if err := tx.Lock("alice", 41, "o3"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("same-unit lock err = %v, want insufficient funds", err)
	}

	tx.Rollback()
	if err := other.Lock("alice", 100, "o2"); err != nil {
		t.Errorf("lock after rollback: %v", err)
	}
	other.Rollback()

	if b := balance(t, f.ledger, "alice"); b != 100 {
		t.Errorf("balance = %d, want 100", b)
	}
	if err := tx.Lock("alice", 1, ""); !errors.Is(err, ErrTxDone) {
		t.Errorf("lock on finished tx err = %v", err)
	}
}

func TestTxCommitSettlement(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 100, "")
	f.ledger.Deposit("bob", 100, "")

	// Both sides locked 100 earlier and now fill 100 at P=60
	lockTx := f.ledger.Begin()
	lockTx.Lock("alice", 100, "oy")
	lockTx.Lock("bob", 100, "on")
	b := f.store.NewBatch()
	if err := lockTx.Commit(b); err != nil {
		t.Fatalf("commit locks: %v", err)
	}
	b.Close()

	tx := f.ledger.Begin()
	tx.Record("alice", 100, KindUnlock, "oy")
	tx.Record("alice", -60, KindTradeDebit, "t1")
	tx.Record("bob", 100, KindUnlock, "on")
	tx.Record("bob", -40, KindTradeDebit, "t1")
	tx.Record("@escrow/m1", 100, KindTradeCredit, "t1")
	b = f.store.NewBatch()
	defer b.Close()
	if err := tx.Commit(b); err != nil {
		t.Fatalf("commit trade: %v", err)
	}

	want := map[string]int64{"alice": 40, "bob": 60, "@escrow/m1": 100}
	for u, w := range want {
		if got := balance(t, f.ledger, u); got != w {
			t.Errorf("%s = %d, want %d", u, got, w)
		}
		if _, err := f.ledger.Verify(u); err != nil {
			t.Errorf("verify %s: %v", u, err)
		}
	}
}

func TestCommitRejectsNegativeBalance(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 10, "")

	tx := f.ledger.Begin()
	tx.Record("alice", -11, KindTradeDebit, "t1")
	b := f.store.NewBatch()
	defer b.Close()
	err := tx.Commit(b)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want invariant violation", err)
	}
	if got := testutil.ToFloat64(f.metrics.InvariantViolations); got != 1 {
		t.Errorf("violations metric = %v, want 1", got)
	}
	if b := balance(t, f.ledger, "alice"); b != 10 {
		t.Errorf("balance = %d, want 10 (nothing persisted)", b)
	}
	entries, _ := f.ledger.Entries("alice", 0)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestRecordEntriesAtomic(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("@escrow/m1", 100, "")

	// Payout larger than the pot fails as a whole
	_, err := f.ledger.RecordEntries(
		Request{UserID: "@escrow/m1", Amount: -150, Kind: KindTradeDebit, Reference: "payout"},
		Request{UserID: "alice", Amount: 150, Kind: KindTradeCredit, Reference: "payout"},
	)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("err = %v, want invariant violation", err)
	}
	if b := balance(t, f.ledger, "alice"); b != 0 {
		t.Errorf("alice = %d after failed batch, want 0", b)
	}

	entries, err := f.ledger.RecordEntries(
		Request{UserID: "@escrow/m1", Amount: -100, Kind: KindTradeDebit, Reference: "payout"},
		Request{UserID: "alice", Amount: 100, Kind: KindTradeCredit, Reference: "payout"},
	)
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
	if b := balance(t, f.ledger, "alice"); b != 100 {
		t.Errorf("alice = %d, want 100", b)
	}
}

func TestConcurrentLocksNeverOverspend(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 1000, "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := f.ledger.Begin()
			defer tx.Rollback()
			if err := tx.Lock("alice", 100, "o"); err != nil {
				return
			}
			b := f.store.NewBatch()
			defer b.Close()
			if err := tx.Commit(b); err != nil {
				t.Errorf("commit: %v", err)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Errorf("successful locks = %d, want 10", ok)
	}
	if b := balance(t, f.ledger, "alice"); b != 0 {
		t.Errorf("balance = %d, want 0", b)
	}
}

func TestCacheEvictionMatchesReplay(t *testing.T) {
	// Cache of one entry forces replay on nearly every access
	f := newFixture(t, 1)
	users := []string{"a", "b", "c"}
	for i := 0; i < 5; i++ {
		for _, u := range users {
			if _, err := f.ledger.Deposit(u, int64(10*(i+1)), ""); err != nil {
				t.Fatalf("deposit: %v", err)
			}
		}
	}
	for _, u := range users {
		if got := balance(t, f.ledger, u); got != 150 {
			t.Errorf("%s = %d, want 150", u, got)
		}
		if _, err := f.ledger.Verify(u); err != nil {
			t.Errorf("verify %s: %v", u, err)
		}
	}
}

func TestReplayAfterReopen(t *testing.T) {
	dir := t.TempDir()
	f := openFixture(t, dir, 0)
	f.ledger.Deposit("alice", 500, "")
	f.ledger.RecordEntry("alice", -200, KindLock, "o1")
	last := f.store.Seq()
	f.store.Close()

	g := openFixture(t, dir, 0)
	if b := balance(t, g.ledger, "alice"); b != 300 {
		t.Errorf("balance after reopen = %d, want 300", b)
	}
	e, err := g.ledger.Deposit("alice", 1, "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if e.ID <= last {
		t.Errorf("entry id %d reused a sequence <= %d", e.ID, last)
	}
}

func TestAudit(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 500, "")
	f.ledger.Deposit("bob", 300, "")
	f.ledger.Withdraw("bob", 100, "")
	f.ledger.RecordEntries(
		Request{UserID: "alice", Amount: -60, Kind: KindTradeDebit},
		Request{UserID: "@escrow/m1", Amount: 60, Kind: KindTradeCredit},
	)

	r, err := f.ledger.Audit()
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if r.Users != 3 || r.Entries != 5 {
		t.Errorf("users=%d entries=%d", r.Users, r.Entries)
	}
	if r.Net != 700 || r.Deposits != 800 || r.Withdrawals != -100 {
		t.Errorf("net=%d deposits=%d withdrawals=%d", r.Net, r.Deposits, r.Withdrawals)
	}
}

func TestAuditCountsOutstandingLocks(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 1000, "")

	tx := f.ledger.Begin()
	if err := tx.Lock("alice", 100, "o1"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	b := f.store.NewBatch()
	if err := tx.Commit(b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b.Close()

	r, err := f.ledger.Audit()
	if err != nil {
		t.Fatalf("audit with a resting lock: %v", err)
	}
	if r.Net != 900 || r.Locked != 100 || r.Deposits != 1000 {
		t.Errorf("net=%d locked=%d deposits=%d", r.Net, r.Locked, r.Deposits)
	}

	if _, err := f.ledger.RecordEntry("alice", 100, KindUnlock, "o1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	r, err = f.ledger.Audit()
	if err != nil {
		t.Fatalf("audit after unlock: %v", err)
	}
	if r.Net != 1000 || r.Locked != 0 {
		t.Errorf("net=%d locked=%d", r.Net, r.Locked)
	}
}

func TestAuditDetectsUnbackedUnlock(t *testing.T) {
	f := newFixture(t, 0)
	f.ledger.Deposit("alice", 1000, "")
	if _, err := f.ledger.RecordEntry("alice", 50, KindUnlock, "ghost"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := f.ledger.Audit(); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("err = %v, want ErrInvariantViolation", err)
	}
}
