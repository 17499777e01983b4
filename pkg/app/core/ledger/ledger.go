package ledger

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/metrics"
	"github.com/uhyunpark/predikt/pkg/storage"
	"github.com/uhyunpark/predikt/pkg/util"
)

const DefaultCacheSize = 10_000

// Ledger is the sole source of truth for funds. Entries are appended through
// transactions whose rows land in the caller's storage batch; the ledger
// commits that batch so the funds check and the write happen under one
// mutex hold.
type Ledger struct {
	mu sync.Mutex

	store   *storage.Store
	seq     *util.Sequencer
	clock   util.Clock
	log     *zap.Logger
	metrics *metrics.Metrics

	// Running totals of committed entries. A miss replays the user's rows,
	// so an evicted user is never wrong, only slower.
	balances *lru.Cache[string, int64]

	// Amounts locked by transactions that have not committed yet
	reserved map[string]int64
}

func New(store *storage.Store, seq *util.Sequencer, clock util.Clock, log *zap.Logger, m *metrics.Metrics, cacheSize int) (*Ledger, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, int64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance cache: %w", err)
	}
	return &Ledger{
		store:    store,
		seq:      seq,
		clock:    clock,
		log:      log.Named("ledger"),
		metrics:  m,
		balances: cache,
		reserved: make(map[string]int64),
	}, nil
}

// balance returns the committed balance of a user (assumes lock is held)
func (l *Ledger) balance(user string) (int64, error) {
	if b, ok := l.balances.Get(user); ok {
		return b, nil
	}
	b, err := l.replay(user)
	if err != nil {
		return 0, err
	}
	l.balances.Add(user, b)
	return b, nil
}

func (l *Ledger) replay(user string) (int64, error) {
	var sum int64
	err := l.store.Scan(storage.LedgerPrefix(user), func(_, v []byte) error {
		var e Entry
		if err := storage.Decode(v, &e); err != nil {
			return err
		}
		sum += e.Amount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replay ledger of %s: %w", user, err)
	}
	return sum, nil
}

// AvailableBalance returns the sum of the user's committed entries
func (l *Ledger) AvailableBalance(user string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(user)
}

// Begin starts a unit of work
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:        l,
		reserved: make(map[string]int64),
	}
}

// RecordEntry appends a single entry. Negative lock and withdrawal entries
// are funds-checked; any other entry must not drive the balance negative.
func (l *Ledger) RecordEntry(user string, amount int64, kind Kind, reference string) (Entry, error) {
	entries, err := l.RecordEntries(Request{UserID: user, Amount: amount, Kind: kind, Reference: reference})
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// RecordEntries appends several entries atomically. Used by the settlement
// process for payout and fee batches.
func (l *Ledger) RecordEntries(reqs ...Request) ([]Entry, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidEntry)
	}
	tx := l.Begin()
	defer tx.Rollback()

	for _, r := range reqs {
		if err := r.validate(); err != nil {
			return nil, err
		}
		var err error
		if r.Kind.checked() && r.Amount < 0 {
			err = tx.debit(r.UserID, -r.Amount, r.Kind, r.Reference)
		} else {
			err = tx.Record(r.UserID, r.Amount, r.Kind, r.Reference)
		}
		if err != nil {
			return nil, err
		}
	}

	batch := l.store.NewBatch()
	defer batch.Close()
	if err := tx.Commit(batch); err != nil {
		return nil, err
	}
	return tx.Entries(), nil
}

// Deposit credits funds arriving from the payment rail
func (l *Ledger) Deposit(user string, amount int64, reference string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, fmt.Errorf("%w: deposit amount must be positive: %d", ErrInvalidEntry, amount)
	}
	return l.RecordEntry(user, amount, KindExternalDeposit, reference)
}

// Withdraw debits funds leaving through the payment rail
func (l *Ledger) Withdraw(user string, amount int64, reference string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, fmt.Errorf("%w: withdraw amount must be positive: %d", ErrInvalidEntry, amount)
	}
	return l.RecordEntry(user, -amount, KindExternalWithdrawal, reference)
}

// Entries returns up to limit entries of a user, newest first. limit <= 0
// returns everything.
func (l *Ledger) Entries(user string, limit int) ([]Entry, error) {
	var out []Entry
	err := l.store.ScanReverse(storage.LedgerPrefix(user), func(_, v []byte) error {
		var e Entry
		if err := storage.Decode(v, &e); err != nil {
			return err
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			return storage.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger of %s: %w", user, err)
	}
	return out, nil
}

// Verify replays a user's entries and compares the result with the running
// total. Returns the replayed balance.
func (l *Ledger) Verify(user string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	replayed, err := l.replay(user)
	if err != nil {
		return 0, err
	}
	if replayed < 0 {
		return replayed, fmt.Errorf("%w: %s replays to negative balance %d", ErrInvariantViolation, user, replayed)
	}
	if cached, ok := l.balances.Peek(user); ok && cached != replayed {
		return replayed, fmt.Errorf("%w: %s running total %d, replay %d", ErrInvariantViolation, user, cached, replayed)
	}
	return replayed, nil
}

// Report summarizes a full ledger scan
type Report struct {
	Users       int
	Entries     int
	Deposits    int64
	Withdrawals int64 // negative
	Locked      int64 // held by open orders: minus the sum of lock and unlock entries
	Net         int64 // sum of every entry; Net + Locked must equal Deposits + Withdrawals
	Balances    map[string]int64
	Negative    []string
}

// Audit replays the whole ledger. Trading only moves funds between users
// and locks park them outside any balance, so the sum of all entries plus
// the outstanding locks must equal net external flows.
func (l *Ledger) Audit() (*Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := &Report{Balances: make(map[string]int64)}
	err := l.store.Scan(storage.LedgerPrefixAll(), func(_, v []byte) error {
		var e Entry
		if err := storage.Decode(v, &e); err != nil {
			return err
		}
		r.Entries++
		r.Net += e.Amount
		r.Balances[e.UserID] += e.Amount
		switch e.Kind {
		case KindExternalDeposit:
			r.Deposits += e.Amount
		case KindExternalWithdrawal:
			r.Withdrawals += e.Amount
		case KindLock, KindUnlock:
			r.Locked -= e.Amount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}
	r.Users = len(r.Balances)
	for u, b := range r.Balances {
		if b < 0 {
			r.Negative = append(r.Negative, u)
		}
	}
	sort.Strings(r.Negative)
	if len(r.Negative) > 0 {
		return r, fmt.Errorf("%w: negative balances for %v", ErrInvariantViolation, r.Negative)
	}
	if r.Locked < 0 {
		return r, fmt.Errorf("%w: unlocks exceed locks by %d", ErrInvariantViolation, -r.Locked)
	}
	if r.Net+r.Locked != r.Deposits+r.Withdrawals {
		return r, fmt.Errorf("%w: entries sum to %d with %d locked, external flows to %d",
			ErrInvariantViolation, r.Net, r.Locked, r.Deposits+r.Withdrawals)
	}
	return r, nil
}
