package ledger

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/storage"
)

// Tx stages the entries of one atomic unit. Nothing is visible to readers
// until Commit; Rollback (or a failed Commit) discards everything.
type Tx struct {
	l        *Ledger
	entries  []Entry
	reserved map[string]int64 // this tx's share of l.reserved
	done     bool
}

// Lock checks that the user can cover amount and reserves it, then stages a
// negative lock entry. The check counts reservations of every other open
// transaction, so two concurrent units can never spend the same funds.
func (tx *Tx) Lock(user string, amount int64, reference string) error {
	return tx.debit(user, amount, KindLock, reference)
}

func (tx *Tx) debit(user string, amount int64, kind Kind, reference string) error {
	if tx.done {
		return ErrTxDone
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %s amount must be positive: %d", ErrInvalidEntry, kind, amount)
	}
	if user == "" {
		return fmt.Errorf("%w: empty user", ErrInvalidEntry)
	}

	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()

	committed, err := l.balance(user)
	if err != nil {
		return err
	}
	// Own staged entries count too: a later lock in the same unit must not
	// reuse funds an earlier one already took.
	available := committed - l.reserved[user] + tx.unreserved(user)
	if available < amount {
		return &InsufficientFundsError{UserID: user, Available: available, Required: amount}
	}
	l.reserved[user] += amount
	tx.reserved[user] += amount
	tx.stage(user, -amount, kind, reference)
	return nil
}

// unreserved is this tx's staged delta for user excluding its own checked
// debits, which l.reserved already counts.
func (tx *Tx) unreserved(user string) int64 {
	var d int64
	for _, e := range tx.entries {
		if e.UserID == user {
			d += e.Amount
		}
	}
	return d + tx.reserved[user]
}

// Record stages an entry without a funds check. Its cover must come from
// entries of the same unit; Commit rejects the unit otherwise.
func (tx *Tx) Record(user string, amount int64, kind Kind, reference string) error {
	if tx.done {
		return ErrTxDone
	}
	if err := (Request{UserID: user, Amount: amount, Kind: kind, Reference: reference}).validate(); err != nil {
		return err
	}
	tx.stage(user, amount, kind, reference)
	return nil
}

func (tx *Tx) stage(user string, amount int64, kind Kind, reference string) {
	tx.entries = append(tx.entries, Entry{
		ID:        tx.l.seq.Next(),
		UserID:    user,
		Amount:    amount,
		Kind:      kind,
		Reference: reference,
		Timestamp: tx.l.clock.Now(),
	})
}

// Entries returns the staged (or committed) entries
func (tx *Tx) Entries() []Entry {
	out := make([]Entry, len(tx.entries))
	copy(out, tx.entries)
	return out
}

// Len returns the number of staged entries
func (tx *Tx) Len() int {
	return len(tx.entries)
}

// Commit verifies that no touched balance goes negative, appends the
// entries to batch and commits it durably. The batch may carry other rows
// of the same unit (orders, trades, events); they become durable together.
func (tx *Tx) Commit(batch *storage.Batch) error {
	if tx.done {
		return ErrTxDone
	}
	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()
	defer tx.release()

	deltas := make(map[string]int64)
	for _, e := range tx.entries {
		deltas[e.UserID] += e.Amount
	}
	users := make([]string, 0, len(deltas))
	for u := range deltas {
		users = append(users, u)
	}
	sort.Strings(users)

	after := make(map[string]int64, len(users))
	for _, u := range users {
		committed, err := l.balance(u)
		if err != nil {
			return err
		}
		if deltas[u] > 0 && committed > math.MaxInt64-deltas[u] {
			return fmt.Errorf("%w: crediting %d to %s overflows balance %d", ErrInvalidEntry, deltas[u], u, committed)
		}
		others := l.reserved[u] - tx.reserved[u]
		bal := committed + deltas[u]
		if bal-others < 0 {
			l.log.Error("ledger_invariant_violation",
				zap.Bool("alert", true),
				zap.String("user", u),
				zap.Int64("committed", committed),
				zap.Int64("delta", deltas[u]),
				zap.Int64("reserved_by_others", others))
			l.metrics.InvariantViolations.Inc()
			return fmt.Errorf("%w: balance of %s would become %d", ErrInvariantViolation, u, bal-others)
		}
		after[u] = bal
	}

	var maxID uint64
	for _, e := range tx.entries {
		if err := batch.Put(storage.LedgerKey(e.UserID, e.ID), e); err != nil {
			return err
		}
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	batch.MarkSeq(maxID)
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}

	for u, b := range after {
		l.balances.Add(u, b)
	}
	for _, e := range tx.entries {
		l.metrics.LedgerEntries.WithLabelValues(string(e.Kind)).Inc()
	}
	return nil
}

// Rollback discards the staged entries and releases reservations. Safe to
// call after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()
	tx.release()
	tx.entries = nil
}

// release drops this tx's reservations (assumes l.mu is held)
func (tx *Tx) release() {
	if tx.done {
		return
	}
	tx.done = true
	for u, amt := range tx.reserved {
		tx.l.reserved[u] -= amt
		if tx.l.reserved[u] == 0 {
			delete(tx.l.reserved, u)
		}
	}
	tx.reserved = nil
}
