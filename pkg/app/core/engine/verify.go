package engine

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/order"
	"github.com/uhyunpark/predikt/pkg/storage"
)

// VerifyReport is the outcome of a full order consistency check
type VerifyReport struct {
	Orders   int
	Resting  int
	Locked   int64 // held by resting orders
	Problems []string
}

func (r *VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

func (r *VerifyReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify cross-checks persisted orders against the resting index, the
// in-memory books and the ledger. Every order must be internally consistent
// and rest exactly when indexed. Its lock must match what its ledger entries
// leave outstanding, and resting orders together must hold every lock the
// ledger reports.
func (e *Engine) Verify() (*VerifyReport, error) {
	// Outstanding lock per order from lock/unlock entries
	outstanding := make(map[string]int64)
	err := e.store.Scan(storage.LedgerPrefixAll(), func(_, v []byte) error {
		var en ledger.Entry
		if err := storage.Decode(v, &en); err != nil {
			return err
		}
		if en.Kind == ledger.KindLock || en.Kind == ledger.KindUnlock {
			outstanding[en.Reference] -= en.Amount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}

	indexed := make(map[string]bool)
	err = e.store.Scan(storage.RestingPrefixAll(), func(_, v []byte) error {
		var id string
		if err := storage.Decode(v, &id); err != nil {
			return err
		}
		indexed[id] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan resting index: %w", err)
	}

	r := &VerifyReport{}
	perMarket := make(map[string]int)
	err = e.store.Scan(storage.OrderPrefixAll(), func(_, v []byte) error {
		var o order.Order
		if err := storage.Decode(v, &o); err != nil {
			return err
		}
		r.Orders++
		if err := o.Check(); err != nil {
			r.problem("%v", err)
		}
		if o.Resting() != indexed[o.ID] {
			r.problem("order %s is %s but indexed=%v", o.ID, o.Status, indexed[o.ID])
		}
		delete(indexed, o.ID)
		if o.Locked != outstanding[o.ID] {
			r.problem("order %s holds %d, ledger leaves %d locked", o.ID, o.Locked, outstanding[o.ID])
		}
		if o.Resting() {
			r.Resting++
			r.Locked += o.Locked
			perMarket[o.MarketID]++
			if _, ok := e.book(o.MarketID).Get(o.ID); !ok {
				r.problem("resting order %s missing from the %s book", o.ID, o.MarketID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}

	dangling := make([]string, 0, len(indexed))
	for id := range indexed {
		dangling = append(dangling, id)
	}
	sort.Strings(dangling)
	for _, id := range dangling {
		r.problem("resting index points at missing order %s", id)
	}

	lr, err := e.ledger.Audit()
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		r.problem("%v", err)
	case err != nil:
		return nil, err
	}
	if lr != nil && lr.Locked != r.Locked {
		r.problem("ledger holds %d locked, resting orders %d", lr.Locked, r.Locked)
	}

	e.mu.Lock()
	for id, b := range e.books {
		if b.Len() != perMarket[id] {
			r.problem("book %s holds %d orders, store %d", id, b.Len(), perMarket[id])
		}
	}
	e.mu.Unlock()

	if !r.OK() {
		e.log.Error("order_verification_failed", zap.Bool("alert", true), zap.Strings("problems", r.Problems))
	}
	return r, nil
}
