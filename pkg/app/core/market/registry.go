package market

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

// MarketRegistry manages multiple markets in a thread-safe manner
// Supports registration, lookup, and status updates for all trading markets
type MarketRegistry struct {
	mu      sync.RWMutex
	markets map[string]*Market // id -> market
}

// NewMarketRegistry creates an empty market registry
func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		markets: make(map[string]*Market),
	}
}

// RegisterMarket adds a new market to the registry
// Returns error if market with same id already exists
func (mr *MarketRegistry) RegisterMarket(m Market) error {
	if m.Status == 0 {
		m.Status = Open
	}
	if err := m.Validate(); err != nil {
		return err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, exists := mr.markets[m.ID]; exists {
		return fmt.Errorf("market %s already registered", m.ID)
	}

	mr.markets[m.ID] = &m
	return nil
}

// GetMarket returns a copy of a market
func (mr *MarketRegistry) GetMarket(id string) (Market, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	m, exists := mr.markets[id]
	if !exists {
		return Market{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return *m, nil
}

// ListMarkets returns copies of all registered markets ordered by id
func (mr *MarketRegistry) ListMarkets() []Market {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	markets := make([]Market, 0, len(mr.markets))
	for _, m := range mr.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	return markets
}

// ListOpenMarkets returns only markets accepting orders at now
func (mr *MarketRegistry) ListOpenMarkets(now time.Time) []Market {
	all := mr.ListMarkets()
	open := all[:0]
	for _, m := range all {
		if m.IsOpen(now) {
			open = append(open, m)
		}
	}
	return open
}

// UpdateMarketStatus changes the trading status of a market
// Used for halting and resuming trading
func (mr *MarketRegistry) UpdateMarketStatus(id string, status Status) error {
	if status == Resolved {
		return fmt.Errorf("%w: use ResolveMarket to resolve %s", ErrInvalidTransition, id)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, exists := mr.markets[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := validateStatusTransition(m.Status, status); err != nil {
		return err
	}

	m.Status = status
	return nil
}

// ResolveMarket records the outcome and closes the market for good
func (mr *MarketRegistry) ResolveMarket(id string, outcome order.Side) error {
	if !outcome.Valid() {
		return fmt.Errorf("invalid outcome %d for market %s", outcome, id)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, exists := mr.markets[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := validateStatusTransition(m.Status, Resolved); err != nil {
		return err
	}

	m.Status = Resolved
	m.Outcome = outcome
	return nil
}

// validateStatusTransition checks if status change is valid
func validateStatusTransition(from, to Status) error {
	// Open → Halted: allowed (pause)
	// Halted → Open: allowed (resume trading)
	// Open/Halted → Resolved: allowed
	// Resolved → *: not allowed (terminal state)

	if from == Resolved {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	return nil
}

// Count returns the total number of registered markets
func (mr *MarketRegistry) Count() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.markets)
}

// Exists checks if a market is registered
func (mr *MarketRegistry) Exists(id string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, exists := mr.markets[id]
	return exists
}
