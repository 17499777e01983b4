package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/uhyunpark/predikt/pkg/app/core/order"
)

// MaxOrderAmountLimit keeps amount * PriceScale within int64 for cost and
// fee arithmetic
const MaxOrderAmountLimit = math.MaxInt64 / order.PriceScale

// Config holds matching limits and fees
type Config struct {
	MinOrderAmount   int64         // minor units
	MaxOrderAmount   int64         // minor units
	MaxFillsPerOrder int           // the unmatched remainder rests
	TakerFeeBps      int64         // charged to the incoming order per fill
	LockTimeout      time.Duration // max wait for a market's writer lock
}

func DefaultConfig() Config {
	return Config{
		MinOrderAmount:   100,
		MaxOrderAmount:   100_000_000,
		MaxFillsPerOrder: 50,
		TakerFeeBps:      0,
		LockTimeout:      5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.MinOrderAmount <= 0 {
		return fmt.Errorf("min order amount must be positive: %d", c.MinOrderAmount)
	}
	if c.MaxOrderAmount < c.MinOrderAmount {
		return fmt.Errorf("max order amount %d below min %d", c.MaxOrderAmount, c.MinOrderAmount)
	}
	if c.MaxOrderAmount > MaxOrderAmountLimit {
		return fmt.Errorf("max order amount %d above limit %d", c.MaxOrderAmount, MaxOrderAmountLimit)
	}
	if c.MaxFillsPerOrder <= 0 {
		return fmt.Errorf("max fills per order must be positive: %d", c.MaxFillsPerOrder)
	}
	if c.TakerFeeBps < 0 || c.TakerFeeBps >= 10000 {
		return fmt.Errorf("taker fee must be in [0, 10000) bps: %d", c.TakerFeeBps)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive: %s", c.LockTimeout)
	}
	return nil
}
