package storage

import "fmt"

// Pebble key schema
// Design principles:
// 1. Prefix-based for range scans (all orders of a user, all entries of a user)
// 2. Zero-padded sequence numbers (20 digits) so lexicographic order is
//    insertion order
// 3. User and market ids never contain ':' (enforced by the engine), so a
//    prefix always ends at an id boundary
//
//   ord:{orderID}                       → Order
//   uord:{user}:{seq}:{orderID}         → orderID (orders of a user)
//   rest:{market}:{seq}:{orderID}       → orderID (resting orders, book rebuild)
//   trade:{market}:{seq}:{tradeID}      → Trade
//   led:{user}:{seq}                    → LedgerEntry
//   evt:{orderID}:{seq}                 → OrderEvent
//   meta:seq                            → persisted sequence high-water mark

const (
	prefixOrder     = "ord:"
	prefixUserOrder = "uord:"
	prefixResting   = "rest:"
	prefixTrade     = "trade:"
	prefixLedger    = "led:"
	prefixEvent     = "evt:"
)

var metaSeqKey = []byte("meta:seq")

// OrderKey returns the key for an order row
// Format: "ord:{orderID}"
func OrderKey(orderID string) []byte {
	return []byte(prefixOrder + orderID)
}

// OrderPrefixAll returns the prefix of every order row
func OrderPrefixAll() []byte {
	return []byte(prefixOrder)
}

// UserOrderKey indexes an order under its owner
// Format: "uord:{user}:{seq}:{orderID}"
func UserOrderKey(user string, seq uint64, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixUserOrder, user, seq, orderID))
}

// UserOrderPrefix returns the prefix for all orders of a user
func UserOrderPrefix(user string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixUserOrder, user))
}

// RestingKey indexes an order that currently rests in its market's book
// Format: "rest:{market}:{seq}:{orderID}"
func RestingKey(market string, seq uint64, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixResting, market, seq, orderID))
}

// RestingPrefix returns the prefix for resting orders of a market
func RestingPrefix(market string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixResting, market))
}

// RestingPrefixAll returns the prefix for resting orders of every market
func RestingPrefixAll() []byte {
	return []byte(prefixResting)
}

// TradeKey returns the key for a trade
// Format: "trade:{market}:{seq}:{tradeID}"
func TradeKey(market string, seq uint64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, market, seq, tradeID))
}

// TradePrefix returns the prefix for all trades of a market
func TradePrefix(market string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, market))
}

// LedgerKey returns the key for a ledger entry
// Format: "led:{user}:{seq}"
func LedgerKey(user string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixLedger, user, seq))
}

// LedgerPrefix returns the prefix for all entries of a user
func LedgerPrefix(user string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixLedger, user))
}

// LedgerPrefixAll returns the prefix for every ledger entry
func LedgerPrefixAll() []byte {
	return []byte(prefixLedger)
}

// EventKey returns the key for an order lifecycle event
// Format: "evt:{orderID}:{seq}"
func EventKey(orderID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixEvent, orderID, seq))
}

// EventPrefix returns the prefix for all lifecycle events of an order
func EventPrefix(orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEvent, orderID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "led:alice:" -> upper bound "led:alice;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
