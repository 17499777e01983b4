package util

import "sync/atomic"

// Sequencer hands out strictly monotonic sequence numbers. Orders, trades,
// ledger entries and lifecycle events all draw from one sequencer, so the
// sequence doubles as the FIFO tie-break inside a price level.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer starts after the given value: 0 on a fresh store, the
// persisted high-water mark after a restart.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
