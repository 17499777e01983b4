package util

import (
	"sync"
	"testing"
	"time"
)

func TestSequencerMonotonic(t *testing.T) {
	s := NewSequencer(41)
	if got := s.Next(); got != 42 {
		t.Fatalf("Next() = %d, want 42", got)
	}

	var wg sync.WaitGroup
	seen := make(chan uint64, 1000)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				seen <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for v := range seen {
		if unique[v] {
			t.Fatalf("duplicate sequence %d", v)
		}
		unique[v] = true
	}
	if s.Current() != 1042 {
		t.Errorf("Current() = %d, want 1042", s.Current())
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(time.Hour))
	}
}

func TestParseLevelFallback(t *testing.T) {
	if got := parseLevel("nonsense"); got.String() != "info" {
		t.Errorf("parseLevel(nonsense) = %s, want info", got)
	}
	if got := parseLevel("debug"); got.String() != "debug" {
		t.Errorf("parseLevel(debug) = %s, want debug", got)
	}
}
