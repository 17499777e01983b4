package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// ErrStop ends a Scan early without reporting an error.
var ErrStop = errors.New("storage: stop scan")

// Store provides Pebble-based persistence for orders, trades, ledger entries
// and lifecycle events. Every mutation goes through a Batch so that one
// placement or cancellation is durable all-or-nothing.
type Store struct {
	db *pebble.DB

	mu     sync.Mutex // serializes commits and guards seq
	seq    uint64     // highest sequence number persisted so far
	closed bool
}

// Open opens (or creates) a Pebble database at the given path
func Open(dbPath string) (*Store, error) {
	cache := pebble.NewCache(128 << 20) // 128MB cache
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             64 << 20, // 64MB memtable
		MaxConcurrentCompactions: func() int { return 3 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20, // 64MB
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	s := &Store{db: db}
	val, closer, err := db.Get(metaSeqKey)
	switch {
	case err == nil:
		s.seq = decodeSeq(val)
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		db.Close()
		return nil, fmt.Errorf("failed to read sequence high-water mark: %w", err)
	}

	return s, nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Seq returns the highest sequence number persisted by any committed batch.
func (s *Store) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Get loads the row at key into v. Returns false if the key doesn't exist.
func (s *Store) Get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	if err := decode(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Scan calls fn for every key under prefix in ascending order. The key and
// value slices are only valid during the call.
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) error) error {
	return s.scan(prefix, false, fn)
}

// ScanReverse is Scan in descending key order (newest first for
// sequence-suffixed keys).
func (s *Store) ScanReverse(prefix []byte, fn func(key, value []byte) error) error {
	return s.scan(prefix, true, fn)
}

func (s *Store) scan(prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var valid bool
	if reverse {
		valid = iter.Last()
	} else {
		valid = iter.First()
	}
	for ; valid; valid = step(iter, reverse) {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

func step(iter *pebble.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}

// Batch accumulates the writes of one atomic unit
type Batch struct {
	batch  *pebble.Batch
	store  *Store
	seq    uint64
	n      int
	closed bool
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *Batch {
	return &Batch{
		batch: s.db.NewBatch(),
		store: s,
	}
}

// Put adds a JSON-encoded row to the batch
func (b *Batch) Put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	b.n++
	return b.batch.Set(key, data, nil)
}

// Delete adds a key deletion to the batch
func (b *Batch) Delete(key []byte) error {
	b.n++
	return b.batch.Delete(key, nil)
}

// MarkSeq records that the batch contains rows numbered up to seq. The
// store persists the maximum across all committed batches.
func (b *Batch) MarkSeq(seq uint64) {
	if seq > b.seq {
		b.seq = seq
	}
}

// Len returns the number of operations staged in the batch
func (b *Batch) Len() int {
	return b.n
}

// Commit writes the batch to Pebble atomically and durably
func (b *Batch) Commit() error {
	if b.closed {
		return errors.New("storage: commit on closed batch")
	}
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	hwm := s.seq
	if b.seq > hwm {
		hwm = b.seq
	}
	if err := b.batch.Set(metaSeqKey, encodeSeq(hwm), nil); err != nil {
		return fmt.Errorf("failed to stage sequence: %w", err)
	}
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	s.seq = hwm
	return nil
}

// Close releases the batch. Uncommitted writes are discarded. Safe to call
// more than once.
func (b *Batch) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.batch.Close()
}
