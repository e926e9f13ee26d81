package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type evictReason int

const (
	reasonExplicit evictReason = iota // Invalidate, Clear, oversized overwrite, restore overflow
	reasonExpired
	reasonLRU
)

// entry is a node of the intrusive recency list. prev points towards the hot end.
type entry struct {
	key        Key
	value      []byte
	size       int64
	createdAt  time.Time
	lastAccess time.Time
	expiresAt  time.Time

	prev *entry
	next *entry
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Store is a bounded in-memory cache with per-entry TTL and LRU eviction.
//
// Every operation runs under one mutex: recency order and size accounting
// have to move together. Nothing expensive happens inside the lock; callers
// compute values before Set and fingerprint directories before building keys.
type Store struct {
	mu    sync.Mutex
	items map[Key]*entry
	head  *entry // most recently used
	tail  *entry // least recently used

	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger

	bytes        int64
	hits         uint64
	misses       uint64
	ttlEvictions uint64
	lruEvictions uint64
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss. The returned slice must not be modified.
func (s *Store) Get(_ context.Context, key Key) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}

	now := s.now()
	if e.expired(now) {
		s.remove(e, reasonExpired)
		s.misses++
		return nil, false
	}

	e.lastAccess = now
	s.moveToFront(e)
	s.hits++
	return e.value, true
}

// Set stores value under key with the default TTL.
func (s *Store) Set(ctx context.Context, key Key, value []byte) {
	s.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL inserts or overwrites key. ttl <= 0 selects the default TTL.
// Least recently used entries are evicted until the store is back within
// its bounds. A value larger than the byte bound on its own is not stored.
func (s *Store) SetWithTTL(_ context.Context, key Key, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	// Copy to decouple from caller's buffer
	var valueCopy []byte
	if value != nil {
		valueCopy = make([]byte, len(value))
		copy(valueCopy, value)
	}
	size := int64(len(valueCopy))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 && size > s.maxBytes {
		if e, ok := s.items[key]; ok {
			s.remove(e, reasonExplicit)
		}
		s.logger.Warn("cache: value exceeds byte capacity, not stored",
			zap.String("cache_key", key.String()),
			zap.Int64("size", size),
			zap.Int64("max_bytes", s.maxBytes),
		)
		return
	}

	now := s.now()
	if e, ok := s.items[key]; ok {
		s.bytes += size - e.size
		e.value = valueCopy
		e.size = size
		e.createdAt = now
		e.lastAccess = now
		e.expiresAt = now.Add(ttl)
		s.moveToFront(e)
	} else {
		e := &entry{
			key:        key,
			value:      valueCopy,
			size:       size,
			createdAt:  now,
			lastAccess: now,
			expiresAt:  now.Add(ttl),
		}
		s.items[key] = e
		s.pushFront(e)
		s.bytes += size
	}

	for s.overCapacity() && s.tail != nil {
		s.remove(s.tail, reasonLRU)
	}
}

// Invalidate removes key if present.
func (s *Store) Invalidate(_ context.Context, key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[key]; ok {
		s.remove(e, reasonExplicit)
	}
}

// Clear removes all entries. Lifetime counters are kept.
func (s *Store) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[Key]*entry)
	s.head, s.tail = nil, nil
	s.bytes = 0
}

// Stats returns a snapshot without touching recency order.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries:      len(s.items),
		Bytes:        s.bytes,
		Hits:         s.hits,
		Misses:       s.misses,
		TTLEvictions: s.ttlEvictions,
		LRUEvictions: s.lruEvictions,
		MaxEntries:   s.maxEntries,
		MaxBytes:     s.maxBytes,
	}
}

// Len returns the number of entries currently held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns every live entry ordered from least to most recently used.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	records := make([]Record, 0, len(s.items))
	for e := s.tail; e != nil; e = e.prev {
		if e.expired(now) {
			continue
		}
		records = append(records, Record{
			Key:        e.key,
			Value:      e.value,
			CreatedAt:  e.createdAt,
			LastAccess: e.lastAccess,
			ExpiresAt:  e.expiresAt,
			Size:       e.size,
		})
	}
	return records
}

// Restore loads persisted records, oldest access first, skipping any whose
// deadline has passed. Timestamps are kept as recorded; sizes are
// recomputed from the payload. Lifetime counters are not touched.
// It returns the number of records that ended up in the store.
func (s *Store) Restore(records []Record) int {
	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastAccess.Before(ordered[j].LastAccess)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	loaded := make(map[Key]struct{}, len(ordered))
	for _, r := range ordered {
		if r.Expired(now) {
			continue
		}
		size := int64(len(r.Value))
		if s.maxBytes > 0 && size > s.maxBytes {
			continue
		}
		if old, ok := s.items[r.Key]; ok {
			s.remove(old, reasonExplicit)
		}
		e := &entry{
			key:        r.Key,
			value:      r.Value,
			size:       size,
			createdAt:  r.CreatedAt,
			lastAccess: r.LastAccess,
			expiresAt:  r.ExpiresAt,
		}
		s.items[r.Key] = e
		s.pushFront(e)
		s.bytes += size
		loaded[r.Key] = struct{}{}

		for s.overCapacity() && s.tail != nil {
			s.remove(s.tail, reasonExplicit)
		}
	}

	restored := 0
	for k := range loaded {
		if _, ok := s.items[k]; ok {
			restored++
		}
	}
	return restored
}

func (s *Store) overCapacity() bool {
	if s.maxEntries > 0 && len(s.items) > s.maxEntries {
		return true
	}
	return s.maxBytes > 0 && s.bytes > s.maxBytes
}

// remove is the single removal primitive shared by lazy expiry, sweeps,
// eviction and explicit invalidation. Caller holds s.mu.
func (s *Store) remove(e *entry, reason evictReason) {
	s.unlink(e)
	delete(s.items, e.key)
	s.bytes -= e.size

	switch reason {
	case reasonExpired:
		s.ttlEvictions++
	case reasonLRU:
		s.lruEvictions++
	}
}

func (s *Store) pushFront(e *entry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *Store) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (s *Store) moveToFront(e *entry) {
	if s.head == e {
		return
	}
	s.unlink(e)
	s.pushFront(e)
}

var _ Cache = (*Store)(nil)
