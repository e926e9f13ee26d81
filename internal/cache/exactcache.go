package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Key is the SHA-256 digest of a normalized delegation request plus the
// fingerprint of its working directory.
type Key [sha256.Size]byte

// String returns the lowercase hex form used in logs, URLs and persisted rows.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKey decodes the hex form produced by Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("parse cache key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("parse cache key: want %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Stats is a point-in-time view of a store. Entries and Bytes describe the
// current contents; the counters are lifetime totals and survive Clear.
type Stats struct {
	Entries      int    `json:"entries" yaml:"entries"`
	Bytes        int64  `json:"bytes" yaml:"bytes"`
	Hits         uint64 `json:"hits" yaml:"hits"`
	Misses       uint64 `json:"misses" yaml:"misses"`
	TTLEvictions uint64 `json:"ttl_evictions" yaml:"ttl_evictions"`
	LRUEvictions uint64 `json:"lru_evictions" yaml:"lru_evictions"`
	MaxEntries   int    `json:"max_entries" yaml:"max_entries"`
	MaxBytes     int64  `json:"max_bytes" yaml:"max_bytes"`
}

// Record is the persisted form of an entry.
type Record struct {
	Key        Key       `json:"key"`
	Value      []byte    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	ExpiresAt  time.Time `json:"expires_at"`
	Size       int64     `json:"size"`
}

// Expired reports whether the record's deadline has been reached at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Cache is the interface used by the resolver and the admin handlers.
// Implemented by Store and wrapped by LoggingCache.
// None of the operations fail: a miss is a normal outcome.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Set(ctx context.Context, key Key, value []byte)
	SetWithTTL(ctx context.Context, key Key, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, key Key)
	Clear(ctx context.Context)
	SweepExpired(ctx context.Context) int
	Stats() Stats
}
