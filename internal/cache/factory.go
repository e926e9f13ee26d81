package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultTTL = time.Hour

// Options configures a Store. At least one of MaxEntries and MaxBytes must be
// positive; a zero bound is unlimited, a negative one is rejected.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	DefaultTTL time.Duration
	// Clock is used for every timestamp and expiry check. Defaults to time.Now.
	Clock  func() time.Time
	Logger *zap.Logger
}

// CapacityConfigurationError reports an unusable capacity bound.
// It is only ever returned by NewStore.
type CapacityConfigurationError struct {
	MaxEntries int
	MaxBytes   int64
}

func (e *CapacityConfigurationError) Error() string {
	return fmt.Sprintf("cache: invalid capacity (max_entries=%d, max_bytes=%d): bounds must not be negative and at least one must be positive",
		e.MaxEntries, e.MaxBytes)
}

// NewStore validates opts and returns an empty store.
func NewStore(opts Options) (*Store, error) {
	if opts.MaxEntries < 0 || opts.MaxBytes < 0 || (opts.MaxEntries == 0 && opts.MaxBytes == 0) {
		return nil, &CapacityConfigurationError{MaxEntries: opts.MaxEntries, MaxBytes: opts.MaxBytes}
	}

	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		items:      make(map[Key]*entry),
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		defaultTTL: ttl,
		now:        clock,
		logger:     logger.Named("cache"),
	}, nil
}
