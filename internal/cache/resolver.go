package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"delegation-cache/internal/fingerprint"
	"delegation-cache/internal/metrics"
	"delegation-cache/pkg/logging/logging"
)

// DirectoryFingerprinter is implemented by *fingerprint.Fingerprinter.
type DirectoryFingerprinter interface {
	Fingerprint(ctx context.Context, root string) (fingerprint.Result, error)
}

// ComputeFunc runs the expensive delegation. It is always called outside
// the store's lock.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Result describes how a delegation was served.
type Result struct {
	Value []byte
	Key   Key
	Hit   bool
	// Shared is set when the value came from another caller's in-flight computation.
	Shared bool
	// BypassReason is non-empty when no key could be built and the cache was skipped.
	BypassReason string
}

// ResolverOptions tunes a Resolver.
type ResolverOptions struct {
	// TTL for stored results; 0 uses the store default.
	TTL time.Duration
	// Coalesce makes concurrent misses on one key share a single computation.
	Coalesce bool
}

// Resolver is the read-through path used by request handlers: fingerprint
// the working directory, build the key, serve a hit or compute and store.
type Resolver struct {
	cache         Cache
	fingerprinter DirectoryFingerprinter
	opts          ResolverOptions
	group         singleflight.Group
}

func NewResolver(c Cache, fp DirectoryFingerprinter, opts ResolverOptions) *Resolver {
	return &Resolver{cache: c, fingerprinter: fp, opts: opts}
}

func (r *Resolver) Options() ResolverOptions {
	return r.opts
}

// Resolve returns the cached result for params or computes it.
//
// A fingerprint failure never blocks the delegation: compute runs uncached
// and the reason is reported in Result.BypassReason. Compute errors are
// returned as is and nothing is stored.
func (r *Resolver) Resolve(ctx context.Context, params TaskParams, compute ComputeFunc) (Result, error) {
	logger := logging.L(ctx)

	fp, err := r.fingerprinter.Fingerprint(ctx, params.WorkingDirectory)
	if err != nil {
		reason := bypassReason(err)
		metrics.CacheBypassTotal.WithLabelValues(reason).Inc()
		logger.Warn("cache bypass: cannot fingerprint working directory",
			zap.String("working_directory", params.WorkingDirectory),
			zap.String("reason", reason),
			zap.Error(err),
		)
		value, cerr := compute(ctx)
		return Result{Value: value, BypassReason: err.Error()}, cerr
	}
	metrics.FingerprintDurationSeconds.Observe(fp.Duration.Seconds())

	key := BuildKey(params, fp.Fingerprint)
	if !r.opts.Coalesce {
		if value, ok := r.cache.Get(ctx, key); ok {
			return Result{Value: value, Key: key, Hit: true}, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return Result{Key: key}, err
		}
		r.cache.SetWithTTL(ctx, key, value, r.opts.TTL)
		return Result{Value: value, Key: key}, nil
	}

	// Lookup and computation both run inside the flight, so a caller that
	// arrives just after it lands reads the stored value instead of
	// starting a second computation. The flight keeps the first caller's
	// values but not its cancellation: other callers may still be waiting.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.String(), func() (any, error) {
		if value, ok := r.cache.Get(flightCtx, key); ok {
			return outcome{value: value, hit: true}, nil
		}
		value, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		r.cache.SetWithTTL(flightCtx, key, value, r.opts.TTL)
		return outcome{value: value}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{Key: key, Shared: res.Shared}, res.Err
		}
		out := res.Val.(outcome)
		return Result{Value: out.value, Key: key, Hit: out.hit, Shared: res.Shared}, nil
	case <-ctx.Done():
		return Result{Key: key}, ctx.Err()
	}
}

type outcome struct {
	value []byte
	hit   bool
}

func bypassReason(err error) string {
	switch {
	case errors.Is(err, fingerprint.ErrNotFound):
		return "not_found"
	case errors.Is(err, fingerprint.ErrPermission):
		return "permission"
	case errors.Is(err, fingerprint.ErrNotDirectory):
		return "not_directory"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "other"
	}
}
