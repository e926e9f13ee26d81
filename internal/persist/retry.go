package persist

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

type retryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

var defaultRetryPolicy = retryPolicy{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond}

// withRetry runs op up to MaxRetries+1 times.
// - Retries only on transient network errors.
// - Uses exponential backoff with full jitter.
// - Respects ctx (deadline / cancellation).
func withRetry(ctx context.Context, logger *zap.Logger, policy retryPolicy, name string, op func(ctx context.Context) error) error {
	var lastErr error
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !isTransientNetError(err) {
			logger.Debug("non-retryable error", zap.String("op", name), zap.Error(err))
			return err
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		backoff := computeBackoff(policy.BaseBackoff, attempt)
		logger.Debug("transient error, backing off",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	logger.Warn("persistence op exhausted all retries",
		zap.String("op", name),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%s: max retries (%d) exceeded: %w", name, maxAttempts, lastErr)
}

// isTransientNetError reports whether err looks like a network hiccup that
// may succeed on retry.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// Wrapped errors sometimes only survive as text.
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"loading dataset in memory",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// computeBackoff returns a random wait in [0, base*2^attempt), capped at 10s.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	maxBackoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	const maxAllowed = 10 * time.Second
	if maxBackoff > maxAllowed {
		maxBackoff = maxAllowed
	}
	return time.Duration(rand.Float64() * float64(maxBackoff))
}
