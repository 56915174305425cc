// Package cache is the read-through cache in front of the version store:
// jittered TTLs, a single-flight fill lock and per-namespace invalidation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Key layout.
const (
	NamespacesKey = "namespaces:all"
	keyPrefix     = "cfg:"
)

// ItemKey addresses the full entry of one item.
func ItemKey(ns, key string) string { return keyPrefix + ns + ":item:" + key }

// MetaKey addresses the namespace-wide metadata listing.
func MetaKey(ns string) string { return keyPrefix + ns + ":meta" }

// AllKey addresses the namespace-wide item listing.
func AllKey(ns string) string { return keyPrefix + ns + ":all" }

// Options configures a Layer.
type Options struct {
	TTL            time.Duration // base entry TTL, jittered ±10% per write
	LockTTL        time.Duration
	LockRetries    int
	LockRetryDelay time.Duration
}

// DefaultOptions returns the standard cache settings.
func DefaultOptions() Options {
	return Options{
		TTL:            5 * time.Minute,
		LockTTL:        5 * time.Second,
		LockRetries:    3,
		LockRetryDelay: 50 * time.Millisecond,
	}
}

const jitterFraction = 0.10

// Layer is the cache facade used by the services.
type Layer struct {
	backend Backend
	sf      *SingleFlight
	ttl     time.Duration
	logger  *slog.Logger
}

// New returns a Layer over backend.
func New(backend Backend, opts Options, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultOptions().LockTTL
	}
	return &Layer{
		backend: backend,
		sf:      NewSingleFlight(backend, opts.LockTTL, genTTL(opts), opts.LockRetries, opts.LockRetryDelay, logger),
		ttl:     opts.TTL,
		logger:  logger,
	}
}

// genTTL outlives any jittered entry plus a fill in flight.
func genTTL(opts Options) time.Duration {
	return 2*opts.TTL + opts.LockTTL
}

// JitteredTTL returns the base TTL scaled by a random factor in [0.9, 1.1].
func (l *Layer) JitteredTTL() time.Duration {
	return Jitter(l.ttl, jitterFraction)
}

// Jitter scales d by a random factor in [1-fraction, 1+fraction].
func Jitter(d time.Duration, fraction float64) time.Duration {
	factor := 1 - fraction + rand.Float64()*2*fraction
	return time.Duration(float64(d) * factor)
}

// GetWithLock returns the value cached under cacheKey, or fills it with
// load through the single-flight lock. Values are cached as JSON.
func GetWithLock[T any](ctx context.Context, l *Layer, cacheKey string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := l.sf.Do(ctx, cacheKey, l.JitteredTTL(), func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		// A corrupt entry must not wedge reads; drop it and load directly.
		l.logger.Warn("cache entry undecodable, reloading", "key", cacheKey, "error", err)
		l.delete(ctx, cacheKey)
		return load(ctx)
	}
	return out, nil
}

// Invalidate drops the entry for key (when non-empty) and the namespace-wide
// listings. Fills already in flight for those keys are not stored. Failures
// are logged and swallowed.
func (l *Layer) Invalidate(ctx context.Context, ns, key string) {
	keys := []string{MetaKey(ns), AllKey(ns)}
	if key != "" {
		keys = append([]string{ItemKey(ns, key)}, keys...)
	}
	l.invalidate(ctx, keys...)
}

// InvalidateNamespaces drops the cached namespace list.
func (l *Layer) InvalidateNamespaces(ctx context.Context) {
	l.invalidate(ctx, NamespacesKey)
}

func (l *Layer) invalidate(ctx context.Context, keys ...string) {
	if err := l.sf.Invalidate(ctx, keys...); err != nil {
		l.logger.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
}

func (l *Layer) delete(ctx context.Context, keys ...string) {
	if err := l.backend.Delete(ctx, keys...); err != nil {
		l.logger.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
}

// Close releases the backend.
func (l *Layer) Close() error {
	if err := l.backend.Close(); err != nil {
		return fmt.Errorf("close cache backend: %w", err)
	}
	return nil
}
