package cache

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/confhub/internal/metrics"
)

// LockPrefix prefixes the fill-lock key derived from a cache key.
const LockPrefix = "lock:"

// GenPrefix prefixes the generation key derived from a cache key. Every
// invalidation writes a fresh generation; an entry is only served while the
// generation it was filled under is still current.
const GenPrefix = "gen:"

// SingleFlight collapses concurrent cache-miss loads of the same key into one
// loader call using a token lock held in the backend. It never fails because
// of the backend: any backend error degrades to calling the loader directly.
type SingleFlight struct {
	backend    Backend
	lockTTL    time.Duration
	genTTL     time.Duration
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewSingleFlight returns a SingleFlight. lockTTL must exceed the expected
// loader latency; genTTL must exceed the longest entry TTL; retries is the
// number of lock acquisition attempts.
func NewSingleFlight(backend Backend, lockTTL, genTTL time.Duration, retries int, retryDelay time.Duration, logger *slog.Logger) *SingleFlight {
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SingleFlight{
		backend:    backend,
		lockTTL:    lockTTL,
		genTTL:     genTTL,
		retries:    retries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Loader produces the serialized value for a cache key.
type Loader func(ctx context.Context) ([]byte, error)

// Do returns the cached value under key, or loads it. When the fill lock is
// won the loaded value is stored for ttl, unless key was invalidated while
// loading. Loader errors are returned as-is and never cached.
func (sf *SingleFlight) Do(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	gen, err := sf.generation(ctx, key)
	if err != nil {
		sf.logger.Warn("cache get failed, loading directly", "key", key, "error", err)
		return sf.degraded(ctx, load)
	}
	if data, ok, err := sf.lookup(ctx, key, gen); err != nil {
		sf.logger.Warn("cache get failed, loading directly", "key", key, "error", err)
		return sf.degraded(ctx, load)
	} else if ok {
		metrics.RecordCacheLookup(metrics.OutcomeHit)
		return data, nil
	}
	metrics.RecordCacheLookup(metrics.OutcomeMiss)

	lockKey := LockPrefix + key
	token := uuid.NewString()
	acquired, err := sf.acquire(ctx, lockKey, token)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sf.logger.Warn("cache lock failed, loading directly", "key", key, "error", err)
		return sf.degraded(ctx, load)
	}

	if !acquired {
		// Another caller is filling; give it one more moment.
		if err := sleep(ctx, sf.retryDelay); err != nil {
			return nil, err
		}
		if data, ok, err := sf.lookup(ctx, key, gen); err == nil && ok {
			metrics.RecordCacheLookup(metrics.OutcomeHit)
			return data, nil
		}
		return sf.degraded(ctx, load)
	}
	defer sf.release(ctx, lockKey, token)

	// Double-check: the previous holder may have just filled the entry.
	if data, ok, err := sf.lookup(ctx, key, gen); err == nil && ok {
		metrics.RecordCacheLookup(metrics.OutcomeHit)
		return data, nil
	}

	metrics.RecordCacheLoad(metrics.LoadLocked)
	data, err := load(ctx)
	if err != nil {
		return nil, err
	}
	sf.fill(ctx, key, gen, data, ttl)
	return data, nil
}

// Invalidate bumps the generation of every key, then drops the entries.
// A fill that loaded before the bump can no longer be served.
func (sf *SingleFlight) Invalidate(ctx context.Context, keys ...string) error {
	var firstErr error
	for _, k := range keys {
		if err := sf.backend.Set(ctx, GenPrefix+k, []byte(uuid.NewString()), sf.genTTL); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := sf.backend.Delete(ctx, keys...); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// generation returns the current generation of key; "" when none was written.
func (sf *SingleFlight) generation(ctx context.Context, key string) (string, error) {
	raw, ok, err := sf.backend.Get(ctx, GenPrefix+key)
	if err != nil || !ok {
		return "", err
	}
	return string(raw), nil
}

// lookup returns the entry under key when it was filled under gen.
func (sf *SingleFlight) lookup(ctx context.Context, key, gen string) ([]byte, bool, error) {
	raw, ok, err := sf.backend.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	entryGen, data, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok || string(entryGen) != gen {
		return nil, false, nil
	}
	return data, true, nil
}

// fill stores data under key tagged with gen, skipping the write when key
// was invalidated during the load.
func (sf *SingleFlight) fill(ctx context.Context, key, gen string, data []byte, ttl time.Duration) {
	current, err := sf.generation(ctx, key)
	if err != nil {
		sf.logger.Warn("cache set failed", "key", key, "error", err)
		return
	}
	if current != gen {
		metrics.RecordCacheLoad(metrics.LoadStale)
		return
	}
	entry := make([]byte, 0, len(gen)+1+len(data))
	entry = append(append(append(entry, gen...), '\n'), data...)
	if err := sf.backend.Set(ctx, key, entry, ttl); err != nil {
		sf.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (sf *SingleFlight) acquire(ctx context.Context, lockKey, token string) (bool, error) {
	for attempt := 0; attempt < sf.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, sf.retryDelay); err != nil {
				return false, err
			}
		}
		ok, err := sf.backend.SetNX(ctx, lockKey, token, sf.lockTTL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		metrics.RecordLockContention()
	}
	return false, nil
}

// release frees the lock only if this caller still owns it. It runs even
// when ctx is already cancelled; the lock TTL covers a failed release.
func (sf *SingleFlight) release(ctx context.Context, lockKey, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if _, err := sf.backend.CompareAndDelete(rctx, lockKey, token); err != nil {
		sf.logger.Warn("cache lock release failed", "key", lockKey, "error", err)
	}
}

func (sf *SingleFlight) degraded(ctx context.Context, load Loader) ([]byte, error) {
	metrics.RecordCacheLoad(metrics.LoadDegraded)
	return load(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
