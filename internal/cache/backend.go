package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Backend is the shared cache/lock boundary. Implementations must make SetNX
// and CompareAndDelete atomic with respect to each other.
type Backend interface {
	// Get returns the value under key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// SetNX stores token under key for ttl only if key is absent, and reports
	// whether it did.
	SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only if it still holds token, and reports
	// whether it did.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	Close() error
}

// MemoryBackend is a single-process Backend on top of ttlcache.
type MemoryBackend struct {
	mu    sync.Mutex // serialises lock operations
	items *ttlcache.Cache[string, []byte]
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns a MemoryBackend holding at most capacity entries
// (0 = unbounded) and starts its expiry loop.
func NewMemoryBackend(capacity uint64) *MemoryBackend {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](capacity))
	}
	items := ttlcache.New(opts...)
	go items.Start()
	return &MemoryBackend{items: items}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.items.Set(key, value, ttl)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

func (m *MemoryBackend) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.items.Get(key); item != nil && !item.IsExpired() {
		return false, nil
	}
	m.items.Set(key, []byte(token), ttl)
	return true, nil
}

func (m *MemoryBackend) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items.Get(key)
	if item == nil || item.IsExpired() || string(item.Value()) != token {
		return false, nil
	}
	m.items.Delete(key)
	return true, nil
}

// Close stops the expiry loop.
func (m *MemoryBackend) Close() error {
	m.items.Stop()
	return nil
}
