package cache

import (
	"context"
	"errors"
	"time"

	ttlcache "github.com/miradorstack/defect-analyzer/pkg/cache"
)

// Provider defines the cache operations needed to memoize analysis responses.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Close is a no-op.
func (NoopProvider) Close() error { return nil }

// MemoryProvider keeps entries in process. Used when caching is enabled without a Valkey address.
type MemoryProvider struct {
	entries *ttlcache.TTLCache[[]byte]
}

// NewMemoryProvider creates an empty in-process provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{entries: ttlcache.NewTTLCache[[]byte]()}
}

// Get returns a copy of the stored bytes or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Close drops expired entries; the provider stays usable.
func (m *MemoryProvider) Close() error {
	m.entries.Sweep()
	return nil
}
