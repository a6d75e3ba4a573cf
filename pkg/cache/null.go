package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// NullCache disables caching. Every lookup misses and every write is
// discarded; both are counted so a run with caching off can report how
// often it went to the source.
type NullCache struct {
	misses    atomic.Int64
	discarded atomic.Int64
	closed    atomic.Bool
}

// NewNullCache returns a cache that stores nothing.
func NewNullCache() *NullCache {
	return &NullCache{}
}

func (c *NullCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	c.misses.Add(1)
	return nil, false, nil
}

func (c *NullCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.discarded.Add(1)
	return nil
}

func (c *NullCache) Delete(ctx context.Context, key string) error {
	return nil
}

// Close makes later calls to Get and Set fail with ErrClosed.
func (c *NullCache) Close() error {
	c.closed.Store(true)
	return nil
}

// Stats returns how many lookups missed and how many writes were dropped.
func (c *NullCache) Stats() (misses, discarded int64) {
	return c.misses.Load(), c.discarded.Load()
}

var _ Cache = (*NullCache)(nil)
