package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/matzehuels/testmap/pkg/observability"
)

// GetJSON decodes the value under key into v. A corrupt entry is deleted and
// reported as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		observability.Cache().OnCacheMiss(ctx, keyType(key))
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = c.Delete(ctx, key)
		observability.Cache().OnCacheMiss(ctx, keyType(key))
		return false, nil
	}
	observability.Cache().OnCacheHit(ctx, keyType(key))
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	observability.Cache().OnCacheSet(ctx, keyType(key), len(data))
	return nil
}

// Invalidate deletes every given key, returning the first error.
func Invalidate(ctx context.Context, c Cache, keys ...string) error {
	var first error
	for _, k := range keys {
		if err := c.Delete(ctx, k); err != nil && first == nil {
			first = err
		}
		observability.Cache().OnCacheInvalidate(ctx, keyType(k))
	}
	return first
}

// keyType returns the leading segment of a key after any scope prefix, for
// example "features" for "remote:x:features:tree:1".
func keyType(key string) string {
	for _, t := range []string{"project:", "features:", "tests:", "diagram:"} {
		if strings.Contains(key, t) {
			return strings.TrimSuffix(t, ":")
		}
	}
	return "other"
}
