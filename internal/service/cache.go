package service

import (
	"context"
	"strconv"
	"sync"
)

// Query keys of cached reads.
const (
	keyChallenges = "challenges"
	keyMe         = "me"
)

func detailKey(id int64) string   { return "detail:" + strconv.FormatInt(id, 10) }
func statsKey(id int64) string    { return "stats:" + strconv.FormatInt(id, 10) }
func messagesKey(id int64) string { return "messages:" + strconv.FormatInt(id, 10) }

// cache holds the last successful result of each query key.
type cache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newCache() *cache {
	return &cache{entries: make(map[string]any)}
}

func (c *cache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *cache) put(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}

func (c *cache) invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]any)
}

// query returns the cached value of key unless fresh is set or nothing is cached,
// in which case it calls fetch and stores the result. Failed fetches leave the cache untouched.
func query[T any](ctx context.Context, c *cache, key string, fresh bool, fetch func(context.Context) (T, error)) (T, error) {
	if !fresh {
		if v, ok := c.get(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
	}
	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.put(key, v)
	return v, nil
}
