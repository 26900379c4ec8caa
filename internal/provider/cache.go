package provider

import (
	"container/list"
	"context"
	"sync"

	"github.com/hyperjump/osusume/internal/models"
)

// EmbeddingCache is an LRU cache wrapping an EmbeddingProvider, keyed by
// (modality, content). Unchanged item descriptions across refresh cycles
// skip the backend call entirely.
type EmbeddingCache struct {
	inner    EmbeddingProvider
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache wraps inner with an LRU cache of the given capacity.
// A capacity of zero or less disables caching.
func NewEmbeddingCache(inner EmbeddingProvider, capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		inner:    inner,
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Embed returns the cached vector when present, otherwise calls the inner
// provider and caches the result. Errors are never cached.
func (c *EmbeddingCache) Embed(ctx context.Context, content string, modality models.Modality) ([]float32, error) {
	if c.capacity <= 0 {
		return c.inner.Embed(ctx, content, modality)
	}
	key := string(modality) + "\x00" + content

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		vec := elem.Value.(*cacheEntry).value
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, content, modality)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = vec
		return vec, nil
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, value: vec})
	c.cache[key] = elem
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
	return vec, nil
}
