package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryEntries bounds a MemoryCache created with maxEntries <= 0.
const DefaultMemoryEntries = 1024

// MemoryCache is the in-process cache used when no Redis is configured. It
// is an LRU with a per-entry TTL: when full, the least recently read dataset
// is dropped.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a MemoryCache holding up to maxEntries bodies.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

// Get returns the body cached for datasetID.
func (c *MemoryCache) Get(_ context.Context, datasetID string) ([]byte, bool, error) {
	body, ok := c.lru.Get(datasetID)
	return body, ok, nil
}

// Set caches a copy of body for datasetID.
func (c *MemoryCache) Set(_ context.Context, datasetID string, body []byte) error {
	copied := make([]byte, len(body))
	copy(copied, body)
	c.lru.Add(datasetID, copied)
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Ping always succeeds.
func (c *MemoryCache) Ping(context.Context) error { return nil }
