package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// CachedEmbedder wraps an Embedder with an in-memory cache keyed by content
// hash. Memory contents are re-embedded often during recall; identical text
// always yields the identical vector for a given model, so a TTL cache cuts
// most round trips.
type CachedEmbedder struct {
	embedder Embedder
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	embedding []float32
	storedAt  time.Time
}

// NewCachedEmbedder wraps the given embedder. A non-positive ttl disables
// caching and passes every call through.
func NewCachedEmbedder(embedder Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		embedder: embedder,
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
	}
}

// Embed returns the cached vector for the text when fresh, otherwise
// delegates and caches the result. Errors are never cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.ttl <= 0 {
		return c.embedder.Embed(ctx, text)
	}
	key := contentHash(text)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.storedAt) < c.ttl {
		return entry.embedding, nil
	}

	embedding, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{embedding: embedding, storedAt: time.Now()}
	c.mu.Unlock()
	return embedding, nil
}

// Len reports how many entries the cache currently holds.
func (c *CachedEmbedder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
