package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"myroom/internal/port"
)

// EmbeddingCache keeps recent text-query embeddings. Embeddings do not depend
// on catalog contents, so entries only expire by age and size.
type EmbeddingCache struct {
	lru    *expirable.LRU[string, []float32]
	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewEmbeddingCache(maxSize int, ttl time.Duration) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EmbeddingCache{
		lru: expirable.NewLRU[string, []float32](maxSize, nil, ttl),
	}
}

func cacheKey(model, text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	hash := sha256.Sum256([]byte(model + "\x00" + norm))
	return hex.EncodeToString(hash[:16])
}

func (c *EmbeddingCache) Get(model, text string) ([]float32, bool) {
	v, ok := c.lru.Get(cacheKey(model, text))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *EmbeddingCache) Put(model, text string, v []float32) {
	c.lru.Add(cacheKey(model, text), v)
}

func (c *EmbeddingCache) Size() int {
	return c.lru.Len()
}

func (c *EmbeddingCache) Purge() {
	c.lru.Purge()
}

// Stats returns hit and miss counts since creation.
func (c *EmbeddingCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// CachedEmbedder serves repeated text queries from the cache. Image
// embeddings are always computed.
type CachedEmbedder struct {
	port.Embedder
	cache *EmbeddingCache
}

func NewCachedEmbedder(embedder port.Embedder, cache *EmbeddingCache) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: embedder,
		cache:    cache,
	}
}

func (e *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, hit := e.cache.Get(e.ModelName(), text); hit {
		return v, nil
	}

	v, err := e.Embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Put(e.ModelName(), text, v)
	return v, nil
}
