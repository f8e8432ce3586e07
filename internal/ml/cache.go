package ml

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of cached vectors per side.
const DefaultCacheSize = 10000

// cacheKey builds the content-addressed key: hash(model_id, normalized_text).
func cacheKey(modelID, text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	h := sha256.Sum256([]byte(modelID + "\x00" + normalized))
	return hex.EncodeToString(h[:])
}

// CachedEmbedder wraps an Embedder with a bounded LRU cache so repeated
// texts avoid external calls. Hit/miss counters feed per-request cache
// flags and gateway health.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder creates a cached embedder.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed implements Embedder. Each text is checked and cached separately
// for maximum reuse across batches.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(c.inner.ModelID(), text)); ok {
			results[i] = vec
			c.hits.Add(1)
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			c.misses.Add(1)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = fresh[j]
		c.cache.Add(cacheKey(c.inner.ModelID(), missTexts[j]), fresh[j])
	}
	return results, nil
}

// Dimensions implements Embedder.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelID implements Embedder.
func (c *CachedEmbedder) ModelID() string { return c.inner.ModelID() }

// Stats returns cumulative (hits, misses).
func (c *CachedEmbedder) Stats() (int64, int64) {
	return c.hits.Load(), c.misses.Load()
}

// CachedSparseEncoder wraps a SparseEncoder with the same LRU policy.
type CachedSparseEncoder struct {
	inner  SparseEncoder
	cache  *lru.Cache[string, SparseVector]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedSparseEncoder creates a cached sparse encoder.
func NewCachedSparseEncoder(inner SparseEncoder, size int) *CachedSparseEncoder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, SparseVector](size)
	return &CachedSparseEncoder{inner: inner, cache: cache}
}

// Encode implements SparseEncoder.
func (c *CachedSparseEncoder) Encode(ctx context.Context, texts []string) ([]SparseVector, error) {
	if len(texts) == 0 {
		return []SparseVector{}, nil
	}

	results := make([]SparseVector, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(c.inner.ModelID(), text)); ok {
			results[i] = vec
			c.hits.Add(1)
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			c.misses.Add(1)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = fresh[j]
		c.cache.Add(cacheKey(c.inner.ModelID(), missTexts[j]), fresh[j])
	}
	return results, nil
}

// ModelID implements SparseEncoder.
func (c *CachedSparseEncoder) ModelID() string { return c.inner.ModelID() }

// Stats returns cumulative (hits, misses).
func (c *CachedSparseEncoder) Stats() (int64, int64) {
	return c.hits.Load(), c.misses.Load()
}

var (
	_ Embedder      = (*CachedEmbedder)(nil)
	_ SparseEncoder = (*CachedSparseEncoder)(nil)
)
