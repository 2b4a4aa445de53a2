package embedding

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"conductor-ai/internal/domain"
)

// lruEntry pairs a chunk text with its embedding vector in the LRU list.
type lruEntry struct {
	text string
	vec  []float32
}

// CachedEmbedder wraps a domain.EmbeddingProvider with a per-text LRU cache.
// The code index re-submits a file's chunks on every rescan and most chunks
// don't change between scans; caching per chunk text means a rescan only
// pays the provider for chunks whose content actually moved. Keys are the
// full chunk text, so distinct chunks can never collide.
type CachedEmbedder struct {
	inner   domain.EmbeddingProvider
	maxSize int

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List // LRU order: most-recently-used at back
}

// NewCachedEmbedder wraps inner with an LRU embedding cache of maxSize entries.
// If maxSize <= 0, the inner provider is returned directly (no caching).
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider. Cached texts are served
// locally; only the misses go to the inner provider, in a single batched
// call, and the results are reassembled in input order.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	c.mu.Lock()
	for i, text := range texts {
		if elem, ok := c.cache[text]; ok {
			c.order.MoveToBack(elem)
			out[i] = elem.Value.(*lruEntry).vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			domain.ErrEmbeddingFailed, len(vecs), len(missTexts))
	}

	c.mu.Lock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.put(missTexts[j], vecs[j])
	}
	c.mu.Unlock()

	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// put inserts a text/vector pair, evicting the LRU entry at capacity.
// Caller must hold c.mu.
func (c *CachedEmbedder) put(text string, vec []float32) {
	if elem, exists := c.cache[text]; exists {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).text)
	}

	c.cache[text] = c.order.PushBack(&lruEntry{text: text, vec: vec})
}

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)
