// Package embedder turns chunk and query text into vectors, batching
// service calls, caching by content hash, and isolating bad items so one
// unembeddable text never fails an indexing run.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/codeask/codeask/internal/ai"
)

const (
	// DefaultBatchSize is the texts per embedding API call.
	DefaultBatchSize = 64

	// DefaultCacheSize bounds the LRU embedding cache.
	DefaultCacheSize = 10000

	// maxItemAttempts bounds retries for a single text after halving
	// has isolated it.
	maxItemAttempts = 2
)

// Stats are cumulative counters for cost accounting.
type Stats struct {
	ServiceCalls    int64
	CacheHits       int64
	CacheMisses     int64
	EstimatedTokens int64
	FailedItems     int64
}

// Embedder wraps an ai.Client with caching, batching and failure isolation.
// Safe for concurrent use; the cache is the only shared state and is
// internally synchronized.
type Embedder struct {
	client    ai.Client
	cache     *lru.Cache[string, []float32]
	batchSize int

	serviceCalls    atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	estimatedTokens atomic.Int64
	failedItems     atomic.Int64
}

// New creates an Embedder over client. batchSize and cacheSize fall back to
// defaults when non-positive.
func New(client ai.Client, batchSize, cacheSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		cache, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Embedder{
		client:    client,
		cache:     cache,
		batchSize: batchSize,
	}
}

// cacheKey deduplicates identical text across files and repositories, and
// keeps vectors from different models apart.
func (e *Embedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:]) + ":" + e.client.EmbedModel()
}

// EmbedTexts embeds texts in batches. The result is positionally aligned
// with the input; a nil vector marks a text the provider could not embed,
// which the caller excludes from the store.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Cache pass first: a hit costs nothing.
	var missIdx []int
	for i, t := range texts {
		if vec, ok := e.cache.Get(e.cacheKey(t)); ok {
			e.cacheHits.Add(1)
			out[i] = vec
			continue
		}
		e.cacheMisses.Add(1)
		missIdx = append(missIdx, i)
	}

	for start := 0; start < len(missIdx); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		if err := e.embedBatch(ctx, texts, batch, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// embedBatch embeds texts[idx] for each idx into out. On failure the batch
// is halved recursively, so one bad item costs log2(n) extra calls instead
// of the whole job.
func (e *Embedder) embedBatch(ctx context.Context, texts []string, idx []int, out [][]float32) error {
	if len(idx) == 0 {
		return nil
	}

	batch := make([]string, len(idx))
	for i, j := range idx {
		batch[i] = texts[j]
		e.estimatedTokens.Add(int64(len(texts[j]) / 4))
	}

	vecs, err := e.callService(ctx, batch)
	if err == nil {
		for i, j := range idx {
			out[j] = vecs[i]
			e.cache.Add(e.cacheKey(texts[j]), vecs[i])
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if len(idx) == 1 {
		// Halving has isolated the bad item; exclude it and move on.
		e.failedItems.Add(1)
		log.Warn().Err(err).Msg("marking item unembeddable after retries")
		return nil
	}

	mid := len(idx) / 2
	if err := e.embedBatch(ctx, texts, idx[:mid], out); err != nil {
		return err
	}
	return e.embedBatch(ctx, texts, idx[mid:], out)
}

func (e *Embedder) callService(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxItemAttempts; attempt++ {
		e.serviceCalls.Add(1)
		vecs, err := e.client.EmbedBatch(ctx, batch)
		if err == nil {
			if len(vecs) != len(batch) {
				return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch))
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// EmbedQuery embeds a single query text, going through the same cache.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := e.cacheKey(text)
	if vec, ok := e.cache.Get(key); ok {
		e.cacheHits.Add(1)
		return vec, nil
	}
	e.cacheMisses.Add(1)

	e.serviceCalls.Add(1)
	e.estimatedTokens.Add(int64(len(text) / 4))
	vec, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	e.cache.Add(key, vec)
	return vec, nil
}

// Dim returns the provider's embedding dimensionality.
func (e *Embedder) Dim() int {
	return e.client.Dim()
}

// Stats returns a snapshot of the cumulative counters.
func (e *Embedder) Stats() Stats {
	return Stats{
		ServiceCalls:    e.serviceCalls.Load(),
		CacheHits:       e.cacheHits.Load(),
		CacheMisses:     e.cacheMisses.Load(),
		EstimatedTokens: e.estimatedTokens.Load(),
		FailedItems:     e.failedItems.Load(),
	}
}
