package providers

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"chapterflow/internal/util"
)

// CachedEmbedder memoizes vectors per (dimension, text). Only the inputs that
// miss are forwarded, in one call, to the wrapped provider.
type CachedEmbedder struct {
	next  EmbeddingProvider
	cache *gocache.Cache
}

func NewCachedEmbedder(next EmbeddingProvider, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedEmbedder{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (c *CachedEmbedder) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	out := make([][]float32, len(req.Inputs))
	var missIdx []int
	var missText []string
	for i, text := range req.Inputs {
		if v, ok := c.cache.Get(cacheKey(req.Dimension, text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, text)
	}
	if len(missIdx) == 0 {
		return out, ProviderInfo{Name: "cache"}, nil
	}
	vecs, info, err := c.next.Embed(ctx, EmbedRequest{Operation: req.Operation, Inputs: missText, Dimension: req.Dimension})
	if err != nil {
		return nil, info, err
	}
	if len(vecs) != len(missText) {
		return nil, info, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(missText))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.SetDefault(cacheKey(req.Dimension, missText[j]), vecs[j])
	}
	return out, info, nil
}

func (c *CachedEmbedder) Len() int {
	return c.cache.ItemCount()
}

func cacheKey(dim int, text string) string {
	return fmt.Sprintf("%d:%s", dim, util.SHA256Hex([]byte(text)))
}
