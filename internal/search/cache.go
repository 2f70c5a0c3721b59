package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"deepresearch/backend/internal/research"
)

// Cached memoizes successful searches by (engine, query, count).
type Cached struct {
	inner Engine
	hits  *cache.Cache
}

// NewCached returns inner unchanged when ttl is not positive.
func NewCached(inner Engine, ttl time.Duration) Engine {
	if inner == nil || ttl <= 0 {
		return inner
	}
	return &Cached{inner: inner, hits: cache.New(ttl, 2*ttl)}
}

func (c *Cached) Name() string {
	return c.inner.Name()
}

func (c *Cached) Search(ctx context.Context, query string, count int) ([]research.SearchHit, error) {
	key := fmt.Sprintf("%s|%d|%s", c.inner.Name(), count, strings.ToLower(strings.Join(strings.Fields(query), " ")))
	if cached, ok := c.hits.Get(key); ok {
		return append([]research.SearchHit{}, cached.([]research.SearchHit)...), nil
	}

	hits, err := c.inner.Search(ctx, query, count)
	if err != nil {
		return nil, err
	}
	c.hits.SetDefault(key, append([]research.SearchHit{}, hits...))
	return hits, nil
}
