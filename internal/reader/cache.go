package reader

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"deepresearch/backend/internal/research"
)

const defaultCacheTTL = 30 * time.Minute

// Cached memoizes successful fetches by normalized URL. Failures are never
// cached so a later iteration can retry the page.
type Cached struct {
	next   research.PageFetcher
	pages  *cache.Cache
	logger *zap.Logger
}

func NewCached(next research.PageFetcher, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		next:   next,
		pages:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

func (c *Cached) Fetch(ctx context.Context, rawURL string) (research.Page, error) {
	key := research.NormalizeURL(rawURL)
	if key != "" {
		if cached, ok := c.pages.Get(key); ok {
			c.logger.Debug("page cache hit", zap.String("url", rawURL))
			return cached.(research.Page), nil
		}
	}

	page, err := c.next.Fetch(ctx, rawURL)
	if err != nil {
		return page, err
	}
	if key != "" {
		c.pages.SetDefault(key, page)
	}
	return page, nil
}

func (c *Cached) Len() int {
	return c.pages.ItemCount()
}
