package search

import (
	"context"
	"sync"
	"time"

	"deepresearch/backend/internal/research"
)

// RateLimited spaces calls to an engine by at least minInterval.
type RateLimited struct {
	inner       Engine
	minInterval time.Duration

	mu            sync.Mutex
	nextAllowedAt time.Time
}

// NewRateLimited returns inner unchanged when minInterval is not positive.
func NewRateLimited(inner Engine, minInterval time.Duration) Engine {
	if inner == nil || minInterval <= 0 {
		return inner
	}
	return &RateLimited{
		inner:       inner,
		minInterval: minInterval,
	}
}

func (s *RateLimited) Name() string {
	return s.inner.Name()
}

func (s *RateLimited) Search(ctx context.Context, query string, count int) ([]research.SearchHit, error) {
	if err := s.waitTurn(ctx); err != nil {
		return nil, err
	}
	return s.inner.Search(ctx, query, count)
}

func (s *RateLimited) waitTurn(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		s.mu.Lock()
		now := time.Now()
		if s.nextAllowedAt.IsZero() || !s.nextAllowedAt.After(now) {
			s.nextAllowedAt = now.Add(s.minInterval)
			s.mu.Unlock()
			return nil
		}
		wait := time.Until(s.nextAllowedAt)
		s.mu.Unlock()

		if err := waitWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
