package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"deepresearch/backend/internal/research"
)

var backoffBase = 500 * time.Millisecond

type temporary interface {
	Temporary() bool
}

// Retrying retries failed generations with exponential backoff. Errors that
// report Temporary() == false and context errors are returned at once.
type Retrying struct {
	next       research.StreamingTextGenerator
	maxRetries int
	logger     *zap.Logger
}

func WithRetry(next research.StreamingTextGenerator, maxRetries int, logger *zap.Logger) research.StreamingTextGenerator {
	if maxRetries <= 0 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Retrying{next: next, maxRetries: maxRetries, logger: logger}
}

func (r Retrying) Generate(ctx context.Context, messages []research.Message) (string, error) {
	return r.do(ctx, func() (string, error) {
		return r.next.Generate(ctx, messages)
	}, nil)
}

// GenerateStream only retries while no delta has been delivered; once output
// reached the caller a retry would duplicate it.
func (r Retrying) GenerateStream(ctx context.Context, messages []research.Message, onDelta func(string) error) (string, error) {
	delivered := false
	forward := onDelta
	if onDelta != nil {
		forward = func(delta string) error {
			delivered = true
			return onDelta(delta)
		}
	}
	return r.do(ctx, func() (string, error) {
		return r.next.GenerateStream(ctx, messages, forward)
	}, func() bool { return delivered })
}

func (r Retrying) do(ctx context.Context, call func() (string, error), started func() bool) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffBase << (attempt - 1)
			r.logger.Warn("retrying generation", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(lastErr))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) || (started != nil && started()) {
			return "", err
		}
	}
	return "", lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}
