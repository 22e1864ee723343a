package ports

import (
	"context"
	"time"
)

// RateLimiter counts requests per identifier over a sliding window.
type RateLimiter interface {
	// IsRateLimited reports whether identifier has exhausted its window. A call
	// that is not limited is recorded; a limited call is not.
	IsRateLimited(ctx context.Context, identifier string) (bool, error)

	// Window is the length of the sliding window.
	Window() time.Duration
}
