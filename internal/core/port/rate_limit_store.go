package port

import (
	"context"
	"time"
)

// RateWindow describes a sliding window right after a hit was evaluated.
type RateWindow struct {
	Allowed bool
	// Count includes the current attempt when it was allowed.
	Count int
	// Oldest is the earliest attempt still inside the window, zero when empty.
	Oldest time.Time
}

// RateLimitStore keeps sliding-window counters shared by every API replica.
type RateLimitStore interface {
	// Hit records an attempt for key unless limit attempts already fall inside
	// the window ending at now. The check and the insert are atomic.
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (RateWindow, error)
}
