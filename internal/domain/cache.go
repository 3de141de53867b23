package domain

import (
	"context"
	"time"
)

// MarketCache publishes market views for display. The engine never reads it.
type MarketCache interface {
	Set(ctx context.Context, market MarketView) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the consumer side of the event bus: live pub/sub plus the
// capped stream subscribers resume from.
type SignalBus interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
