package cache

import (
	"context"
	"time"
)

// Cache is the Redis surface shared by the queue source, the solution
// snapshot store and the file lock.
type Cache interface {
	KeyOps
	QueueOps
	LockOps

	Close() error
}

// KeyOps covers plain string keys and counters.
type KeyOps interface {
	// Get returns "" and a nil error for a missing key.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value; a zero ttl keeps the key forever.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// QueueOps covers the list commands backing job channels. Producers push on
// the left, consumers pop from the right.
type QueueOps interface {
	// RPush puts values at the consuming end so they are popped next.
	RPush(ctx context.Context, key string, values ...interface{}) error

	// BLMove blocks until source has an element or timeout elapses, then
	// atomically moves its consuming end to the head of destination. ok is
	// false on timeout.
	BLMove(ctx context.Context, source, destination string, timeout time.Duration) (value string, ok bool, err error)

	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// LockOps covers token-owned locks.
type LockOps interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock is a no-op when the lock is held by another token.
	Unlock(ctx context.Context, key, token string) error
}
