package cache

import (
	"context"
	"time"
)

// BasicOps defines key-value operations
type BasicOps interface {
	// Get returns the value for key, or "" when it does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with an optional TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a distributed lock
	// Returns true if lock was acquired, false otherwise
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases a lock held by this client. Locks held by other
	// clients are left alone.
	Unlock(ctx context.Context, key string) error

	// ExtendLock extends the TTL of a lock held by this client
	ExtendLock(ctx context.Context, key string, ttl time.Duration) error
}
