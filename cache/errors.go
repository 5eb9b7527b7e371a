package cache

import "errors"

var (
	// ErrRedisNotAvailable is returned when no Redis connection is configured
	// or the connection failed at startup.
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired is returned when the distributed lock could not be
	// taken within its retry budget.
	ErrLockNotAcquired = errors.New("distributed lock not acquired")

	// ErrKeyNotFound is returned for cache misses.
	ErrKeyNotFound = errors.New("key not found")
)
