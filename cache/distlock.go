package cache

import (
	"log"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

var (
	rs       *redsync.Redsync
	lockOnce sync.Once
)

// DistributedLockService wraps redsync mutexes. Vote submission takes one of
// these per (poll, voter) pair so two sessions for the same member cannot
// race the duplicate-vote pre-check.
type DistributedLockService struct {
	rs *redsync.Redsync
}

// InitDistLock builds the shared redsync instance on top of the Redis client.
func InitDistLock() {
	lockOnce.Do(func() {
		client, err := GetClient()
		if err != nil {
			log.Printf("Distributed lock disabled: %v", err)
			return
		}
		pool := goredis.NewPool(client)
		rs = redsync.New(pool)
		log.Println("Distributed lock service initialized")
	})
}

// GetLockService returns the lock service, or nil when Redis is unavailable.
// Callers treat a nil service as "no lock", falling back to the database
// unique constraint alone.
func GetLockService() *DistributedLockService {
	InitDistLock()
	if rs == nil {
		return nil
	}
	return &DistributedLockService{rs: rs}
}

// WithLock runs action while holding the named lock, releasing it on every
// return path.
func (s *DistributedLockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.Lock(); err != nil {
		return ErrLockNotAcquired
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			log.Printf("Failed to release lock %s: %v", lockName, err)
		}
	}()

	return action()
}
