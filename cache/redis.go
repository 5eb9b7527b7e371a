package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"portal-voting-backend/config"
	"portal-voting-backend/models"

	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	initOnce    sync.Once
	initialized bool

	// Stats entries are short lived; writes to a poll's votes delete them
	// rather than waiting for expiry.
	statsExpiration = 1 * time.Hour
)

// InitRedis connects the global Redis client. Redis is optional: when the
// connection fails the service runs without stats caching and without the
// submission lock, and every accessor returns ErrRedisNotAvailable.
func InitRedis() error {
	var initErr error

	initOnce.Do(func() {
		redisAddr := config.GetEnv("REDIS_ADDR", "localhost:6379")
		redisPassword := config.GetEnv("REDIS_PASSWORD", "")
		redisDB := 0
		if dbStr := config.GetEnv("REDIS_DB", ""); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				redisDB = db
			}
		}

		log.Printf("Connecting to Redis at %s", redisAddr)

		client := redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    redisPassword,
			DB:          redisDB,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := client.Ping(ctx).Result(); err != nil {
			log.Printf("Redis unavailable, continuing without cache: %v", err)
			initErr = fmt.Errorf("redis connection failed: %w", err)
			return
		}

		redisClient = client
		initialized = true
		log.Println("Redis connection established")
	})

	return initErr
}

// GetClient returns the shared Redis client or ErrRedisNotAvailable.
func GetClient() (*redis.Client, error) {
	if !initialized || redisClient == nil {
		return nil, ErrRedisNotAvailable
	}
	return redisClient, nil
}

// SetClientForTest swaps the global client, returning a restore func.
func SetClientForTest(client *redis.Client) func() {
	prevClient, prevInit := redisClient, initialized
	redisClient = client
	initialized = client != nil
	return func() {
		redisClient, initialized = prevClient, prevInit
	}
}

func statsKey(pollID uint) string {
	return fmt.Sprintf("poll:%d:stats", pollID)
}

// GetPollStats returns cached stats for a poll, or ErrKeyNotFound on a miss.
func GetPollStats(ctx context.Context, pollID uint) (*models.PollStats, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, statsKey(pollID)).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	var stats models.PollStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SetPollStats caches stats for a poll.
func SetPollStats(ctx context.Context, pollID uint, stats *models.PollStats) error {
	client, err := GetClient()
	if err != nil {
		return err
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return client.Set(ctx, statsKey(pollID), data, statsExpiration).Err()
}

// InvalidatePoll deletes every cached entry for a poll. Called after any
// write touching the poll's votes so the next read recomputes.
func InvalidatePoll(ctx context.Context, pollID uint) {
	client, err := GetClient()
	if err != nil {
		return
	}

	keys := []string{
		statsKey(pollID),
		fmt.Sprintf("poll:%d:data", pollID),
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("Failed to delete cache keys for poll %d: %v", pollID, err)
	}
}
