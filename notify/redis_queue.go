package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue names for the Redis-list notification queue.
const (
	MainQueueName       = "notify_queue"
	ProcessingQueueName = "notify_processing"
	DeadLetterQueueName = "notify_dead_letter"
	RetriesHashName     = "notify_retries"
	messageIDSetName    = "notify_message_ids"
)

// RedisQueue is a message queue built on Redis lists: producers LPush the
// main queue, the consumer moves messages to a processing list with
// BRPopLPush, and messages that keep failing land in a dead-letter list after
// maxRetries attempts.
type RedisQueue struct {
	client     *redis.Client
	ctx        context.Context
	handler    func(Event) error
	isRunning  bool
	stopChan   chan struct{}
	wg         sync.WaitGroup
	retryDelay time.Duration
	maxRetries int
}

// NewRedisQueue returns a queue over an established Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:     client,
		ctx:        context.Background(),
		stopChan:   make(chan struct{}),
		retryDelay: 30 * time.Second,
		maxRetries: 3,
	}
}

// RegisterHandler sets the delivery function the consumer invokes per event.
func (q *RedisQueue) RegisterHandler(handler func(Event) error) {
	q.handler = handler
}

// Publish enqueues one event. Events already seen (by message id) are
// silently dropped.
func (q *RedisQueue) Publish(event Event) error {
	data, err := event.marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	exists, err := q.client.SIsMember(q.ctx, messageIDSetName, event.MessageID).Result()
	if err != nil {
		log.Printf("Idempotency check failed: %v", err)
	} else if exists {
		log.Printf("Event %s already queued, skipping", event.MessageID)
		return nil
	}

	if err := q.client.SAdd(q.ctx, messageIDSetName, event.MessageID).Err(); err != nil {
		log.Printf("Failed to record event id: %v", err)
	}
	q.client.Expire(q.ctx, messageIDSetName, 48*time.Hour)

	if err := q.client.LPush(q.ctx, MainQueueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// Start launches the consumer loop.
func (q *RedisQueue) Start() error {
	if q.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if q.isRunning {
		return nil
	}
	q.isRunning = true

	q.wg.Add(1)
	go q.consumeLoop()
	log.Println("Notification queue consumer started")
	return nil
}

// Stop shuts the consumer down and waits for in-flight messages.
func (q *RedisQueue) Stop() {
	if !q.isRunning {
		return
	}
	close(q.stopChan)
	q.wg.Wait()
	q.isRunning = false
	log.Println("Notification queue consumer stopped")
}

func (q *RedisQueue) consumeLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopChan:
			return
		default:
			data, err := q.client.BRPopLPush(q.ctx, MainQueueName, ProcessingQueueName, time.Second).Result()
			if err != nil {
				if err != redis.Nil {
					log.Printf("Failed to pop notification: %v", err)
				}
				continue
			}
			q.processMessage(data)
		}
	}
}

func (q *RedisQueue) processMessage(data string) {
	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		log.Printf("Unparseable notification, dead-lettering: %v", err)
		q.moveToDeadLetter(data)
		return
	}

	if err := q.handler(event); err != nil {
		log.Printf("Notification delivery failed for %s: %v", event.MessageID, err)

		retries, _ := q.client.HGet(q.ctx, RetriesHashName, event.MessageID).Int()
		if retries >= q.maxRetries {
			log.Printf("Event %s exceeded max retries, dead-lettering", event.MessageID)
			q.moveToDeadLetter(data)
			return
		}

		q.client.HIncrBy(q.ctx, RetriesHashName, event.MessageID, 1)
		q.client.LRem(q.ctx, ProcessingQueueName, 1, data)
		time.AfterFunc(q.retryDelay, func() {
			q.client.LPush(q.ctx, MainQueueName, data)
		})
		return
	}

	q.client.LRem(q.ctx, ProcessingQueueName, 1, data)
}

func (q *RedisQueue) moveToDeadLetter(data string) {
	q.client.LPush(q.ctx, DeadLetterQueueName, data)
	q.client.LRem(q.ctx, ProcessingQueueName, 1, data)
}

// RetryDeadLetters moves every dead-lettered event back to the main queue
// with a reset retry count.
func (q *RedisQueue) RetryDeadLetters() (int, error) {
	messages, err := q.client.LRange(q.ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dead letters: %w", err)
	}

	count := 0
	for _, data := range messages {
		if err := q.client.LPush(q.ctx, MainQueueName, data).Err(); err != nil {
			log.Printf("Failed to requeue dead letter: %v", err)
			continue
		}
		q.client.LRem(q.ctx, DeadLetterQueueName, 1, data)

		var event Event
		if json.Unmarshal([]byte(data), &event) == nil {
			q.client.HDel(q.ctx, RetriesHashName, event.MessageID)
		}
		count++
	}
	return count, nil
}

// QueueStats returns the length of each queue list.
func (q *RedisQueue) QueueStats() map[string]int64 {
	stats := make(map[string]int64)
	stats["main_queue"], _ = q.client.LLen(q.ctx, MainQueueName).Result()
	stats["processing_queue"], _ = q.client.LLen(q.ctx, ProcessingQueueName).Result()
	stats["dead_letter_queue"], _ = q.client.LLen(q.ctx, DeadLetterQueueName).Result()
	return stats
}
