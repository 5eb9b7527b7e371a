// Package notify publishes member-notification events when polls are created,
// change status, or have their votes reset. Delivery is fire and forget: a
// down queue never fails the originating request. The actual fan-out to
// members (mail, push) is consumed from the queue by an external worker.
package notify

import (
	"fmt"
	"log"
	"sync"

	"portal-voting-backend/cache"
	"portal-voting-backend/config"
)

// queue is the common surface of the Redis and RocketMQ drivers.
type queue interface {
	Publish(event Event) error
	RegisterHandler(handler func(Event) error)
	Start() error
	Stop()
}

// Adapter owns the selected queue driver.
type Adapter struct {
	mu    sync.Mutex
	queue queue
}

// NewAdapter selects a driver by MQ_DRIVER: "rocketmq" for RocketMQ,
// anything else (including unset) for the Redis-list queue. Returns a
// disabled adapter when neither backend is reachable.
func NewAdapter() *Adapter {
	a := &Adapter{}

	if config.GetEnv("MQ_DRIVER", "redis") == "rocketmq" {
		rq, err := NewRocketQueue()
		if err != nil {
			log.Printf("RocketMQ unavailable, falling back to Redis queue: %v", err)
		} else {
			a.queue = rq
			log.Println("Notification queue: RocketMQ")
			return a
		}
	}

	client, err := cache.GetClient()
	if err != nil {
		log.Printf("Notifications disabled: %v", err)
		return a
	}
	a.queue = NewRedisQueue(client)
	log.Println("Notification queue: Redis")
	return a
}

// Enabled reports whether a queue backend was reachable at startup.
func (a *Adapter) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue != nil
}

// Publish enqueues an event, logging instead of failing when the queue is
// disabled or errors.
func (a *Adapter) Publish(event Event) {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()

	if q == nil {
		return
	}
	if err := q.Publish(event); err != nil {
		log.Printf("Failed to publish %s event for poll %d: %v", event.Type, event.PollID, err)
	}
}

// StartConsumer registers handler and starts consuming.
func (a *Adapter) StartConsumer(handler func(Event) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.queue == nil {
		return fmt.Errorf("notification queue disabled")
	}
	a.queue.RegisterHandler(handler)
	return a.queue.Start()
}

// Stop shuts the queue down.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue != nil {
		a.queue.Stop()
	}
}
