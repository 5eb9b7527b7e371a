package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"portal-voting-backend/config"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

// TopicNotifications is the RocketMQ topic carrying member notifications.
const TopicNotifications = "member_notifications"

// RocketQueue publishes and consumes notification events over RocketMQ.
// Selected with MQ_DRIVER=rocketmq.
type RocketQueue struct {
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer
	handler  func(Event) error
}

// NewRocketQueue connects a producer to the configured name server.
func NewRocketQueue() (*RocketQueue, error) {
	nameServer := config.GetEnv("ROCKETMQ_NAMESRV_ADDR", "localhost:9876")
	log.Printf("Connecting to RocketMQ name server at %s", nameServer)

	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{nameServer}),
		producer.WithGroupName("notify_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("failed to start rocketmq producer: %w", err)
	}

	return &RocketQueue{producer: p}, nil
}

// RegisterHandler sets the delivery function used by the push consumer.
func (q *RocketQueue) RegisterHandler(handler func(Event) error) {
	q.handler = handler
}

// Publish sends one event to the notification topic, keyed by its message id
// so the broker can de-duplicate.
func (q *RocketQueue) Publish(event Event) error {
	data, err := event.marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := primitive.NewMessage(TopicNotifications, data)
	msg.WithKeys([]string{event.MessageID})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := q.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	log.Printf("Notification %s sent, msgId=%s", event.MessageID, result.MsgID)
	return nil
}

// Start subscribes a push consumer to the notification topic.
func (q *RocketQueue) Start() error {
	if q.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	nameServer := config.GetEnv("ROCKETMQ_NAMESRV_ADDR", "localhost:9876")
	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{nameServer}),
		consumer.WithGroupName("notify_consumer"),
		consumer.WithConsumerModel(consumer.Clustering),
	)
	if err != nil {
		return fmt.Errorf("failed to create rocketmq consumer: %w", err)
	}

	err = c.Subscribe(TopicNotifications, consumer.MessageSelector{},
		func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
			for _, msg := range msgs {
				var event Event
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					log.Printf("Unparseable notification message %s: %v", msg.MsgId, err)
					continue
				}
				if err := q.handler(event); err != nil {
					log.Printf("Notification delivery failed for %s: %v", event.MessageID, err)
					return consumer.ConsumeRetryLater, nil
				}
			}
			return consumer.ConsumeSuccess, nil
		})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start rocketmq consumer: %w", err)
	}
	q.consumer = c
	return nil
}

// Stop shuts down the producer and consumer.
func (q *RocketQueue) Stop() {
	if q.consumer != nil {
		if err := q.consumer.Shutdown(); err != nil {
			log.Printf("Failed to shut down rocketmq consumer: %v", err)
		}
	}
	if q.producer != nil {
		if err := q.producer.Shutdown(); err != nil {
			log.Printf("Failed to shut down rocketmq producer: %v", err)
		}
	}
}
