package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/health-notifier/internal/model"
)

const (
	ExchangeName    = "notifications-exchange"
	EventsQueueName = "notifications-events"
	DLQName         = "notifications-events-dlq"

	RoutingKeySent   = "notification.sent"
	RoutingKeyFailed = "notification.failed"
	bindingKey       = "notification.*"
)

// DispatchEvent describes the terminal outcome of one notification.
type DispatchEvent struct {
	ID             uuid.UUID            `json:"id"`
	Status         model.Status         `json:"status"`
	DeliveryMethod model.DeliveryMethod `json:"delivery_method,omitempty"`
	PhoneNumber    string               `json:"phone_number,omitempty"`
	Error          string               `json:"error,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// RoutingKey returns the key the event is published with.
func (e DispatchEvent) RoutingKey() string {
	if e.Status == model.StatusSent {
		return RoutingKeySent
	}
	return RoutingKeyFailed
}

// EventQueue publishes dispatch outcomes to a topic exchange.
type EventQueue struct {
	Publisher *rabbitmq.Publisher
}

// NewEventQueue declares the exchange and a durable events queue bound to
// every notification.* key, with a dead-letter queue for rejected events.
func NewEventQueue(ch *rabbitmq.Channel) (*EventQueue, error) {
	exchange := rabbitmq.NewExchange(ExchangeName, "topic")
	if err := exchange.BindToChannel(ch); err != nil {
		return nil, fmt.Errorf("failed to bind to exchange: %w", err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	_, err := qm.DeclareQueue(DLQName, rabbitmq.QueueConfig{Durable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	eventsQ, err := qm.DeclareQueue(EventsQueueName, rabbitmq.QueueConfig{
		Durable: true,
		Args: map[string]interface{}{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DLQName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare events queue: %w", err)
	}

	if err := ch.QueueBind(eventsQ.Name, bindingKey, exchange.Name(), false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind the exchange to the events queue: %w", err)
	}

	return &EventQueue{Publisher: rabbitmq.NewPublisher(ch, exchange.Name())}, nil
}

// Publish sends evt as JSON. A nil queue discards events.
func (q *EventQueue) Publish(evt DispatchEvent, strategy retry.Strategy) error {
	if q == nil || q.Publisher == nil {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return q.Publisher.PublishWithRetry(body, evt.RoutingKey(), "application/json", strategy)
}
