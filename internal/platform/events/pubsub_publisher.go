// Package events publishes order lifecycle events to Pub/Sub for fulfilment and email workers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/southernsense/storefront/internal/domain"
)

// EventTypeOrderPaid is the type attribute carried by order.paid messages.
const EventTypeOrderPaid = "order.paid"

// PubSubOrderPublisher publishes order events on one topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a publisher for topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderPaid sends an order.paid event and waits for the server id.
func (p *PubSubOrderPublisher) PublishOrderPaid(ctx context.Context, event domain.OrderPaidEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":    EventTypeOrderPaid,
			"orderId": event.OrderID,
		},
		OrderingKey: event.OrderID,
	})
	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(event.OrderID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubOrderPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
