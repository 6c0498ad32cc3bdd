package events

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/southernsense/storefront/internal/domain"
)

func TestPubSubOrderPublisherPublishesOrderPaid(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}
	defer publisher.Stop()

	event := domain.OrderPaidEvent{
		OrderID:       "01HZX3J5Q8",
		Email:         "shopper@example.com",
		Total:         "33.00",
		Currency:      "USD",
		Provider:      "paypal",
		TransactionID: "CAPTURE-1",
		ItemCount:     2,
		PaidAt:        "2024-05-04T09:30:00Z",
	}
	if _, err := publisher.PublishOrderPaid(ctx, event); err != nil {
		t.Fatalf("PublishOrderPaid: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload domain.OrderPaidEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload != event {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if messages[0].Attributes["type"] != EventTypeOrderPaid || messages[0].Attributes["orderId"] != event.OrderID {
		t.Fatalf("unexpected attributes %v", messages[0].Attributes)
	}
	if messages[0].OrderingKey != event.OrderID {
		t.Fatalf("expected ordering key %q, got %q", event.OrderID, messages[0].OrderingKey)
	}
}

func TestNewPubSubOrderPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
