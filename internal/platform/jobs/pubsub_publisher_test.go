package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/services"
)

func TestPubSubLifecyclePublisherPublishesMessage(t *testing.T) {
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
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "request-lifecycle")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubLifecyclePublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubLifecyclePublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.LifecycleEvent{
		EventID:    "01JABCDEF0123456789ABCDEFG",
		Type:       "quote_sent",
		RequestID:  42,
		Status:     domain.StatusQuoted,
		ActorRole:  domain.RoleAdmin,
		ActorID:    1,
		OccurredAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishLifecycleEvent(ctx, event); err != nil {
		t.Fatalf("PublishLifecycleEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.LifecycleEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.RequestID != 42 || payload.Status != domain.StatusQuoted {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["requestId"]; attr != "42" {
		t.Fatalf("expected requestId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != "quote_sent" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if messages[0].OrderingKey != "request-42" {
		t.Fatalf("expected ordering key, got %q", messages[0].OrderingKey)
	}
}

func TestNewPubSubLifecyclePublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubLifecyclePublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
