package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/watchfix/api/internal/services"
)

// PubSubLifecyclePublisher publishes service request lifecycle events to a Pub/Sub topic.
type PubSubLifecyclePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubLifecyclePublisher constructs a Pub/Sub backed lifecycle event publisher.
func NewPubSubLifecyclePublisher(topic *pubsub.Topic) (*PubSubLifecyclePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub lifecycle publisher: topic is required")
	}
	// Events for one request keep their order.
	topic.EnableMessageOrdering = true
	return &PubSubLifecyclePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishLifecycleEvent sends the event and waits for the server-assigned message id.
func (p *PubSubLifecyclePublisher) PublishLifecycleEvent(ctx context.Context, event services.LifecycleEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub lifecycle publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal lifecycle event: %w", err)
	}

	requestID := strconv.FormatInt(event.RequestID, 10)
	attrs := map[string]string{"requestId": requestID}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "status", string(event.Status))
	setAttr(attrs, "actorRole", string(event.ActorRole))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: "request-" + requestID,
	})

	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish("request-" + requestID)
		return "", fmt.Errorf("publish lifecycle event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubLifecyclePublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
