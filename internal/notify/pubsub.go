package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSub publishes alert messages to a Cloud Pub/Sub topic, for deployments
// that fan alerts out to more than one consumer.
type PubSub struct {
	topic *pubsub.Topic
}

// NewPubSub creates a PubSub notifier for the given topic.
func NewPubSub(client *pubsub.Client, topicID string) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &PubSub{topic: client.Topic(topicID)}, nil
}

// Send publishes the message and waits for the server-assigned id.
func (p *PubSub) Send(ctx context.Context, message string) error {
	data, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Stop flushes the topic's publish queue.
func (p *PubSub) Stop() {
	p.topic.Stop()
}
