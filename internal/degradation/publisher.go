package degradation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Publisher forwards degradation events to downstream consumers. Publish must
// not block the caller on delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) {}

// PubSubPublisher publishes events as JSON messages to a Pub/Sub topic.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	timeout   time.Duration
	logger    zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	Topic     string
	// Timeout bounds how long delivery confirmation is awaited. Default 10s.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewPubSubPublisher creates a publisher bound to cfg.Topic.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PubSubPublisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		timeout:   timeout,
		logger:    cfg.Logger,
	}, nil
}

// Publish implements Publisher. Delivery is confirmed in the background and
// failures are only logged.
func (p *PubSubPublisher) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to encode degradation event")
		return
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"feature":   string(event.FeatureID),
			"new_state": event.NewState,
		},
	})

	go func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if _, err := result.Get(waitCtx); err != nil {
			p.logger.Error().
				Err(err).
				Str("topic", p.topic).
				Str("event_id", event.ID).
				Msg("failed to publish degradation event")
		}
	}()
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
