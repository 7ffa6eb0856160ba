package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/health"
)

// HealthReport is the wire form of one health observation.
type HealthReport struct {
	ServiceID  health.ServiceID `json:"service_id"`
	Healthy    bool             `json:"healthy"`
	LatencyMs  int64            `json:"latency_ms"`
	ObservedAt time.Time        `json:"observed_at"`
}

// ErrInvalidReport is returned for reports that cannot be applied.
var ErrInvalidReport = errors.New("invalid health report")

// DecodeHealthReport parses and validates a report message body.
func DecodeHealthReport(data []byte) (HealthReport, error) {
	var r HealthReport
	if err := json.Unmarshal(data, &r); err != nil {
		return HealthReport{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if r.ServiceID == "" {
		return HealthReport{}, fmt.Errorf("%w: service_id is required", ErrInvalidReport)
	}
	if r.LatencyMs < 0 {
		return HealthReport{}, fmt.Errorf("%w: latency_ms must not be negative", ErrInvalidReport)
	}
	return r, nil
}

// PubSubHandler applies health reports received on a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	recorder         Recorder
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler and reporter.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	TopicName        string
	Recorder         Recorder
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 100
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		recorder:         cfg.Recorder,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting health report subscriber")

	return h.subscriber.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		if err := h.Apply(msg.Data); err != nil {
			h.logger.Error().
				Err(err).
				Str("message_id", msg.ID).
				Msg("discarding health report")
		}
		// Reports are soft state; a bad one is never worth redelivering.
		msg.Ack()
	})
}

// Apply decodes a report and records it.
func (h *PubSubHandler) Apply(data []byte) error {
	report, err := DecodeHealthReport(data)
	if err != nil {
		return err
	}

	snapshot := h.recorder.RecordHealthCheck(report.ServiceID, report.Healthy, report.LatencyMs)
	h.logger.Debug().
		Str("service", string(report.ServiceID)).
		Bool("healthy", report.Healthy).
		Float64("error_rate", snapshot.ErrorRate).
		Msg("health report applied")
	return nil
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// PubSubReporter is a Recorder that publishes each observation to a topic.
// It keeps a local monitor so callers still get a smoothed snapshot back.
type PubSubReporter struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	local     *health.Monitor
	logger    zerolog.Logger
}

// NewPubSubReporter creates a reporter publishing to cfg.TopicName.
func NewPubSubReporter(ctx context.Context, cfg PubSubConfig) (*PubSubReporter, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubReporter{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		topic:     cfg.TopicName,
		local:     health.NewMonitor(health.MonitorConfig{}),
		logger:    cfg.Logger,
	}, nil
}

// RecordHealthCheck implements Recorder.
func (r *PubSubReporter) RecordHealthCheck(service health.ServiceID, healthy bool, latencyMs int64) health.ServiceHealth {
	snapshot := r.local.Record(service, healthy, latencyMs)

	data, err := json.Marshal(HealthReport{
		ServiceID:  service,
		Healthy:    healthy,
		LatencyMs:  latencyMs,
		ObservedAt: snapshot.LastCheck,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode health report")
		return snapshot
	}

	result := r.publisher.Publish(context.Background(), &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"service": string(service)},
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := result.Get(ctx); err != nil {
			r.logger.Error().
				Err(err).
				Str("topic", r.topic).
				Str("service", string(service)).
				Msg("failed to publish health report")
		}
	}()

	return snapshot
}

// Close flushes pending reports and closes the client.
func (r *PubSubReporter) Close() error {
	r.publisher.Stop()
	return r.client.Close()
}
