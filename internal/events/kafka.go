package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"locations-inside-prison/internal/platform/kafka"
	"locations-inside-prison/internal/platform/metrics"
)

// KafkaPublisher publishes events to the location event topic. The record key
// is the location key so all events for one location land on one partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures the KafkaPublisher.
type Option func(*KafkaPublisher)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *KafkaPublisher) {
		p.metrics = m
	}
}

// NewKafkaPublisher creates a publisher for the given topic.
func NewKafkaPublisher(producer *kafka.Producer, topic string, logger *slog.Logger, opts ...Option) *KafkaPublisher {
	p := &KafkaPublisher{producer: producer, topic: topic, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends each event to the topic. Failures are logged and swallowed.
func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) {
	for _, evt := range evts {
		payload, err := json.Marshal(evt)
		if err != nil {
			p.fail(ctx, evt, err)
			continue
		}
		if err := p.producer.Produce(ctx, p.topic, []byte(evt.Key), payload); err != nil {
			p.fail(ctx, evt, err)
		}
	}
}

func (p *KafkaPublisher) fail(ctx context.Context, evt Event, err error) {
	if p.metrics != nil {
		p.metrics.EventPublishFailures.Inc()
	}
	p.logger.ErrorContext(ctx, "failed to publish location event",
		"event_type", evt.Type,
		"key", evt.Key,
		"error", err,
	)
}

// Recorder collects events in memory. Used in tests and as a safe default
// when no broker is configured.
type Recorder struct {
	Events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, evts ...Event) {
	r.Events = append(r.Events, evts...)
}

// ByType returns the recorded events of one type, in publish order.
func (r *Recorder) ByType(t Type) []Event {
	var out []Event
	for _, evt := range r.Events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() { r.Events = nil }
