package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/digitalroastery/weblounge-sub005/pkg/config"
	"github.com/digitalroastery/weblounge-sub005/pkg/kafka"
	"github.com/digitalroastery/weblounge-sub005/pkg/logger"
	"github.com/digitalroastery/weblounge-sub005/pkg/metrics"
	"github.com/digitalroastery/weblounge-sub005/pkg/resilience"
)

type producer interface {
	Publish(ctx context.Context, events ...kafka.Event) error
	Close() error
}

// KafkaPublisher writes index events to the configured index events topic,
// keyed by resource identifier.
type KafkaPublisher struct {
	producer producer
	retry    resilience.RetryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, m *metrics.Metrics) *KafkaPublisher {
	return newKafkaPublisher(kafka.NewProducer(cfg, cfg.Topics.IndexEvents), m)
}

func newKafkaPublisher(p producer, m *metrics.Metrics) *KafkaPublisher {
	return &KafkaPublisher{
		producer: p,
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			},
		},
		metrics: m,
		logger:  logger.WithComponent("index-events"),
	}
}

// Publish sends event, retrying transient broker failures.
func (p *KafkaPublisher) Publish(ctx context.Context, event IndexEvent) error {
	msg := kafka.Event{
		Key:   event.ID,
		Type:  string(event.Type),
		Value: event,
	}
	err := resilience.Retry(ctx, "index-events.publish", p.retry, func(ctx context.Context) error {
		return p.producer.Publish(ctx, msg)
	})
	p.metrics.ObserveEvent(string(event.Type), err)
	if err != nil {
		p.logger.Error("failed to publish index event",
			"type", event.Type,
			"id", event.ID,
			"error", err,
		)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
