package repository

import (
	"context"
	"fmt"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/domain/repository"
	pkgkafka "FinVerdict/pkg/kafka"
)

// KafkaVerdictPublisher publishes verdicts keyed by symbol so one symbol's
// verdicts stay ordered within a partition.
type KafkaVerdictPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaVerdictPublisher creates the publisher.
func NewKafkaVerdictPublisher(producer *pkgkafka.Producer, topic string) *KafkaVerdictPublisher {
	return &KafkaVerdictPublisher{producer: producer, topic: topic}
}

func (p *KafkaVerdictPublisher) Publish(ctx context.Context, v *models.Verdict) error {
	if v == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(v.Symbol), v); err != nil {
		return fmt.Errorf("publish verdict %s: %w", v.VerdictID, err)
	}
	return nil
}

func (p *KafkaVerdictPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ repository.VerdictPublisher = (*KafkaVerdictPublisher)(nil)

// NopPublisher drops verdicts. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *models.Verdict) error { return nil }
func (NopPublisher) Close() error                                  { return nil }

var _ repository.VerdictPublisher = NopPublisher{}
