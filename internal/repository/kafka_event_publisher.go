package repository

import (
	"context"

	"mlass/internal/domain/models"
	domrepo "mlass/internal/domain/repository"
)

// producer is satisfied by *kafka.Producer.
type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher for Kafka. Events are keyed by
// instance id so one instance's events stay ordered.
type KafkaEventPublisher struct {
	producer producer
	topic    string
}

func NewKafkaEventPublisher(p producer, topic string) domrepo.EventPublisher {
	return &KafkaEventPublisher{producer: p, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.ForecastEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.InstanceID), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopEventPublisher drops events; used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, models.ForecastEvent) error { return nil }
func (NopEventPublisher) Close() error                                        { return nil }
