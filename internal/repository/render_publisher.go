package repository

import (
	"context"
	"io"
	"time"

	"CryptoAgent/internal/domain/models"
	"CryptoAgent/internal/domain/repository"
	pkgkafka "CryptoAgent/pkg/kafka"
)

// ClosablePublisher is a render publisher owning a connection.
type ClosablePublisher interface {
	repository.RenderPublisher
	io.Closer
}

// KafkaPublisher writes render events to a Kafka topic keyed by panel ID, so all
// renders of one panel land on the same partition in order.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	timeout  time.Duration
}

// NewKafkaPublisher creates a Kafka render publisher. timeout <= 0 means no extra deadline.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, timeout: timeout}
}

func (p *KafkaPublisher) PublishRender(ctx context.Context, ev models.RenderEvent) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.producer.Publish(ctx, p.topic, []byte(ev.PanelID), ev)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishRender(context.Context, models.RenderEvent) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

var (
	_ ClosablePublisher = (*KafkaPublisher)(nil)
	_ ClosablePublisher = NopPublisher{}
)
