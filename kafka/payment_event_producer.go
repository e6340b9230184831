package kafka

import (
	"context"
	"encoding/json"

	"payment-service/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentEventProducer publishes payment events keyed by order ref, so events
// for the same order land on one partition in order.
type PaymentEventProducer struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewPaymentEventProducer(brokers []string, topic string, logger *zap.Logger) *PaymentEventProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &PaymentEventProducer{writer: w, topic: topic, logger: logger}
}

func (p *PaymentEventProducer) Publish(ctx context.Context, event models.PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderRef),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.String("order_ref", event.OrderRef),
			zap.Error(err),
		)
		return err
	}

	p.logger.Info("Payment event published",
		zap.String("event_type", event.Type),
		zap.String("order_ref", event.OrderRef),
	)
	return nil
}

func (p *PaymentEventProducer) Close() {
	_ = p.writer.Close()
}
