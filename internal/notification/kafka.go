package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MailJob is the message consumed by the mail service.
type MailJob struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Data     map[string]string `json:"data"`
	SentAt   time.Time         `json:"sentAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes mail jobs to a topic, keyed by address so jobs
// for the same recipient stay ordered.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaNotifier creates a synchronous producer for the given brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaNotifier{writer: writer, topic: topic, logger: logger}
}

func (n *KafkaNotifier) Send(ctx context.Context, template, address string, data map[string]string) error {
	value, err := json.Marshal(MailJob{
		Template: template,
		To:       address,
		Data:     data,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mail job: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(address),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		n.logger.Error("Failed to write mail job to Kafka",
			zap.String("topic", n.topic),
			zap.String("template", template),
			zap.Error(err),
		)
		return fmt.Errorf("failed to write mail job: %w", err)
	}

	n.logger.Debug("Mail job queued", zap.String("topic", n.topic), zap.String("template", template))
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
