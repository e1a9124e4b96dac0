package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/models"
)

// messageWriter is the part of kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes quote change events to Kafka
type Producer struct {
	writer messageWriter
	topic  string
	logger *zap.SugaredLogger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string, logger *zap.SugaredLogger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
		logger: logger.With("component", "kafka_producer", "topic", topic),
	}
}

// Notify publishes a quote event keyed by fund id, so every event of a fund
// lands on the same partition
func (p *Producer) Notify(ctx context.Context, event *models.QuoteEvent) error {
	return p.publish(ctx, strconv.Itoa(event.FundID), event)
}

func (p *Producer) publish(ctx context.Context, key string, event *models.QuoteEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debugw("Published quote event", "event_type", event.EventType, "fund_id", event.FundID)
	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
