package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/ingest"
	"github.com/trogers1052/fund-quotes/internal/models"
)

// QuoteIngestor defines the ingestion operations the consumer needs
type QuoteIngestor interface {
	EnsureFund(ctx context.Context, bank, name string) (*models.Fund, bool, error)
	Upsert(ctx context.Context, fundID int, date time.Time, value decimal.Decimal, observedAt *time.Time) (*models.Quote, ingest.Outcome, error)
}

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads quote observations published by other tools (backfills,
// manual corrections) and upserts them.
type Consumer struct {
	reader messageReader
	topic  string
	ingest QuoteIngestor
	logger *zap.SugaredLogger
}

// NewConsumer creates a new Kafka consumer for observation events
func NewConsumer(brokers []string, topic, groupID string, ingestor QuoteIngestor, logger *zap.SugaredLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader: reader,
		topic:  topic,
		ingest: ingestor,
		logger: logger.With("component", "kafka_consumer", "topic", topic),
	}
}

// Start consumes messages until ctx is cancelled. Messages that fail to
// process are logged and skipped.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				c.logger.Errorw("Error reading message", "error", err)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.logger.Errorw("Error processing message",
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	c.logger.Debugw("Received message", "partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))

	var event models.ObservationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal observation event: %w", err)
	}

	if event.EventType != models.EventQuoteObserved {
		c.logger.Debugw("Ignoring event type", "event_type", event.EventType)
		return nil
	}

	obs, err := convertEvent(event)
	if err != nil {
		return fmt.Errorf("failed to convert observation event: %w", err)
	}

	fund, created, err := c.ingest.EnsureFund(ctx, event.Bank, event.FundName)
	if err != nil {
		return fmt.Errorf("failed to get fund: %w", err)
	}
	if created {
		c.logger.Infow("Fund created from observation", "bank", fund.Bank, "fund", fund.Name, "source", event.Source)
	}

	_, outcome, err := c.ingest.Upsert(ctx, fund.ID, obs.Date, obs.Value, obs.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert quote: %w", err)
	}

	c.logger.Debugw("Observation ingested",
		"fund_id", fund.ID,
		"date", obs.Date.Format(models.DateLayout),
		"outcome", outcome.String(),
		"source", event.Source,
	)
	return nil
}

// convertEvent validates an ObservationEvent and maps it to an Observation
func convertEvent(event models.ObservationEvent) (models.Observation, error) {
	var obs models.Observation

	if strings.TrimSpace(event.Bank) == "" || strings.TrimSpace(event.FundName) == "" {
		return obs, errors.New("bank and fund_name are required")
	}

	date, err := time.Parse(models.DateLayout, event.Date)
	if err != nil {
		return obs, fmt.Errorf("invalid date %s: %w", event.Date, err)
	}
	obs.Date = models.TruncateDate(date)
	obs.Value = event.Value

	if event.ObservedAt != nil && *event.ObservedAt != "" {
		observedAt, err := time.Parse(time.RFC3339, *event.ObservedAt)
		if err != nil {
			// Try parsing without timezone
			observedAt, err = time.Parse("2006-01-02T15:04:05", *event.ObservedAt)
			if err != nil {
				return obs, fmt.Errorf("invalid observed_at %s: %w", *event.ObservedAt, err)
			}
		}
		obs.ObservedAt = &observedAt
	}

	return obs, nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
