package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote event types
const (
	EventQuoteInserted = "QUOTE_INSERTED"
	EventQuoteUpdated  = "QUOTE_UPDATED"
	EventQuoteObserved = "QUOTE_OBSERVED"
)

// QuoteEvent represents a Kafka event for quote changes
type QuoteEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	FundID    int       `json:"fund_id"`
	Quote     *Quote    `json:"quote,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ObservationEvent is a quote observation published by an external tool
// (backfills, manual corrections). Funds are resolved by (bank, name).
type ObservationEvent struct {
	EventType  string          `json:"event_type"`
	Source     string          `json:"source"`
	Bank       string          `json:"bank"`
	FundName   string          `json:"fund_name"`
	Date       string          `json:"date"`
	Value      decimal.Decimal `json:"value"`
	ObservedAt *string         `json:"observed_at,omitempty"`
}
