package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for quote dates
const DateLayout = "2006-01-02"

// Quote represents a single dated price observation for a fund
type Quote struct {
	ID       int64           `json:"id"`
	FundID   int             `json:"fund_id"`
	Date     time.Time       `json:"date"`
	Value    decimal.Decimal `json:"value"`
	Created  time.Time       `json:"created"`
	Modified time.Time       `json:"modified"`
}

// Observation is a parsed (date, value) pair waiting to be ingested.
// ObservedAt is set by backfill paths that must preserve the original
// creation time; scrapes leave it nil.
type Observation struct {
	Date       time.Time       `json:"date"`
	Value      decimal.Decimal `json:"value"`
	ObservedAt *time.Time      `json:"observed_at,omitempty"`
}

// FundObservation binds an observation to a fund id, used by bulk imports
type FundObservation struct {
	FundID int `json:"fund_id"`
	Observation
}

// TruncateDate strips the clock part of t, keeping the calendar date in UTC
func TruncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
