package models

import "time"

// Fund represents a tracked investment product identified by (bank, name)
type Fund struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Bank      string     `json:"bank"`
	StartDate *time.Time `json:"start_date,omitempty"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
}

// FundStats holds row counts shown on the index endpoint
type FundStats struct {
	FundCount  int64 `json:"fund_count"`
	QuoteCount int64 `json:"quote_count"`
}
