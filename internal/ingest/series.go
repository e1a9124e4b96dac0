package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/models"
)

// Policy decides which observations of a series reach the ingestor
type Policy int

const (
	// PolicyAcceptAll ingests every observation, older dates included
	PolicyAcceptAll Policy = iota
	// PolicySkipNotNewer drops observations dated on or before the latest
	// stored quote of the fund
	PolicySkipNotNewer
)

// ParsePolicy maps a sources file policy name to a Policy
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case config.PolicyAcceptAll:
		return PolicyAcceptAll, nil
	case config.PolicySkipNotNewer:
		return PolicySkipNotNewer, nil
	default:
		return PolicyAcceptAll, fmt.Errorf("unknown policy %q", name)
	}
}

func (p Policy) String() string {
	if p == PolicySkipNotNewer {
		return config.PolicySkipNotNewer
	}
	return config.PolicyAcceptAll
}

// Summary counts the outcomes of a series or import
type Summary struct {
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
}

func (s *Summary) add(o Outcome) {
	switch o {
	case Inserted:
		s.Inserted++
	case Updated:
		s.Updated++
	default:
		s.Unchanged++
	}
}

// Merge adds the counts of other to s
func (s *Summary) Merge(other Summary) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
	s.Skipped += other.Skipped
}

// IngestSeries upserts the observations of one fund under policy. A storage
// error stops the series.
func (i *Ingestor) IngestSeries(ctx context.Context, fund *models.Fund, observations []models.Observation, policy Policy) (Summary, error) {
	var summary Summary

	var latest *time.Time
	if policy == PolicySkipNotNewer {
		q, err := i.repo.GetLatestQuote(ctx, fund.ID)
		if err != nil {
			return summary, err
		}
		if q != nil {
			d := models.TruncateDate(q.Date)
			latest = &d
		}
	}

	var earliest time.Time
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		date := models.TruncateDate(obs.Date)
		if latest != nil && !date.After(*latest) {
			summary.Skipped++
			continue
		}

		_, outcome, err := i.Upsert(ctx, fund.ID, date, obs.Value, obs.ObservedAt)
		if err != nil {
			return summary, fmt.Errorf("failed to ingest %s quote for %s: %w", date.Format(models.DateLayout), fund.Name, err)
		}
		summary.add(outcome)

		if outcome == Inserted && (earliest.IsZero() || date.Before(earliest)) {
			earliest = date
		}
	}

	if !earliest.IsZero() {
		if err := i.repo.SetFundStartDate(ctx, fund.ID, earliest); err != nil {
			i.logger.Warnw("Failed to record fund start date", "fund_id", fund.ID, "error", err)
		}
	}

	i.logger.Debugw("Series ingested",
		"fund_id", fund.ID,
		"policy", policy.String(),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// Import upserts historical observations one row at a time, keeping their
// observedAt timestamps. Each row commits on its own; reportEvery only sets
// how often progress is logged.
func (i *Ingestor) Import(ctx context.Context, rows []models.FundObservation, reportEvery int) (Summary, error) {
	var summary Summary
	if reportEvery <= 0 {
		reportEvery = len(rows)
	}

	for n, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		_, outcome, err := i.Upsert(ctx, row.FundID, row.Date, row.Value, row.ObservedAt)
		if err != nil {
			return summary, fmt.Errorf("failed to import quote for fund %d on %s: %w",
				row.FundID, row.Date.Format(models.DateLayout), err)
		}
		summary.add(outcome)

		if done := n + 1; done%reportEvery == 0 || done == len(rows) {
			i.logger.Infow("Import progress", "rows", done, "total", len(rows))
		}
	}
	return summary, nil
}
