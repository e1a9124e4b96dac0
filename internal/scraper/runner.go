package scraper

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/ingest"
	"github.com/trogers1052/fund-quotes/internal/models"
)

// Ingestor stores the series a source produced
type Ingestor interface {
	EnsureFund(ctx context.Context, bank, name string) (*models.Fund, bool, error)
	IngestSeries(ctx context.Context, fund *models.Fund, observations []models.Observation, policy ingest.Policy) (ingest.Summary, error)
}

// Runner performs scrape cycles: fetch, parse and ingest
type Runner struct {
	requester Requester
	ingestor  Ingestor
	logger    *zap.SugaredLogger
}

// NewRunner creates a new scrape runner
func NewRunner(requester Requester, ingestor Ingestor, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		requester: requester,
		ingestor:  ingestor,
		logger:    logger.With("component", "runner"),
	}
}

// RunOnce performs one scrape cycle of a job. A page that could not be
// fetched is skipped without error.
func (r *Runner) RunOnce(ctx context.Context, job Job) (ingest.Summary, error) {
	src := job.Source
	logger := r.logger.With("source", src.Name(), "bank", src.Bank())
	logger.Debug("Scrape cycle started")

	var summary ingest.Summary
	records, err := src.Scrape(ctx, r.requester)
	if errors.Is(err, ErrNoContent) {
		logger.Warn("Scrape skipped this cycle")
		return summary, nil
	}
	if err != nil {
		return summary, fmt.Errorf("failed to scrape %s: %w", src.Name(), err)
	}

	names, series := groupByFund(records)
	for _, name := range names {
		fund, _, err := r.ingestor.EnsureFund(ctx, src.Bank(), name)
		if err != nil {
			return summary, fmt.Errorf("failed to get fund %s: %w", name, err)
		}
		s, err := r.ingestor.IngestSeries(ctx, fund, series[name], job.Policy)
		summary.Merge(s)
		if err != nil {
			return summary, err
		}
	}

	logger.Infow("Scrape cycle finished",
		"funds", len(names),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// groupByFund splits records per fund, keeping first-seen order
func groupByFund(records []Record) ([]string, map[string][]models.Observation) {
	var names []string
	series := make(map[string][]models.Observation)
	for _, rec := range records {
		if _, ok := series[rec.FundName]; !ok {
			names = append(names, rec.FundName)
		}
		series[rec.FundName] = append(series[rec.FundName], rec.Observation)
	}
	return names, series
}
