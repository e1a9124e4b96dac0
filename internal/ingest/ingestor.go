package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/models"
)

// Outcome reports what an upsert did to storage
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// QuoteRepository is the storage the ingestor reads and writes
type QuoteRepository interface {
	GetQuote(ctx context.Context, fundID int, date time.Time) (*models.Quote, error)
	InsertQuote(ctx context.Context, q *models.Quote) (bool, error)
	UpdateQuoteValue(ctx context.Context, id int64, value decimal.Decimal, modified time.Time) error
	GetLatestQuote(ctx context.Context, fundID int) (*models.Quote, error)
	EnsureFund(ctx context.Context, bank, name string) (*models.Fund, bool, error)
	SetFundStartDate(ctx context.Context, id int, date time.Time) error
}

// Notifier is told about quotes that were inserted or updated
type Notifier interface {
	Notify(ctx context.Context, event *models.QuoteEvent) error
}

// Clock returns the current time
type Clock func() time.Time

// Ingestor decides insert, update or no-op for each (fund, date, value)
type Ingestor struct {
	repo     QuoteRepository
	notifier Notifier
	logger   *zap.SugaredLogger
	now      Clock
}

// NewIngestor creates an ingestor. notifier and clock may be nil.
func NewIngestor(repo QuoteRepository, notifier Notifier, logger *zap.SugaredLogger, clock Clock) *Ingestor {
	if clock == nil {
		clock = time.Now
	}
	return &Ingestor{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With("component", "ingestor"),
		now:      clock,
	}
}

// Upsert stores value as the quote of fund on date. An identical stored
// value is left untouched so replays never move the modified timestamp.
// observedAt, when set, is used instead of the clock for created (insert)
// or modified (update).
func (i *Ingestor) Upsert(ctx context.Context, fundID int, date time.Time, value decimal.Decimal, observedAt *time.Time) (*models.Quote, Outcome, error) {
	date = models.TruncateDate(date)

	existing, err := i.repo.GetQuote(ctx, fundID, date)
	if err != nil {
		return nil, Unchanged, err
	}
	if existing != nil {
		return i.reconcile(ctx, existing, value, observedAt)
	}

	ts := i.timestamp(observedAt)
	q := &models.Quote{
		FundID:   fundID,
		Date:     date,
		Value:    value,
		Created:  ts,
		Modified: ts,
	}

	inserted, err := i.repo.InsertQuote(ctx, q)
	if err != nil {
		return nil, Unchanged, err
	}
	if inserted {
		i.notify(ctx, models.EventQuoteInserted, q)
		return q, Inserted, nil
	}

	// Another writer inserted the same (fund, date) in between.
	existing, err = i.repo.GetQuote(ctx, fundID, date)
	if err != nil {
		return nil, Unchanged, err
	}
	if existing == nil {
		return nil, Unchanged, fmt.Errorf("quote for fund %d on %s conflicted but is missing", fundID, date.Format(models.DateLayout))
	}
	i.logger.Debugw("Quote inserted concurrently, comparing", "fund_id", fundID, "date", date.Format(models.DateLayout))
	return i.reconcile(ctx, existing, value, observedAt)
}

func (i *Ingestor) reconcile(ctx context.Context, existing *models.Quote, value decimal.Decimal, observedAt *time.Time) (*models.Quote, Outcome, error) {
	if existing.Value.Equal(value) {
		return existing, Unchanged, nil
	}

	modified := i.timestamp(observedAt)
	if err := i.repo.UpdateQuoteValue(ctx, existing.ID, value, modified); err != nil {
		return nil, Unchanged, err
	}

	i.logger.Infow("Quote value changed",
		"fund_id", existing.FundID,
		"date", existing.Date.Format(models.DateLayout),
		"old", existing.Value.String(),
		"new", value.String(),
	)

	existing.Value = value
	existing.Modified = modified
	i.notify(ctx, models.EventQuoteUpdated, existing)
	return existing, Updated, nil
}

func (i *Ingestor) timestamp(observedAt *time.Time) time.Time {
	if observedAt != nil {
		return *observedAt
	}
	return i.now()
}

func (i *Ingestor) notify(ctx context.Context, eventType string, q *models.Quote) {
	if i.notifier == nil {
		return
	}
	event := &models.QuoteEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		FundID:    q.FundID,
		Quote:     q,
		Timestamp: i.now(),
	}
	if err := i.notifier.Notify(ctx, event); err != nil {
		i.logger.Warnw("Failed to notify quote change", "fund_id", q.FundID, "event", eventType, "error", err)
	}
}

// EnsureFund returns the fund for (bank, name), creating it on first sight
func (i *Ingestor) EnsureFund(ctx context.Context, bank, name string) (*models.Fund, bool, error) {
	fund, created, err := i.repo.EnsureFund(ctx, bank, name)
	if err != nil {
		return nil, false, err
	}
	if created {
		i.logger.Infow("New fund registered", "fund_id", fund.ID, "bank", bank, "name", name)
	}
	return fund, created, nil
}
