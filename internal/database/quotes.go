package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/fund-quotes/internal/models"
)

const quoteColumns = `id, fund_id, date, value, created, modified`

// GetQuote retrieves the quote of a fund on a date, nil if missing
func (db *DB) GetQuote(ctx context.Context, fundID int, date time.Time) (*models.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE fund_id = $1 AND date = $2`

	q, err := scanQuote(db.conn.QueryRowContext(ctx, query, fundID, date.Format(models.DateLayout)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return q, nil
}

// InsertQuote inserts q unless a quote for (fund, date) already exists.
// It reports false when another writer got there first.
func (db *DB) InsertQuote(ctx context.Context, q *models.Quote) (bool, error) {
	query := `
		INSERT INTO quotes (fund_id, date, value, created, modified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fund_id, date) DO NOTHING
		RETURNING id
	`
	err := db.conn.QueryRowContext(ctx, query,
		q.FundID, q.Date.Format(models.DateLayout), q.Value, q.Created, q.Modified,
	).Scan(&q.ID)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert quote: %w", err)
	}
	return true, nil
}

// UpdateQuoteValue sets a new value and modified timestamp on a quote
func (db *DB) UpdateQuoteValue(ctx context.Context, id int64, value decimal.Decimal, modified time.Time) error {
	query := `UPDATE quotes SET value = $2, modified = $3 WHERE id = $1`

	result, err := db.conn.ExecContext(ctx, query, id, value, modified)
	if err != nil {
		return fmt.Errorf("failed to update quote: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("quote not found: %d", id)
	}
	return nil
}

// GetLatestQuote retrieves the most recent quote of a fund, nil if none
func (db *DB) GetLatestQuote(ctx context.Context, fundID int) (*models.Quote, error) {
	query := `
		SELECT ` + quoteColumns + `
		FROM quotes
		WHERE fund_id = $1
		ORDER BY date DESC
		LIMIT 1
	`
	q, err := scanQuote(db.conn.QueryRowContext(ctx, query, fundID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest quote: %w", err)
	}
	return q, nil
}

// ListQuotes returns a fund's quotes, newest first
func (db *DB) ListQuotes(ctx context.Context, fundID, limit int) ([]*models.Quote, error) {
	query := `
		SELECT ` + quoteColumns + `
		FROM quotes
		WHERE fund_id = $1
		ORDER BY date DESC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, fundID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*models.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// GetQuoteRange returns a fund's quotes within [start, end], oldest first
func (db *DB) GetQuoteRange(ctx context.Context, fundID int, start, end time.Time) ([]*models.Quote, error) {
	query := `
		SELECT ` + quoteColumns + `
		FROM quotes
		WHERE fund_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, fundID,
		start.Format(models.DateLayout), end.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get quote range: %w", err)
	}
	defer rows.Close()

	var quotes []*models.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func scanQuote(row rowScanner) (*models.Quote, error) {
	var q models.Quote
	if err := row.Scan(&q.ID, &q.FundID, &q.Date, &q.Value, &q.Created, &q.Modified); err != nil {
		return nil, err
	}
	q.Date = models.TruncateDate(q.Date)
	return &q, nil
}
