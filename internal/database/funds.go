package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trogers1052/fund-quotes/internal/models"
)

const fundColumns = `id, name, bank, start_date, created, modified`

// EnsureFund returns the fund identified by (bank, name), creating it when
// missing. The bool reports whether the fund was created.
func (db *DB) EnsureFund(ctx context.Context, bank, name string) (*models.Fund, bool, error) {
	f, err := db.GetFundByBankAndName(ctx, bank, name)
	if err != nil {
		return nil, false, err
	}
	if f != nil {
		return f, false, nil
	}

	// A concurrent writer may create the fund between the read and the insert
	query := `
		INSERT INTO funds (name, bank, created, modified)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (bank, name) DO NOTHING
		RETURNING ` + fundColumns

	f, err = scanFund(db.conn.QueryRowContext(ctx, query, name, bank))
	if err == nil {
		return f, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to create fund: %w", err)
	}

	f, err = db.GetFundByBankAndName(ctx, bank, name)
	if err != nil {
		return nil, false, err
	}
	if f == nil {
		return nil, false, fmt.Errorf("fund vanished after conflict: %s/%s", bank, name)
	}
	return f, false, nil
}

// GetFundByBankAndName retrieves a fund by its natural key, nil if missing
func (db *DB) GetFundByBankAndName(ctx context.Context, bank, name string) (*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE bank = $1 AND name = $2`

	f, err := scanFund(db.conn.QueryRowContext(ctx, query, bank, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return f, nil
}

// GetFundByID retrieves a fund by id, nil if missing
func (db *DB) GetFundByID(ctx context.Context, id int) (*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE id = $1`

	f, err := scanFund(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return f, nil
}

// ListFunds returns all funds ordered by bank and name
func (db *DB) ListFunds(ctx context.Context) ([]*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds ORDER BY bank, name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []*models.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, f)
	}
	return funds, rows.Err()
}

// SetFundStartDate records the first date of a fund's series if unset or later
func (db *DB) SetFundStartDate(ctx context.Context, id int, date time.Time) error {
	query := `
		UPDATE funds SET start_date = $2, modified = now()
		WHERE id = $1 AND (start_date IS NULL OR start_date > $2)
	`
	if _, err := db.conn.ExecContext(ctx, query, id, date); err != nil {
		return fmt.Errorf("failed to set fund start date: %w", err)
	}
	return nil
}

// Stats returns fund and quote counts
func (db *DB) Stats(ctx context.Context) (*models.FundStats, error) {
	query := `SELECT (SELECT COUNT(*) FROM funds), (SELECT COUNT(*) FROM quotes)`

	var s models.FundStats
	if err := db.conn.QueryRowContext(ctx, query).Scan(&s.FundCount, &s.QuoteCount); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFund(row rowScanner) (*models.Fund, error) {
	var f models.Fund
	var startDate sql.NullTime

	if err := row.Scan(&f.ID, &f.Name, &f.Bank, &startDate, &f.Created, &f.Modified); err != nil {
		return nil, err
	}
	if startDate.Valid {
		f.StartDate = &startDate.Time
	}
	return &f, nil
}
