package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/fund-quotes/internal/models"
)

// ReadCSV parses historical quotes with the columns
// fund_id,date,value[,observed_at]. A header row is skipped. observed_at is
// RFC 3339 or a zone-less timestamp taken as UTC.
func ReadCSV(r io.Reader) ([]models.FundObservation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []models.FundObservation
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "fund_id") {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 columns, got %d", line, len(record))
		}

		row, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

var observedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseObservedAt(s string) (time.Time, error) {
	var err error
	for _, layout := range observedAtLayouts {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t, nil
		}
		err = perr
	}
	return time.Time{}, err
}

func parseRecord(record []string) (models.FundObservation, error) {
	var row models.FundObservation

	fundID, err := strconv.Atoi(strings.TrimSpace(record[0]))
	if err != nil {
		return row, fmt.Errorf("invalid fund id %q", record[0])
	}
	date, err := time.Parse(models.DateLayout, strings.TrimSpace(record[1]))
	if err != nil {
		return row, fmt.Errorf("invalid date %q", record[1])
	}
	value, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return row, fmt.Errorf("invalid value %q", record[2])
	}

	row.FundID = fundID
	row.Date = date
	row.Value = value

	if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
		observedAt, err := parseObservedAt(strings.TrimSpace(record[3]))
		if err != nil {
			return row, fmt.Errorf("invalid observed_at %q", record[3])
		}
		row.ObservedAt = &observedAt
	}
	return row, nil
}
