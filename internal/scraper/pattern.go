package scraper

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/models"
)

// PatternSource reads one fund's series from a page with a regular
// expression exposing the named groups "date" and "value".
type PatternSource struct {
	base
	re       *regexp.Regexp
	dateIdx  int
	valueIdx int
}

func newPatternSource(cfg config.SourceConfig, logger *zap.SugaredLogger) (*PatternSource, error) {
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	return &PatternSource{
		base:     base{cfg: cfg, logger: logger},
		re:       re,
		dateIdx:  re.SubexpIndex("date"),
		valueIdx: re.SubexpIndex("value"),
	}, nil
}

// Scrape fetches the page and returns every match that parses
func (s *PatternSource) Scrape(ctx context.Context, requester Requester) ([]Record, error) {
	body, err := s.fetch(ctx, requester)
	if err != nil {
		return nil, err
	}
	records := s.Parse(body)
	if len(records) == 0 {
		s.logger.Warn("No quotes found in page")
		s.export(requester, body)
	}
	return records, nil
}

// Parse extracts the records from a page body
func (s *PatternSource) Parse(body []byte) []Record {
	var records []Record
	for _, m := range s.re.FindAllSubmatch(body, -1) {
		date, err := s.parseDate(string(m[s.dateIdx]))
		if err != nil {
			s.logger.Errorw("Unable to find a valid date", "error", err)
			continue
		}
		value, err := s.parseValue(string(m[s.valueIdx]))
		if err != nil {
			s.logger.Errorw("Unable to find a valid quote", "date", date.Format(models.DateLayout), "error", err)
			continue
		}
		records = append(records, Record{
			FundName:    s.cfg.Fund,
			Observation: models.Observation{Date: date, Value: value},
		})
	}
	return records
}
