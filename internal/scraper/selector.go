package scraper

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/models"
)

// SelectorSource reads one quote per fund block of an HTML page using CSS
// selectors. Optional patterns narrow the date and value texts.
type SelectorSource struct {
	base
	datePattern  *regexp.Regexp
	valuePattern *regexp.Regexp
}

func newSelectorSource(cfg config.SourceConfig, logger *zap.SugaredLogger) (*SelectorSource, error) {
	s := &SelectorSource{base: base{cfg: cfg, logger: logger}}

	var err error
	if p := cfg.Selectors.DatePattern; p != "" {
		if s.datePattern, err = regexp.Compile(p); err != nil {
			return nil, err
		}
	}
	if p := cfg.Selectors.ValuePattern; p != "" {
		if s.valuePattern, err = regexp.Compile(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Scrape fetches the page and returns the quote of every fund block
func (s *SelectorSource) Scrape(ctx context.Context, requester Requester) ([]Record, error) {
	body, err := s.fetch(ctx, requester)
	if err != nil {
		return nil, err
	}
	records, err := s.Parse(body)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.logger.Warn("No quotes found in page")
		s.export(requester, body)
	}
	return records, nil
}

// Parse extracts the records from a page body. Blocks that fail to parse
// are logged and skipped.
func (s *SelectorSource) Parse(body []byte) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	sel := s.cfg.Selectors
	var records []Record
	doc.Find(sel.Block).Each(func(_ int, block *goquery.Selection) {
		name := strings.TrimSpace(block.Find(sel.Name).First().Text())
		if name == "" {
			s.logger.Error("Fund block without a name")
			return
		}
		logger := s.logger.With("fund", name)

		dateText, ok := narrow(block.Find(sel.Date).First().Text(), s.datePattern)
		if !ok {
			logger.Errorw("Unable to find a valid date", "text", dateText)
			return
		}
		date, err := s.parseDate(dateText)
		if err != nil {
			logger.Errorw("Unable to find a valid date", "error", err)
			return
		}

		valueText, ok := narrow(block.Find(sel.Value).First().Text(), s.valuePattern)
		if !ok {
			logger.Errorw("Unable to find a valid quote", "date", date.Format(models.DateLayout), "text", valueText)
			return
		}
		value, err := s.parseValue(valueText)
		if err != nil {
			logger.Errorw("Unable to find a valid quote", "date", date.Format(models.DateLayout), "error", err)
			return
		}

		records = append(records, Record{
			FundName:    name,
			Observation: models.Observation{Date: date, Value: value},
		})
	})
	return records, nil
}

// narrow applies re to text and returns its first group, or the whole
// match when the pattern has no groups
func narrow(text string, re *regexp.Regexp) (string, bool) {
	text = strings.TrimSpace(text)
	if re == nil {
		return text, text != ""
	}
	m := re.FindStringSubmatch(text)
	switch {
	case m == nil:
		return text, false
	case len(m) > 1:
		return m[1], true
	default:
		return m[0], true
	}
}
