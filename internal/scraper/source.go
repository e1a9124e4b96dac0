package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/fetch"
	"github.com/trogers1052/fund-quotes/internal/ingest"
	"github.com/trogers1052/fund-quotes/internal/models"
)

// ErrNoContent means every fetch attempt failed; the source is skipped
// for this cycle.
var ErrNoContent = errors.New("no content fetched")

// Requester fetches pages for sources
type Requester interface {
	Request(ctx context.Context, url string, opts ...fetch.RequestOption) []byte
	Export(name string, content []byte) error
}

// Record is one parsed quote of a named fund
type Record struct {
	FundName string
	models.Observation
}

// Source fetches and parses the quotes published by one site
type Source interface {
	Name() string
	Bank() string
	Scrape(ctx context.Context, requester Requester) ([]Record, error)
}

// Job pairs a source with the ingestion policy its series use
type Job struct {
	Source Source
	Policy ingest.Policy
}

// NewSource builds a source from its configuration
func NewSource(cfg config.SourceConfig, logger *zap.SugaredLogger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("source", cfg.Name, "bank", cfg.Bank)

	switch cfg.Kind {
	case config.SourceKindPattern:
		return newPatternSource(cfg, logger)
	case config.SourceKindSelector:
		return newSelectorSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// LoadJobs builds a job for every configured source
func LoadJobs(cfgs []config.SourceConfig, logger *zap.SugaredLogger) ([]Job, error) {
	jobs := make([]Job, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := NewSource(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		policy, err := ingest.ParsePolicy(cfg.Policy)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}
		jobs = append(jobs, Job{Source: src, Policy: policy})
	}
	return jobs, nil
}

// base holds what every configured source shares
type base struct {
	cfg    config.SourceConfig
	logger *zap.SugaredLogger
}

func (b *base) Name() string { return b.cfg.Name }
func (b *base) Bank() string { return b.cfg.Bank }

func (b *base) fetch(ctx context.Context, requester Requester) ([]byte, error) {
	var opts []fetch.RequestOption
	if b.cfg.Referer != "" {
		opts = append(opts, fetch.WithReferer(b.cfg.Referer))
	}
	body := requester.Request(ctx, b.cfg.URL, opts...)
	if body == nil {
		return nil, ErrNoContent
	}
	return body, nil
}

// export saves a page that yielded no quotes
func (b *base) export(requester Requester, body []byte) {
	name := fmt.Sprintf("%s-%s.html", strings.ToLower(b.cfg.Name), time.Now().UTC().Format("20060102T150405"))
	if err := requester.Export(name, body); err != nil {
		b.logger.Warnw("Failed to export web page", "error", err)
	}
}

func (b *base) parseDate(raw string) (time.Time, error) {
	d, err := time.Parse(b.cfg.DateFormat, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return models.TruncateDate(d), nil
}

func (b *base) parseValue(raw string) (decimal.Decimal, error) {
	return ParseValue(raw, b.cfg.DecimalComma)
}

// ParseValue parses a quoted price, dropping currency symbols and spacing.
// With decimalComma, "1.234,5678" reads as 1234.5678.
func ParseValue(raw string, decimalComma bool) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, raw)

	if decimalComma {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	v, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid value %q", raw)
	}
	return v, nil
}
