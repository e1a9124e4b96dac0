package ingest

import (
	"context"
	"errors"

	"github.com/trogers1052/fund-quotes/internal/models"
)

// MultiNotifier fans an event out to several notifiers
type MultiNotifier []Notifier

// Notify calls every notifier and joins their errors
func (m MultiNotifier) Notify(ctx context.Context, event *models.QuoteEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
