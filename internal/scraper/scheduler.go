package scraper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/fund-quotes/internal/ingest"
)

// Scheduler runs every job on its own goroutine, once per frequency
type Scheduler struct {
	runner    *Runner
	jobs      []Job
	frequency time.Duration
	logger    *zap.SugaredLogger
}

// NewScheduler creates a scheduler for jobs
func NewScheduler(runner *Runner, jobs []Job, frequency time.Duration, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		jobs:      jobs,
		frequency: frequency,
		logger:    logger.With("component", "scheduler"),
	}
}

// Run loops until ctx is cancelled. Failed cycles are logged and retried
// at the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("Scheduler started", "sources", len(s.jobs), "frequency", s.frequency)

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	err := g.Wait()

	s.logger.Info("Scheduler stopped")
	return err
}

// RunOnce runs a single cycle of every job concurrently and returns the
// combined summary. Errors of individual jobs are logged.
func (s *Scheduler) RunOnce(ctx context.Context) ingest.Summary {
	var mu sync.Mutex
	var total ingest.Summary

	var g errgroup.Group
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			summary, err := s.runner.RunOnce(ctx, job)
			if err != nil {
				s.logger.Errorw("Scrape cycle failed", "source", job.Source.Name(), "error", err)
			}
			mu.Lock()
			total.Merge(summary)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return total
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With("source", job.Source.Name())
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.runner.RunOnce(ctx, job); err != nil && ctx.Err() == nil {
			logger.Errorw("Scrape cycle failed", "error", err)
		}
		logger.Debugw("Next scrape scheduled", "in", s.frequency)
		timer.Reset(s.frequency)
	}
}
