package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/fund-quotes/internal/api"
	"github.com/trogers1052/fund-quotes/internal/cache"
	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/database"
	"github.com/trogers1052/fund-quotes/internal/fetch"
	"github.com/trogers1052/fund-quotes/internal/ingest"
	"github.com/trogers1052/fund-quotes/internal/kafka"
	"github.com/trogers1052/fund-quotes/internal/schema"
	"github.com/trogers1052/fund-quotes/internal/scraper"
)

// app holds the storage and event plumbing shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	db      *database.DB
	latest  *cache.LatestQuotes
	closers []func() error
}

// newApp connects to postgres and brings the schema to the expected
// version under the schema lock
func newApp(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*app, error) {
	connStr := cfg.Database.ConnectionString()

	db, err := database.NewWithPool(connStr, database.PoolConfig{
		MaxConns:     cfg.Database.MaxConns,
		StaleTimeout: cfg.Database.StaleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db, closers: []func() error{db.Close}}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := database.NewSchemaLock(db, logger, database.DefaultLockStaleness)
	guard := schema.NewGuard(db, database.NewMigrator(connStr, logger), database.SchemaVersion, logger)
	err = schema.Bootstrap(ctx, lock, guard, database.NewLockToken(hostname), schema.BootstrapOptions{
		Prepare: db.EnsureConfigTable,
		Logger:  logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		client, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warnw("Latest quote cache disabled", "error", err)
		} else {
			a.latest = cache.NewLatestQuotes(client, db, cfg.Redis.TTL, logger)
			a.closers = append(a.closers, client.Close)
		}
	}
	return a, nil
}

// ingestor builds the quote ingestor, publishing changes to Kafka and
// invalidating the cache when those are configured
func (a *app) ingestor() *ingest.Ingestor {
	var notifiers ingest.MultiNotifier
	if len(a.cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.QuoteTopic, a.logger)
		notifiers = append(notifiers, producer)
		a.closers = append(a.closers, producer.Close)
	}
	if a.latest != nil {
		notifiers = append(notifiers, a.latest)
	}
	return ingest.NewIngestor(a.db, notifiers, a.logger, time.Now)
}

func (a *app) orchestrator() (*fetch.Orchestrator, error) {
	client, err := fetch.NewClient(a.cfg.Scraper, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})
	return fetch.NewOrchestrator(client, a.logger, fetch.WithDownloadPath(a.cfg.Scraper.DownloadPath)), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warnw("Error during shutdown", "error", err)
		}
	}
}

func runScrape(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, once bool) error {
	sources, err := config.LoadSources(cfg.Scraper.SourcesFile)
	if err != nil {
		return err
	}
	jobs, err := scraper.LoadJobs(sources, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	orchestrator, err := a.orchestrator()
	if err != nil {
		return err
	}
	ingestor := a.ingestor()
	scheduler := scraper.NewScheduler(scraper.NewRunner(orchestrator, ingestor, logger), jobs, cfg.Scraper.Frequency(), logger)

	if once {
		summary := scheduler.RunOnce(ctx)
		logger.Infow("Scrape finished",
			"inserted", summary.Inserted,
			"updated", summary.Updated,
			"unchanged", summary.Unchanged,
			"skipped", summary.Skipped,
		)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ObservationTopic, cfg.Kafka.ObservationGroup, ingestor, logger)
		g.Go(func() error { return consumer.Start(gctx) })
	}
	return g.Wait()
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var latest api.LatestReader
	if a.latest != nil {
		latest = a.latest
	}
	handler := api.NewHandler(a.db, latest, logger)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	rows, err := ingest.ReadCSV(f)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.ingestor().Import(ctx, rows, cfg.Database.BatchSize)
	logger.Infow("Import finished",
		"file", path,
		"rows", len(rows),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
	)
	return err
}

func runDownload(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, url, file string) error {
	client, err := fetch.NewClient(cfg.Scraper, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	o := fetch.NewOrchestrator(client, logger, fetch.WithDownloadPath(cfg.Scraper.DownloadPath))
	if !o.Download(ctx, url, file) {
		return fmt.Errorf("download of %s failed", url)
	}
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	version, err := a.db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	logger.Infow("Schema is up to date", "version", version)
	return nil
}
