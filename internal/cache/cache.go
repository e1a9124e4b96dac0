package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/config"
	"github.com/trogers1052/fund-quotes/internal/models"
)

const keyPrefix = "fundquotes:latest:"

// LatestStore loads the latest quote of a fund from storage
type LatestStore interface {
	GetLatestQuote(ctx context.Context, fundID int) (*models.Quote, error)
}

// LatestQuotes is a read-through cache of the latest quote per fund.
// Cache failures are logged and fall back to the store.
type LatestQuotes struct {
	client redis.UniversalClient
	store  LatestStore
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewClient connects to redis and checks the connection
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewLatestQuotes creates the cache over store
func NewLatestQuotes(client redis.UniversalClient, store LatestStore, ttl time.Duration, logger *zap.SugaredLogger) *LatestQuotes {
	return &LatestQuotes{
		client: client,
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Key returns the redis key holding the latest quote of a fund
func Key(fundID int) string {
	return fmt.Sprintf("%s%d", keyPrefix, fundID)
}

// GetLatestQuote returns the cached quote, loading and caching it from the
// store on a miss. A fund without quotes yields nil and is not cached.
func (c *LatestQuotes) GetLatestQuote(ctx context.Context, fundID int) (*models.Quote, error) {
	data, err := c.client.Get(ctx, Key(fundID)).Bytes()
	switch {
	case err == nil:
		var q models.Quote
		if err := json.Unmarshal(data, &q); err == nil {
			return &q, nil
		}
		c.logger.Warnw("Dropping unreadable cache entry", "fund_id", fundID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warnw("Cache read failed", "fund_id", fundID, "error", err)
	}

	q, err := c.store.GetLatestQuote(ctx, fundID)
	if err != nil || q == nil {
		return q, err
	}
	c.set(ctx, q)
	return q, nil
}

// Invalidate drops the cached quote of a fund
func (c *LatestQuotes) Invalidate(ctx context.Context, fundID int) error {
	if err := c.client.Del(ctx, Key(fundID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// Notify invalidates the fund of a changed quote
func (c *LatestQuotes) Notify(ctx context.Context, event *models.QuoteEvent) error {
	return c.Invalidate(ctx, event.FundID)
}

func (c *LatestQuotes) set(ctx context.Context, q *models.Quote) {
	data, err := json.Marshal(q)
	if err != nil {
		c.logger.Warnw("Failed to encode quote for cache", "fund_id", q.FundID, "error", err)
		return
	}
	if err := c.client.Set(ctx, Key(q.FundID), data, c.ttl).Err(); err != nil {
		c.logger.Warnw("Cache write failed", "fund_id", q.FundID, "error", err)
	}
}
