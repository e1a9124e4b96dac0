package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/database"
)

// ErrLockContention is returned when the schema lock stayed held by another
// process for the whole acquisition window
var ErrLockContention = errors.New("schema lock held by another process")

// ErrLockLost is returned when another process took the schema lock over
// while the guard was running. The schema work is interrupted.
var ErrLockLost = errors.New("schema lock lost to another process")

var errLockBusy = errors.New("schema lock busy")

// Locker is the cooperative schema lock
type Locker interface {
	InitLock(ctx context.Context) error
	TryLock(ctx context.Context, token string) (bool, error)
	Unlock(ctx context.Context, token string) (bool, error)
	Refresh(ctx context.Context, token string) (bool, error)
}

// BootstrapOptions tunes Bootstrap. Zero values fall back to defaults.
type BootstrapOptions struct {
	// Prepare runs before the lock is touched, e.g. to create db_config.
	Prepare func(ctx context.Context) error
	// MaxWait bounds the time spent waiting for the lock.
	MaxWait time.Duration
	// InitialInterval is the first wait between lock attempts.
	InitialInterval time.Duration
	// Heartbeat is the refresh period while the lock is held.
	Heartbeat time.Duration
	Logger    *zap.SugaredLogger
}

func (o *BootstrapOptions) setDefaults() {
	if o.MaxWait <= 0 {
		o.MaxWait = 2 * time.Minute
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = database.DefaultLockStaleness / 3
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Bootstrap runs the schema guard while holding the schema lock. The lock
// is refreshed while the guard runs and always released afterwards.
func Bootstrap(ctx context.Context, lock Locker, guard *Guard, token string, opts BootstrapOptions) error {
	opts.setDefaults()
	logger := opts.Logger.With("component", "bootstrap", "token", token)

	if opts.Prepare != nil {
		if err := opts.Prepare(ctx); err != nil {
			return err
		}
	}
	if err := lock.InitLock(ctx); err != nil {
		return err
	}

	if err := acquire(ctx, lock, token, opts); err != nil {
		return err
	}
	logger.Debug("Schema lock acquired")

	defer func() {
		released, err := lock.Unlock(context.WithoutCancel(ctx), token)
		switch {
		case err != nil:
			logger.Errorw("Failed to release schema lock", "error", err)
		case !released:
			logger.Warn("Schema lock was no longer held at release")
		default:
			logger.Debug("Schema lock released")
		}
	}()

	guardCtx, cancelGuard := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat(guardCtx, lock, token, opts.Heartbeat, cancelGuard, logger)
	}()
	defer func() {
		cancelGuard(nil)
		wg.Wait()
	}()

	err := guard.Verify(guardCtx)
	if errors.Is(context.Cause(guardCtx), ErrLockLost) {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockLost, err)
		}
		return ErrLockLost
	}
	return err
}

func acquire(ctx context.Context, lock Locker, token string, opts BootstrapOptions) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxElapsedTime = opts.MaxWait

	op := func() error {
		ok, err := lock.TryLock(ctx, token)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}
	notify := func(_ error, wait time.Duration) {
		opts.Logger.Debugw("Schema lock busy, retrying", "wait", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if errors.Is(err, errLockBusy) {
		return fmt.Errorf("%w after %s", ErrLockContention, opts.MaxWait)
	}
	return err
}

// heartbeat refreshes the lock until ctx ends. Losing the lock cancels ctx
// with ErrLockLost.
func heartbeat(ctx context.Context, lock Locker, token string, every time.Duration, lost context.CancelCauseFunc, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := lock.Refresh(ctx, token)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warnw("Failed to refresh schema lock", "error", err)
				}
				continue
			}
			if !held {
				logger.Error("Schema lock lost to another process")
				lost(ErrLockLost)
				return
			}
		}
	}
}
