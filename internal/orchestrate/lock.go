package orchestrate

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sqlkeeper/keeper/internal/driver"
	"github.com/sqlkeeper/keeper/internal/keeperrors"
	"github.com/sqlkeeper/keeper/internal/metadata"
)

var errLockHeldByOther = errors.New("lock is held by another runner")

// holderIdentity names this process uniquely in the cluster for both
// lock layers, combining a random UUID with the hostname the way the
// teacher's sqldb package tags log lines with identifying context.
func holderIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return host + ":" + uuid.NewString()
}

// acquireApplicationLock retries driver.TryAcquireApplicationLock with
// exponential backoff up to deadline, replacing the naive fixed 3-
// second retry sleep the distilled design called for (spec section 9's
// REDESIGN FLAG).
func acquireApplicationLock(ctx context.Context, d driver.Driver, deadline time.Duration, log zerolog.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = deadline

	attempt := 0
	op := func() error {
		attempt++
		acquired, err := d.TryAcquireApplicationLock(ctx)
		if err != nil {
			return backoff.Permanent(keeperrors.LockContention(err))
		}
		if !acquired {
			log.Debug().Int("attempt", attempt).Msg("application lock contended, retrying")
			return keeperrors.LockContention(errLockHeldByOther)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return keeperrors.LockContention(err)
	}
	return nil
}

func releaseApplicationLock(ctx context.Context, d driver.Driver, log zerolog.Logger) {
	if err := d.ReleaseApplicationLock(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to release application lock")
	}
}

// acquireMetadataLock retries metadata.Store.TryLock the same way,
// implementing the second, inner lock layer spec section 5 describes
// (the metadata-table row lock, independent of the driver's server-side
// application lock).
func acquireMetadataLock(ctx context.Context, store metadata.Store, holder string, deadline time.Duration, log zerolog.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = deadline

	attempt := 0
	op := func() error {
		attempt++
		acquired, err := store.TryLock(holder)
		if err != nil {
			return backoff.Permanent(keeperrors.LockContention(err))
		}
		if !acquired {
			log.Debug().Int("attempt", attempt).Msg("metadata lock contended, retrying")
			return keeperrors.LockContention(errLockHeldByOther)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return keeperrors.LockContention(err)
	}
	return nil
}

func releaseMetadataLock(store metadata.Store, holder string, log zerolog.Logger) {
	if err := store.ReleaseLock(holder); err != nil {
		log.Warn().Err(keeperrors.LockRelease(err)).Msg("failed to release metadata lock")
	}
}
