package orchestrate

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

func TestAcquireApplicationLockSucceedsFirstTry(t *testing.T) {
	c := qt.New(t)
	d := &fakeDriver{appLockResult: true}

	err := acquireApplicationLock(context.Background(), d, time.Second, zerolog.Nop())
	c.Assert(err, qt.IsNil)
	c.Assert(d.appLockCalls, qt.Equals, 1)
}

func TestAcquireApplicationLockRetriesThenSucceeds(t *testing.T) {
	c := qt.New(t)
	d := &retryingLockDriver{fakeDriver: &fakeDriver{}, succeedOnAttempt: 3}

	err := acquireApplicationLock(context.Background(), d, 2*time.Second, zerolog.Nop())
	c.Assert(err, qt.IsNil)
	c.Assert(d.appLockCalls, qt.Equals, 3)
}

func TestAcquireApplicationLockGivesUpAtDeadline(t *testing.T) {
	c := qt.New(t)
	d := &fakeDriver{appLockResult: false}

	err := acquireApplicationLock(context.Background(), d, 150*time.Millisecond, zerolog.Nop())
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestAcquireMetadataLockSucceedsFirstTry(t *testing.T) {
	c := qt.New(t)
	store := &fakeOrchStore{}

	err := acquireMetadataLock(context.Background(), store, "holder-a", time.Second, zerolog.Nop())
	c.Assert(err, qt.IsNil)
	c.Assert(store.lockHeld, qt.Equals, true)

	releaseMetadataLock(store, "holder-a", zerolog.Nop())
	c.Assert(store.lockHeld, qt.Equals, false)
}

// retryingLockDriver reports the lock contended until succeedOnAttempt,
// exercising acquireApplicationLock's exponential-backoff retry loop
// (spec section 9's REDESIGN FLAG: no fixed 3-second sleep).
type retryingLockDriver struct {
	*fakeDriver
	succeedOnAttempt int
}

func (d *retryingLockDriver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	d.appLockCalls++
	return d.appLockCalls >= d.succeedOnAttempt, nil
}
