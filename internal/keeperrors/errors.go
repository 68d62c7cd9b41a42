// Package keeperrors defines the error taxonomy the orchestrator raises,
// grouped by effect rather than by underlying cause (spec section 7):
// configuration errors, validation errors, execution errors, lock
// contention (retried with backoff, and returned to the caller only
// once the lock-acquisition deadline passes or the lock query itself
// fails), and lock release failures (logged, never returned as the
// run's error).
package keeperrors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel markers used with errors.Is against wrapped errors via errors.Mark.
var (
	errConfiguration = errors.New("configuration error")
	errValidation    = errors.New("validation error")
	errExecution     = errors.New("execution error")
	errLockContend   = errors.New("lock contention")
	errLockRelease   = errors.New("lock release failure")
)

// Configuration wraps msg as a ConfigurationError: invalid or
// contradictory configuration detected before any write takes place.
func Configuration(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errConfiguration)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool { return errors.Is(err, errConfiguration) }

// Validation wraps msg as a ValidationError: the reconciler or the
// validate-and-repair walk found an inconsistency between scripts and
// metadata.
func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), errValidation)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, errValidation) }

// Execution wraps cause as an ExecutionError raised while applying script.
func Execution(script string, cause error) error {
	wrapped := errors.Wrapf(cause, "execute migration %s", script)
	return errors.Mark(wrapped, errExecution)
}

// IsExecution reports whether err is (or wraps) an ExecutionError.
func IsExecution(err error) bool { return errors.Is(err, errExecution) }

// LockContention marks err as transient lock contention. Callers retry
// on this condition with backoff; it reaches the caller only when the
// lock-acquisition deadline passes or the lock query itself fails.
func LockContention(cause error) error {
	return errors.Mark(errors.Wrap(cause, "lock contention"), errLockContend)
}

// IsLockContention reports whether err represents transient lock contention.
func IsLockContention(err error) bool { return errors.Is(err, errLockContend) }

// LockRelease marks err as a failure to release a held lock. It is
// always logged, never returned as the primary error of a run.
func LockRelease(cause error) error {
	return errors.Mark(errors.Wrap(cause, "lock release failed"), errLockRelease)
}

// IsLockRelease reports whether err represents a lock release failure.
func IsLockRelease(err error) bool { return errors.Is(err, errLockRelease) }
