// Package execute implements the single-script application loop (spec
// section 4.2): statement splitting, transaction-boundary management,
// metadata recording, and the success/failure paths.
package execute

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqlkeeper/keeper/internal/driver"
	"github.com/sqlkeeper/keeper/internal/keeperrors"
	"github.com/sqlkeeper/keeper/internal/metadata"
	"github.com/sqlkeeper/keeper/internal/migration"
)

// Outcome describes what happened to one script.
type Outcome struct {
	Executed  bool // false when the body was skipped (skipNextMigrations)
	ElapsedMS int64
	Entry     metadata.Entry
}

// Options configures a single Apply call.
type Options struct {
	Placeholders        map[string]string
	CommandTimeout      time.Duration
	// RecordFailureOnError controls what happens when execution fails:
	// true (commit-each) persists a success=false entry; false (commit-
	// all / rollback-all) leaves the ambient transaction to unwind and
	// persists nothing, per spec section 4.2.
	RecordFailureOnError bool
	// SkipExecution marks the script applied without running its body
	// (skipNextMigrations, spec section 4.3).
	SkipExecution bool
	// SuppressCommit is set by the orchestrator when the session is
	// bound to an ambient transaction (commit-all / rollback-all):
	// a single commit/rollback covers every script in the run, so Apply
	// must not commit after each individual one.
	SuppressCommit bool
}

// Executor applies one MigrationScript within a live driver session.
type Executor struct {
	Driver driver.Driver
	Store  metadata.Store
	Log    zerolog.Logger
}

// Apply executes script against session per spec section 4.2.
func (e *Executor) Apply(ctx context.Context, session driver.Session, script *migration.Script, opts Options) (Outcome, error) {
	log := e.Log.With().Str("script", script.Name).Logger()

	checksum, err := script.Checksum()
	if err != nil {
		return Outcome{}, err
	}

	if opts.SkipExecution {
		log.Info().Msg("skipping migration body (skipNextMigrations)")
		entry, err := e.Store.SaveMigration(script.Category.String(), script.Version, script.Name, script.Description, checksum, true, 0)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Executed: false, ElapsedMS: 0, Entry: entry}, nil
	}

	start := time.Now()
	execErr := e.run(ctx, session, script, opts)
	elapsed := time.Since(start).Milliseconds()

	if execErr != nil {
		log.Error().Err(execErr).Msg("migration failed")
		if rerr := session.TryRollback(ctx); rerr != nil {
			log.Warn().Err(rerr).Msg("rollback after failed migration also failed")
		}
		if opts.RecordFailureOnError {
			if _, saveErr := e.Store.SaveMigration(script.Category.String(), script.Version, script.Name, script.Description, checksum, false, elapsed); saveErr != nil {
				log.Error().Err(saveErr).Msg("failed to persist failure entry")
			}
		}
		return Outcome{}, keeperrors.Execution(script.Name, execErr)
	}

	if !opts.SuppressCommit {
		if err := session.TryCommit(ctx); err != nil {
			return Outcome{}, keeperrors.Execution(script.Name, err)
		}
	}

	entry, err := e.Store.SaveMigration(script.Category.String(), script.Version, script.Name, script.Description, checksum, true, elapsed)
	if err != nil {
		return Outcome{}, err
	}
	log.Info().Int64("elapsed_ms", elapsed).Msg("migration applied")
	return Outcome{Executed: true, ElapsedMS: elapsed, Entry: entry}, nil
}

// run splits script's body and executes each statement, managing the
// transaction boundary per spec section 4.2's rule: open lazily on the
// first transactional statement, commit early before a non-
// transactional one (unless opts.SuppressCommit keeps an ambient
// transaction open).
func (e *Executor) run(ctx context.Context, session driver.Session, script *migration.Script, opts Options) error {
	body, err := script.Body()
	if err != nil {
		return err
	}
	statements, err := e.Driver.LoadSQLStatements(body, opts.Placeholders)
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		if stmt.MustExecuteInTransaction {
			if !session.InTransaction() {
				if err := session.TryBeginTransaction(ctx); err != nil {
					return err
				}
			}
		} else if session.InTransaction() && !opts.SuppressCommit {
			if err := session.TryCommit(ctx); err != nil {
				return err
			}
		}
		if err := session.ExecuteNonQuery(ctx, stmt.SQL, opts.CommandTimeout); err != nil {
			return err
		}
	}
	return nil
}
