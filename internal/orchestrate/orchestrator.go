// Package orchestrate implements the five command state machines (spec
// section 4.3): Migrate, Validate, Repair, Erase, and Info. It wires
// together internal/migration (scripts), internal/reconcile
// (reconciliation and the validate/repair walk), internal/execute
// (single-script application), and internal/driver (the DBMS
// capability set), inside the shared lock-and-session envelope spec
// section 5 describes.
package orchestrate

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/sqlkeeper/keeper/internal/config"
	"github.com/sqlkeeper/keeper/internal/driver"
	"github.com/sqlkeeper/keeper/internal/execute"
	"github.com/sqlkeeper/keeper/internal/keeperrors"
	"github.com/sqlkeeper/keeper/internal/metadata"
	"github.com/sqlkeeper/keeper/internal/migration"
	"github.com/sqlkeeper/keeper/internal/optracker"
	"github.com/sqlkeeper/keeper/internal/reconcile"
)

// RunResult accumulates the counters each command reports (spec
// section 4.3 / 4.5).
type RunResult struct {
	Command               string
	Schemas               []string
	MigrationsApplied     []metadata.Entry
	RepeatableApplied     []metadata.Entry
	Reparations           int
	SchemasErased         int
	SchemasSkippedOnErase int
	TotalTimeElapsedMS    int64
}

// Orchestrator runs the five commands against one Driver/Loader/Store
// triple, one schema at a time.
type Orchestrator struct {
	Driver driver.Driver
	Loader migration.Loader
	Config config.Config
	Log    zerolog.Logger

	// NewStore returns the metadata.Store bound to one schema. Kept as a
	// factory (rather than a single Store field) because each schema in
	// Config.Schemas gets its own metadata table instance.
	NewStore func(schema string) metadata.Store

	// Tracker optionally renders live progress, per the teacher's
	// optracker idiom; nil disables progress reporting.
	Tracker *optracker.OpTracker
}

func (o *Orchestrator) schemas(ctx context.Context) ([]string, error) {
	if len(o.Config.Schemas) > 0 {
		return o.Config.Schemas, nil
	}
	name, err := o.Driver.CurrentSchemaName(ctx)
	if err != nil {
		return nil, keeperrors.Configuration("no schemas configured and failed to resolve current schema: %v", err)
	}
	return []string{name}, nil
}

// withApplicationLock wraps body in the outer layer of the two-layer
// lock envelope (spec section 5): the server-side application lock,
// skipped when EnableClusterMode is false. The inner metadata-table row
// lock is taken per schema by withMetadataLock once the schema's table
// exists.
func (o *Orchestrator) withApplicationLock(ctx context.Context, body func() error) error {
	if !o.Config.EnableClusterMode {
		return body()
	}
	if err := acquireApplicationLock(ctx, o.Driver, o.Config.LockAcquisitionDeadline(), o.Log); err != nil {
		return err
	}
	defer releaseApplicationLock(ctx, o.Driver, o.Log)
	return body()
}

func (o *Orchestrator) withMetadataLock(store metadata.Store, body func() error) error {
	if !o.Config.EnableClusterMode {
		return body()
	}
	holder := holderIdentity()
	if err := acquireMetadataLock(context.Background(), store, holder, o.Config.LockAcquisitionDeadline(), o.Log); err != nil {
		return err
	}
	defer releaseMetadataLock(store, holder, o.Log)
	return body()
}

// Migrate applies pending versioned and repeatable scripts to every
// configured schema, per spec section 4.3.
func (o *Orchestrator) Migrate(ctx context.Context) (RunResult, error) {
	result := RunResult{Command: "Migrate"}
	start := time.Now()

	err := o.withApplicationLock(ctx, func() error {
		schemas, err := o.schemas(ctx)
		if err != nil {
			return err
		}
		result.Schemas = schemas

		for _, schemaName := range schemas {
			if err := o.migrateOneSchema(ctx, schemaName, &result); err != nil {
				return err
			}
		}
		return nil
	})

	result.TotalTimeElapsedMS = time.Since(start).Milliseconds()
	return result, err
}

func (o *Orchestrator) migrateOneSchema(ctx context.Context, schemaName string, result *RunResult) error {
	log := o.Log.With().Str("schema", schemaName).Logger()
	store := o.NewStore(schemaName)

	if err := o.ensureSchemaAndMetadataTable(ctx, schemaName, store, log); err != nil {
		return err
	}

	return o.withMetadataLock(store, func() error {
		if err := o.validateOrRepairPreamble(ctx, schemaName, store, log); err != nil {
			return err
		}
		return o.applyPhase(ctx, schemaName, store, result)
	})
}

// ensureSchemaAndMetadataTable creates the schema and/or metadata table
// if either is missing, recording the NewSchema/EmptySchema lifecycle
// marker Erase later consults (spec section 3 / 4.3). Called once
// per-schema by Migrate, and again by validateOrRepairPreamble after an
// erase-and-recreate so ApplyPhase always sees a live schema and table.
func (o *Orchestrator) ensureSchemaAndMetadataTable(ctx context.Context, schemaName string, store metadata.Store, log zerolog.Logger) error {
	schema := o.Driver.Schema(schemaName)

	exists, err := schema.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := schema.Create(ctx); err != nil {
			return err
		}
		log.Info().Msg("created schema")
	}

	tableExists, err := store.IsExists()
	if err != nil {
		return err
	}
	if !tableExists {
		if err := store.Create(); err != nil {
			return err
		}
		if !exists {
			if _, err := store.Save(metadata.NewSchema, nil, "schema created by this run", schemaName); err != nil {
				return err
			}
		} else {
			empty, err := schema.IsEmpty(ctx)
			if err != nil {
				return err
			}
			if empty {
				if _, err := store.Save(metadata.EmptySchema, nil, "pre-existing empty schema adopted by this run", schemaName); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateOrRepairPreamble implements Migrate's `Start → ValidateOrRepair`
// transition (spec section 4.3): run the same validate walk Repair uses
// (section 4.4), in raise mode. On mismatch, either abort the run or,
// when mustEraseOnValidationError is set, erase the schema and recreate
// it so ApplyPhase starts from a clean, unreconciled state.
func (o *Orchestrator) validateOrRepairPreamble(ctx context.Context, schemaName string, store metadata.Store, log zerolog.Logger) error {
	scripts, err := o.Loader.Migrations()
	if err != nil {
		return err
	}
	entries, err := store.GetAllMetadata()
	if err != nil {
		return err
	}
	snapshot := reconcile.Snapshot{Entries: entries}

	startVersion, err := o.Config.StartVersion()
	if err != nil {
		return keeperrors.Configuration("invalid start version: %v", err)
	}

	if _, err := reconcile.WalkAndValidate(scripts, snapshot, startVersion, o.Config.OutOfOrder, reconcile.ModeValidate, nil); err != nil {
		if !o.Config.MustEraseOnValidationError {
			return err
		}
		log.Warn().Err(err).Msg("validation failed before migrate; erasing and recreating schema")
		var dummy RunResult
		if eraseErr := o.eraseOneSchema(ctx, schemaName, &dummy); eraseErr != nil {
			return eraseErr
		}
		if err := o.ensureSchemaAndMetadataTable(ctx, schemaName, store, log); err != nil {
			return err
		}
	}
	return nil
}

// applyPhase runs the reconciler, then applies out-of-order pending,
// forward pending, and repeatable scripts in that order (spec section
// 4.1 / 4.3), honoring skipNextMigrations and the configured
// transaction mode.
func (o *Orchestrator) applyPhase(ctx context.Context, schemaName string, store metadata.Store, result *RunResult) error {
	scripts, err := o.Loader.Migrations()
	if err != nil {
		return err
	}
	repeatables, err := o.Loader.RepeatableMigrations()
	if err != nil {
		return err
	}

	entries, err := store.GetAllMetadata()
	if err != nil {
		return err
	}
	snapshot := reconcile.Snapshot{Entries: entries}

	startVersion, err := o.Config.StartVersion()
	if err != nil {
		return keeperrors.Configuration("invalid start version: %v", err)
	}
	targetVersion, err := o.Config.TargetVersion()
	if err != nil {
		return keeperrors.Configuration("invalid target version: %v", err)
	}

	recResult, err := reconcile.Reconcile(scripts, repeatables, snapshot, reconcile.Config{
		StartVersion:  startVersion,
		TargetVersion: targetVersion,
		OutOfOrder:    o.Config.OutOfOrder,
	})
	if err != nil {
		return err
	}

	session, err := o.Driver.Session(ctx, schemaName)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	caps := o.Driver.Capabilities()
	recordFailureOnError := o.Config.TransactionMode == config.CommitEach

	// ambientMode covers commit-all and rollback-all: every script in
	// this run shares one transaction, bound once here, instead of each
	// script opening and committing its own (spec section 4.3).
	ambientMode := caps.SupportsTransactions && o.Config.TransactionMode != config.CommitEach
	if ambientMode {
		if err := session.UseAmbientTransaction(ctx, o.Config.AmbientTransactionTimeout()); err != nil {
			return err
		}
		// Bind the metadata store to the same transaction so history
		// entries commit or roll back atomically with the schema
		// changes, instead of landing in a separate pool connection
		// (spec section 4.2's "mark as rolled back ... will never be
		// persisted" guarantee).
		if txp, ok := session.(driver.TxProvider); ok {
			if binder, ok := store.(metadata.TransactionBinder); ok {
				binder.BindTx(txp.Tx())
				defer binder.BindTx(nil)
			}
		}
	}

	exec := &execute.Executor{Driver: o.Driver, Store: store, Log: o.Log}
	opts := execute.Options{
		Placeholders:         o.Config.Placeholders,
		CommandTimeout:       o.Config.CommandTimeout(),
		RecordFailureOnError: recordFailureOnError,
		SuppressCommit:       ambientMode,
	}

	pending := append(append([]*migration.Script{}, recResult.OutOfOrderPending...), recResult.PendingForward...)
	skip := o.Config.SkipNextMigrations

	var runErr error
	for _, script := range pending {
		applyOpts := opts
		applyOpts.SkipExecution = skip
		var trackID optracker.OperationID = optracker.NoOperationID
		if o.Tracker != nil {
			trackID = o.Tracker.Add(schemaName+": "+script.Name, time.Now())
		}
		outcome, err := exec.Apply(ctx, session, script, applyOpts)
		if err != nil {
			if o.Tracker != nil {
				o.Tracker.Fail(trackID, err)
			}
			runErr = err
			break
		}
		result.MigrationsApplied = append(result.MigrationsApplied, outcome.Entry)
		if o.Tracker != nil {
			o.Tracker.Done(trackID, 0)
		}
	}

	if runErr == nil {
		runErr = o.applyRepeatable(ctx, session, store, recResult.PendingRepeatable, opts, result)
	}

	if runErr != nil {
		if ambientMode {
			if rerr := session.TryRollback(ctx); rerr != nil {
				o.Log.Warn().Err(rerr).Msg("ambient transaction rollback after failure also failed")
			}
		}
		return runErr
	}

	if ambientMode {
		if o.Config.TransactionMode == config.RollbackAll {
			// rollback-all always aborts, even on full success: it is a
			// dry run, so every would-be-applied script is logged as
			// rolled back instead of persisted (spec section 4.3 / S6).
			if err := session.TryRollback(ctx); err != nil {
				return err
			}
			for _, s := range pending {
				o.Log.Info().Str("schema", schemaName).Str("script", s.Name).Msg("rollback-all: applied then rolled back")
			}
			for _, r := range recResult.PendingRepeatable {
				o.Log.Info().Str("schema", schemaName).Str("script", r.Name).Msg("rollback-all: applied then rolled back")
			}
			result.MigrationsApplied = nil
			result.RepeatableApplied = nil
			return nil
		}
		if err := session.TryCommit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyRepeatable(ctx context.Context, session driver.Session, store metadata.Store, repeatables []*migration.Script, opts execute.Options, result *RunResult) error {
	exec := &execute.Executor{Driver: o.Driver, Store: store, Log: o.Log}

	if !o.Config.RetryRepeatableMigrationsUntilNoError {
		for _, r := range repeatables {
			outcome, err := exec.Apply(ctx, session, r, opts)
			if err != nil {
				return err
			}
			result.RepeatableApplied = append(result.RepeatableApplied, outcome.Entry)
		}
		return nil
	}

	remaining := append([]*migration.Script{}, repeatables...)
	for len(remaining) > 0 {
		var next []*migration.Script
		var lastErr error
		progressed := false
		for _, r := range remaining {
			outcome, err := exec.Apply(ctx, session, r, opts)
			if err != nil {
				lastErr = err
				next = append(next, r)
				continue
			}
			progressed = true
			result.RepeatableApplied = append(result.RepeatableApplied, outcome.Entry)
		}
		if !progressed {
			return lastErr
		}
		remaining = next
	}
	return nil
}

// Validate reports inconsistencies between the scripts on disk and the
// recorded metadata. It never modifies the database: unlike Migrate's
// internal ValidateOrRepair preamble, a validation failure here is only
// ever reported, never repaired by erasing the schema (spec section
// 4.3: "Validate... skip cluster locks"; section 4.4).
func (o *Orchestrator) Validate(ctx context.Context) (RunResult, error) {
	result := RunResult{Command: "Validate"}
	start := time.Now()

	var combined error
	schemas, err := o.schemas(ctx)
	if err != nil {
		return result, err
	}
	result.Schemas = schemas

	startVersion, err := o.Config.StartVersion()
	if err != nil {
		return result, keeperrors.Configuration("invalid start version: %v", err)
	}

	for _, schemaName := range schemas {
		store := o.NewStore(schemaName)
		scripts, err := o.Loader.Migrations()
		if err != nil {
			return result, err
		}
		entries, err := store.GetAllMetadata()
		if err != nil {
			return result, err
		}
		snapshot := reconcile.Snapshot{Entries: entries}
		if _, err := reconcile.WalkAndValidate(scripts, snapshot, startVersion, o.Config.OutOfOrder, reconcile.ModeValidate, nil); err != nil {
			combined = multierror.Append(combined, err)
		}
	}

	result.TotalTimeElapsedMS = time.Since(start).Milliseconds()
	return result, combined
}

// Repair rewrites drifted checksums in place instead of raising (spec
// section 4.4's reconcile.ModeRepair). It applies no scripts; a missing
// in-window script still raises when OutOfOrder is off.
func (o *Orchestrator) Repair(ctx context.Context) (RunResult, error) {
	result := RunResult{Command: "Repair"}
	start := time.Now()

	schemas, err := o.schemas(ctx)
	if err != nil {
		return result, err
	}
	result.Schemas = schemas

	startVersion, err := o.Config.StartVersion()
	if err != nil {
		return result, keeperrors.Configuration("invalid start version: %v", err)
	}

	for _, schemaName := range schemas {
		store := o.NewStore(schemaName)
		scripts, err := o.Loader.Migrations()
		if err != nil {
			return result, err
		}
		entries, err := store.GetAllMetadata()
		if err != nil {
			return result, err
		}
		snapshot := reconcile.Snapshot{Entries: entries}

		walkResult, err := reconcile.WalkAndValidate(scripts, snapshot, startVersion, o.Config.OutOfOrder, reconcile.ModeRepair, o.checksumUpdater(store, entries))
		if err != nil {
			return result, err
		}
		result.Reparations += walkResult.Reparations
	}

	result.TotalTimeElapsedMS = time.Since(start).Milliseconds()
	return result, nil
}

// checksumUpdater picks the right repair strategy for the driver's id
// stability (spec section 9): stores with a monotonic id update the row
// in place; stores without one (Cassandra) re-insert via
// metadata.ChecksumReplacer, keyed by the id GetAllMetadata assigned to
// the same entries slice reconcile.WalkAndValidate is walking.
func (o *Orchestrator) checksumUpdater(store metadata.Store, entries []metadata.Entry) func(id int64, checksum string) error {
	if o.Driver.Capabilities().HasMonotonicID {
		return store.UpdateChecksum
	}
	replacer, ok := store.(metadata.ChecksumReplacer)
	if !ok {
		return store.UpdateChecksum
	}
	byID := make(map[int64]metadata.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	return func(id int64, checksum string) error {
		entry, ok := byID[id]
		if !ok {
			return keeperrors.Validation("repair: no metadata entry with id %d", id)
		}
		return replacer.ReplaceChecksum(entry, checksum)
	}
}

// Erase drops every schema this engine created and empties every schema
// it adopted as empty, skipping (and counting) schemas it never touched
// (spec section 4.3 / 3's lifecycle markers). It refuses to run at all
// when IsEraseDisabled is set.
func (o *Orchestrator) Erase(ctx context.Context) (RunResult, error) {
	result := RunResult{Command: "Erase"}
	start := time.Now()

	if o.Config.IsEraseDisabled {
		return result, keeperrors.Configuration("erase is disabled by configuration")
	}

	err := o.withApplicationLock(ctx, func() error {
		schemas, err := o.schemas(ctx)
		if err != nil {
			return err
		}
		result.Schemas = schemas
		for _, schemaName := range schemas {
			if err := o.eraseOneSchema(ctx, schemaName, &result); err != nil {
				return err
			}
		}
		return nil
	})

	result.TotalTimeElapsedMS = time.Since(start).Milliseconds()
	return result, err
}

func (o *Orchestrator) eraseOneSchema(ctx context.Context, schemaName string, result *RunResult) error {
	store := o.NewStore(schemaName)
	canDrop, err := store.CanDropSchema(schemaName)
	if err != nil {
		return err
	}
	canErase, err := store.CanEraseSchema(schemaName)
	if err != nil {
		return err
	}
	if !canDrop && !canErase {
		result.SchemasSkippedOnErase++
		o.Log.Info().Str("schema", schemaName).Msg("skipping erase: schema was not created or adopted by this engine")
		return nil
	}

	schema := o.Driver.Schema(schemaName)
	if canDrop {
		if err := schema.Drop(ctx); err != nil {
			return err
		}
	} else {
		if err := schema.Erase(ctx); err != nil {
			return err
		}
	}
	result.SchemasErased++
	return nil
}

// Info reconciles without applying, returning the same disjoint sets
// Migrate would act on, for display (spec section 4.5).
func (o *Orchestrator) Info(ctx context.Context) (map[string]reconcile.Result, error) {
	schemas, err := o.schemas(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]reconcile.Result, len(schemas))
	for _, schemaName := range schemas {
		store := o.NewStore(schemaName)
		scripts, err := o.Loader.Migrations()
		if err != nil {
			return nil, err
		}
		repeatables, err := o.Loader.RepeatableMigrations()
		if err != nil {
			return nil, err
		}
		entries, err := store.GetAllMetadata()
		if err != nil {
			return nil, err
		}
		snapshot := reconcile.Snapshot{Entries: entries}

		startVersion, err := o.Config.StartVersion()
		if err != nil {
			return nil, keeperrors.Configuration("invalid start version: %v", err)
		}
		targetVersion, err := o.Config.TargetVersion()
		if err != nil {
			return nil, keeperrors.Configuration("invalid target version: %v", err)
		}

		res, err := reconcile.Reconcile(scripts, repeatables, snapshot, reconcile.Config{
			StartVersion:  startVersion,
			TargetVersion: targetVersion,
			OutOfOrder:    o.Config.OutOfOrder,
		})
		if err != nil {
			return nil, err
		}
		out[schemaName] = res
	}
	return out, nil
}
