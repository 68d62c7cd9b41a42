// Package reconcile implements the pure reconciliation algorithm (spec
// section 4.1) and the shared validate-and-repair walk (spec section
// 4.4). Nothing here performs I/O; callers pass in already-fetched
// scripts and metadata snapshots, matching the teacher's preference
// for pure, independently unit-testable helpers around its sqldb
// package (e.g. db_test.go's findClosestLowerVersion).
package reconcile

import (
	"sort"

	"github.com/sqlkeeper/keeper/internal/keeperrors"
	"github.com/sqlkeeper/keeper/internal/metadata"
	"github.com/sqlkeeper/keeper/internal/migration"
	"github.com/sqlkeeper/keeper/internal/semver"
)

// Snapshot is the metadata state the reconciler reasons about.
type Snapshot struct {
	Entries []metadata.Entry
}

// LastAppliedVersion returns the max version over successful Migration
// entries, or semver.MinVersion if there are none.
func (s Snapshot) LastAppliedVersion() semver.Version {
	last := semver.MinVersion
	for _, e := range s.Entries {
		if e.IsSuccessfulMigration() && e.Version != nil && e.Version.GreaterThan(last) {
			last = *e.Version
		}
	}
	return last
}

// StartVersion returns the persisted StartVersion entry's version, if any.
func (s Snapshot) StartVersion() (semver.Version, bool) {
	for _, e := range s.Entries {
		if e.Type == metadata.StartVersion && e.Version != nil {
			return *e.Version, true
		}
	}
	return semver.Version{}, false
}

// successfulMigrationVersions indexes successful Migration entries by version.
func (s Snapshot) successfulMigrationVersions() map[string]bool {
	out := map[string]bool{}
	for _, e := range s.Entries {
		if e.IsSuccessfulMigration() && e.Version != nil {
			out[e.Version.String()] = true
		}
	}
	return out
}

// latestRepeatableEntry returns the most-recent (by InstalledOn) entry
// for a given repeatable script name, if one exists.
func (s Snapshot) latestRepeatableEntry(name string) (metadata.Entry, bool) {
	var best metadata.Entry
	found := false
	for _, e := range s.Entries {
		if e.Type != metadata.RepeatableMigration || e.Name != name {
			continue
		}
		if !found || e.InstalledOn.After(best.InstalledOn) {
			best = e
			found = true
		}
	}
	return best, found
}

// Config carries the reconciliation-affecting configuration options.
type Config struct {
	StartVersion  semver.Version
	TargetVersion semver.Version
	OutOfOrder    bool
}

// Result is the set of disjoint outcomes the reconciler computes.
type Result struct {
	IgnoredBeforeStart []*migration.Script // version < effectiveStartVersion
	PendingForward     []*migration.Script // ascending version order
	OutOfOrderPending  []*migration.Script // only populated when Config.OutOfOrder
	LostOutOfOrder     []*migration.Script // computed regardless of the flag, for Info's "Lost" row
	OffTarget          []*migration.Script // version > targetVersion
	PendingRepeatable  []*migration.Script

	EffectiveStartVersion semver.Version
	LastAppliedVersion    semver.Version
}

// EffectiveStartVersion resolves spec section 4.1's start-version rule:
// the metadata's persisted StartVersion takes precedence over the
// configured one.
func EffectiveStartVersion(snapshot Snapshot, configured semver.Version) semver.Version {
	if v, ok := snapshot.StartVersion(); ok {
		return v
	}
	return configured
}

// Reconcile computes the disjoint sets described in spec section 4.1.
func Reconcile(scripts []*migration.Script, repeatables []*migration.Script, snapshot Snapshot, cfg Config) (Result, error) {
	effectiveStart := EffectiveStartVersion(snapshot, cfg.StartVersion)
	lastApplied := snapshot.LastAppliedVersion()
	applied := snapshot.successfulMigrationVersions()

	sorted := make([]*migration.Script, len(scripts))
	copy(sorted, scripts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version.Less(*sorted[j].Version) })

	res := Result{EffectiveStartVersion: effectiveStart, LastAppliedVersion: lastApplied}

	for _, s := range sorted {
		v := *s.Version
		switch {
		case v.Less(effectiveStart):
			res.IgnoredBeforeStart = append(res.IgnoredBeforeStart, s)

		case v.GreaterThan(cfg.TargetVersion):
			res.OffTarget = append(res.OffTarget, s)

		case v.LessOrEqual(lastApplied):
			if applied[v.String()] {
				continue // already successfully applied; not pending, not out-of-order
			}
			res.LostOutOfOrder = append(res.LostOutOfOrder, s)
			if cfg.OutOfOrder {
				res.OutOfOrderPending = append(res.OutOfOrderPending, s)
			}

		case v.GreaterThan(lastApplied):
			if !applied[v.String()] {
				res.PendingForward = append(res.PendingForward, s)
			}
		}
	}

	for _, r := range repeatables {
		checksum, err := r.Checksum()
		if err != nil {
			return Result{}, err
		}
		latest, found := snapshot.latestRepeatableEntry(r.Name)
		switch {
		case !found:
			res.PendingRepeatable = append(res.PendingRepeatable, r)
		case r.MustRepeatAlways:
			res.PendingRepeatable = append(res.PendingRepeatable, r)
		case latest.Checksum != checksum:
			res.PendingRepeatable = append(res.PendingRepeatable, r)
		}
	}

	return res, nil
}

// WalkMode selects the behavior of WalkAndValidate (spec section 4.4).
type WalkMode uint8

const (
	// ModeValidate raises on mismatch.
	ModeValidate WalkMode = iota
	// ModeRepair fixes the stored checksum instead of raising.
	ModeRepair
)

// WalkResult reports the outcome of the shared validate-and-repair walk.
type WalkResult struct {
	Reparations int // count of checksums rewritten, ModeRepair only
}

// WalkAndValidate implements spec section 4.4: for versioned scripts in
// the window [effectiveStartVersion, lastAppliedVersion], verify every
// one has a matching applied entry with a matching checksum. In
// ModeRepair, checksum mismatches are fixed via updateChecksum instead
// of raising. configuredStart is the caller's configured StartVersion;
// as in Reconcile, a persisted StartVersion entry takes precedence.
func WalkAndValidate(scripts []*migration.Script, snapshot Snapshot, configuredStart semver.Version, outOfOrder bool, mode WalkMode, updateChecksum func(id int64, checksum string) error) (WalkResult, error) {
	if len(snapshot.Entries) == 0 {
		return WalkResult{}, nil
	}
	hasAnyApplied := false
	for _, e := range snapshot.Entries {
		if e.IsSuccessfulMigration() {
			hasAnyApplied = true
			break
		}
	}
	if !hasAnyApplied {
		return WalkResult{}, nil
	}

	effectiveStart := EffectiveStartVersion(snapshot, configuredStart)
	lastApplied := snapshot.LastAppliedVersion()

	byVersion := map[string]metadata.Entry{}
	for _, e := range snapshot.Entries {
		if e.IsSuccessfulMigration() && e.Version != nil {
			byVersion[e.Version.String()] = e
		}
	}

	var result WalkResult
	for _, s := range scripts {
		if s.Version == nil {
			continue
		}
		v := *s.Version
		if v.Less(effectiveStart) || v.GreaterThan(lastApplied) {
			continue
		}

		entry, ok := byVersion[v.String()]
		if !ok {
			if outOfOrder {
				continue // the out-of-order phase will apply it
			}
			return result, keeperrors.Validation("script %s (version %s) is out of order and outOfOrder is disabled", s.Name, v)
		}

		checksum, err := s.Checksum()
		if err != nil {
			return result, err
		}
		if entry.Checksum != checksum {
			switch mode {
			case ModeRepair:
				if err := updateChecksum(entry.ID, checksum); err != nil {
					return result, err
				}
				result.Reparations++
			default:
				return result, keeperrors.Validation("invalid checksum for: %s", s.Name)
			}
		}
	}
	return result, nil
}
