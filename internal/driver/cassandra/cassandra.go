// Package cassandra adapts the driver.Driver capability set to
// Cassandra via the gocql driver. Cassandra has neither monotonic ids
// nor cross-statement transactions, so Capabilities reports both as
// false (spec section 9) and the metadata store lives in this package
// rather than reusing internal/metadata.SQLStore.
package cassandra

import (
	"context"
	"strings"
	"time"

	"github.com/apache/cassandra-gocql-driver/v2"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/sqlkeeper/keeper/internal/driver"
)

// Driver implements driver.Driver against a Cassandra cluster.
type Driver struct {
	CQLSession *gocql.Session
	Log        zerolog.Logger
	held       bool // this process's own view of the application lock
}

func New(ctx context.Context, hosts []string, keyspace string, log zerolog.Logger) (*Driver, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrap(err, "create cassandra session")
	}
	return &Driver{CQLSession: sess, Log: log}, nil
}

func (d *Driver) Dialect() string { return "cassandra" }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{HasMonotonicID: false, SupportsTransactions: false}
}

func (d *Driver) CurrentSchemaName(ctx context.Context) (string, error) {
	return d.CQLSession.KeyspaceMetadata(d.CQLSession.Keyspace()).Name, nil
}

func (d *Driver) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Driver) Schema(name string) driver.Schema {
	return &keyspace{sess: d.CQLSession, name: name}
}

// Session opens a session handle bound to schemaName, satisfying
// driver.Driver. Cassandra has no per-schema connection switch (the
// keyspace is fixed at cluster-connect time), so schemaName is unused.
func (d *Driver) Session(ctx context.Context, schemaName string) (driver.Session, error) {
	return &session{sess: d.CQLSession}, nil
}

// TryAcquireApplicationLock uses a lightweight-transaction (Paxos)
// INSERT into a reserved lock table as Cassandra's nearest equivalent
// to an advisory lock: "INSERT ... IF NOT EXISTS" is linearizable
// across the cluster.
func (d *Driver) TryAcquireApplicationLock(ctx context.Context) (bool, error) {
	applied, err := d.CQLSession.Query(
		`INSERT INTO keeper_application_lock (id, holder) VALUES (?, ?) IF NOT EXISTS`,
		"singleton", d.Log.GetLevel().String(),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, errors.Wrap(err, "acquire lightweight-transaction lock")
	}
	d.held = applied
	return applied, nil
}

func (d *Driver) ReleaseApplicationLock(ctx context.Context) error {
	if !d.held {
		return nil
	}
	if err := d.CQLSession.Query(`DELETE FROM keeper_application_lock WHERE id = ?`, "singleton").WithContext(ctx).Exec(); err != nil {
		return errors.Wrap(err, "release lightweight-transaction lock")
	}
	d.held = false
	return nil
}

// LoadSQLStatements splits on semicolons; CQL has no transactional DDL
// and no multi-statement batches for schema changes, so every
// statement here always runs standalone (MustExecuteInTransaction is
// always false; Session.InTransaction is always false too).
func (d *Driver) LoadSQLStatements(body []byte, placeholders map[string]string) ([]driver.Statement, error) {
	text := string(body)
	for k, v := range placeholders {
		text = strings.ReplaceAll(text, "${"+k+"}", v)
	}
	var out []driver.Statement
	for _, raw := range strings.Split(text, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		out = append(out, driver.Statement{SQL: s, MustExecuteInTransaction: false})
	}
	return out, nil
}

type session struct {
	sess *gocql.Session
}

func (s *session) TryBeginTransaction(ctx context.Context) error { return nil }
func (s *session) TryCommit(ctx context.Context) error           { return nil }
func (s *session) TryRollback(ctx context.Context) error         { return nil }
func (s *session) InTransaction() bool                           { return false }

func (s *session) ExecuteNonQuery(ctx context.Context, cql string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q := s.sess.Query(cql).WithContext(ctx)
	if timeout > 0 {
		q = q.Idempotent(true)
	}
	if err := q.Exec(); err != nil {
		return errors.Wrap(err, "execute cql statement")
	}
	return nil
}

func (s *session) UseAmbientTransaction(ctx context.Context, timeout time.Duration) error {
	return nil // no-op: Cassandra has no ambient transaction to join
}

func (s *session) Close(ctx context.Context) error { return nil }

type keyspace struct {
	sess *gocql.Session
	name string
}

func (k *keyspace) Name() string { return k.name }

func (k *keyspace) Exists(ctx context.Context) (bool, error) {
	md := k.sess.KeyspaceMetadata(k.name)
	return md != nil, nil
}

func (k *keyspace) IsEmpty(ctx context.Context) (bool, error) {
	md := k.sess.KeyspaceMetadata(k.name)
	if md == nil {
		return true, nil
	}
	return len(md.Tables) == 0, nil
}

func (k *keyspace) Create(ctx context.Context) error {
	stmt := `CREATE KEYSPACE IF NOT EXISTS ` + k.name +
		` WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`
	return errors.Wrap(k.sess.Query(stmt).WithContext(ctx).Exec(), "create keyspace")
}

func (k *keyspace) Drop(ctx context.Context) error {
	return errors.Wrap(k.sess.Query(`DROP KEYSPACE IF EXISTS `+k.name).WithContext(ctx).Exec(), "drop keyspace")
}

func (k *keyspace) Erase(ctx context.Context) error {
	if err := k.Drop(ctx); err != nil {
		return err
	}
	return k.Create(ctx)
}
