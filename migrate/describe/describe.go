// Package describe reads the live structure of a database into the
// canonical schema model. One describer exists per dialect; all of them
// normalize what they read so that applying a schema and describing the
// result yields a snapshot equal to the input, modulo the documented
// per-dialect lossy mappings (sqlite and mssql have no native enums, mssql
// stores Json as NVARCHAR).
package describe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/history"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// Describer reads a database's schema. Implementations hold the connection
// but no other state; Describe may be called repeatedly.
type Describer interface {
	Describe(ctx context.Context) (*sqlschema.Schema, error)
	Dialect() dialect.Dialect
}

// Querier is the slice of database/sql the describers query through. Both
// *sql.DB and *sql.Conn satisfy it, so a snapshot can be taken on the pool
// or on a pinned connection holding the migration lock.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrConnectionLost marks describe failures caused by the connection going
// away rather than by the catalog's contents.
var ErrConnectionLost = errors.New("connection lost while describing schema")

// UnsupportedCatalogStateError is returned when the catalog holds a
// construct the describer cannot read coherently, naming it instead of
// producing a silently wrong snapshot.
type UnsupportedCatalogStateError struct {
	Dialect dialect.Dialect
	Object  string
	Detail  string
}

func (e *UnsupportedCatalogStateError) Error() string {
	return fmt.Sprintf("%s: cannot describe %s: %s", e.Dialect, e.Object, e.Detail)
}

// New returns the describer for a dialect.
func New(db Querier, d dialect.Dialect) (Describer, error) {
	switch d {
	case dialect.Postgres:
		return &postgresDescriber{db: db}, nil
	case dialect.MySQL:
		return &mysqlDescriber{db: db}, nil
	case dialect.SQLite:
		return &sqliteDescriber{db: db}, nil
	case dialect.MSSQL:
		return &mssqlDescriber{db: db}, nil
	default:
		return nil, fmt.Errorf("no describer for dialect %q", d)
	}
}

// isLedgerTable reports whether a table belongs to the migration engine
// itself. The ledger never appears in snapshots so it never diffs.
func isLedgerTable(name string) bool {
	return name == history.TableName
}

// finalize sorts the parts of a snapshot that carry no meaningful order, so
// equal databases always describe to equal snapshots.
func finalize(s *sqlschema.Schema) *sqlschema.Schema {
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	for i := range s.Tables {
		t := &s.Tables[i]
		sort.Slice(t.Indexes, func(a, b int) bool { return t.Indexes[a].Name < t.Indexes[b].Name })
		sort.Slice(t.ForeignKeys, func(a, b int) bool {
			return t.ForeignKeys[a].Signature() < t.ForeignKeys[b].Signature()
		})
	}
	sort.Slice(s.Enums, func(i, j int) bool { return s.Enums[i].Name < s.Enums[j].Name })
	sort.Slice(s.Sequences, func(i, j int) bool { return s.Sequences[i].Name < s.Sequences[j].Name })
	sort.Slice(s.Unknowns, func(i, j int) bool {
		if s.Unknowns[i].Kind != s.Unknowns[j].Kind {
			return s.Unknowns[i].Kind < s.Unknowns[j].Kind
		}
		return s.Unknowns[i].Name < s.Unknowns[j].Name
	})
	return s
}

// describeErr wraps driver errors, promoting connection failures to
// ErrConnectionLost so callers can distinguish them from catalog problems.
func describeErr(what string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", what, ErrConnectionLost, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
