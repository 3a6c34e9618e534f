// Package sqlgen renders abstract migration steps into dialect-correct DDL
// and executes the resulting statements. One Renderer exists per supported
// dialect; the dialect set is closed, so New switches exhaustively.
package sqlgen

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
)

// Capabilities describes what a dialect can and cannot do. The differ and
// the applier consult it instead of switching on the dialect themselves.
type Capabilities struct {
	// InPlaceColumnAlter is false on dialects that must rebuild the table
	// through a shadow copy to change a column.
	InPlaceColumnAlter bool
	// PartialIndexes reports support for index predicates.
	PartialIndexes bool
	// TransactionalDDL reports whether DDL participates in transactions and
	// rolls back with them.
	TransactionalDDL bool
	// Enums reports support for enum types (native or inline).
	Enums bool
	// RenameTable and RenameColumn report in-place rename support.
	RenameTable  bool
	RenameColumn bool
	// StableIndexNames reports whether index names survive round trips
	// through the catalog unchanged.
	StableIndexNames bool
	// InlineForeignKeys is true on dialects that declare foreign keys only
	// in the table definition; constraint changes on existing tables go
	// through a table rebuild instead of ALTER TABLE ADD/DROP CONSTRAINT.
	InlineForeignKeys bool
	// MaxIdentifierLength is the dialect's identifier limit; zero means
	// unbounded.
	MaxIdentifierLength int
}

// DiffOptions derives the differ options implied by the capability set.
func (c Capabilities) DiffOptions() diff.Options {
	return diff.Options{
		SupportsRenameTable:  c.RenameTable,
		SupportsRenameColumn: c.RenameColumn,
		StableIndexNames:     c.StableIndexNames,
		InlineForeignKeys:    c.InlineForeignKeys,
	}
}

// Statement is one executable SQL statement.
type Statement struct {
	SQL string
}

// Group is the rendering of a single step. Its statements form an atomic
// unit: the applier never interleaves other work between them, and a
// failure inside the group aborts the remainder.
type Group struct {
	Step       diff.Step
	Statements []Statement
}

// Renderer turns steps into dialect SQL. Render is pure; implementations
// hold no connection state.
type Renderer interface {
	Dialect() dialect.Dialect
	Capabilities() Capabilities
	Render(step diff.Step) (Group, error)
}

// New returns the renderer for a dialect.
func New(d dialect.Dialect) (Renderer, error) {
	switch d {
	case dialect.Postgres:
		return &postgresRenderer{}, nil
	case dialect.MySQL:
		return &mysqlRenderer{}, nil
	case dialect.SQLite:
		return &sqliteRenderer{}, nil
	case dialect.MSSQL:
		return &mssqlRenderer{}, nil
	default:
		return nil, fmt.Errorf("no renderer for dialect %q", d)
	}
}

// RenderPlan renders every step of a plan in order.
func RenderPlan(r Renderer, plan *diff.Plan) ([]Group, error) {
	groups := make([]Group, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		g, err := r.Render(step)
		if err != nil {
			return nil, err
		}
		if len(g.Statements) == 0 {
			// Some steps are no-ops on some dialects (enum steps on mysql).
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Script joins rendered groups into one SQL script, one statement per line
// terminated with semicolons. Used for previews and migration files.
func Script(groups []Group) string {
	var out string
	for _, g := range groups {
		out += "-- " + g.Step.Summarize() + "\n"
		for _, stmt := range g.Statements {
			out += stmt.SQL + ";\n"
		}
	}
	return out
}

// Execute runs a group's statements in order inside the given transaction.
// The first failure aborts the remaining statements and is returned wrapped
// in a StatementError identifying the offending statement.
func Execute(ctx context.Context, tx *sql.Tx, group Group) error {
	for i, stmt := range group.Statements {
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			return &StatementError{Step: group.Step, Index: i, SQL: stmt.SQL, Err: err}
		}
	}
	return nil
}

// ExecuteConn is Execute without a transaction, for dialects whose DDL
// auto-commits anyway. Statement index tracking is preserved so partial
// application can be reported precisely.
func ExecuteConn(ctx context.Context, conn *sql.Conn, group Group) (int, error) {
	for i, stmt := range group.Statements {
		if _, err := conn.ExecContext(ctx, stmt.SQL); err != nil {
			return i, &StatementError{Step: group.Step, Index: i, SQL: stmt.SQL, Err: err}
		}
	}
	return len(group.Statements), nil
}
