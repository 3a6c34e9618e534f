// Package migrate is the public entry point of the schema migration engine.
//
// A migration run describes the live database into the canonical schema
// model, diffs it against the desired schema, renders the plan into
// dialect SQL and executes it under an advisory lock while recording the
// outcome in a history ledger inside the target database.
//
// Basic usage:
//
//	db, d, err := migrate.Connect(ctx, "postgres://localhost/mydb")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := migrate.Push(ctx, db, d, desired, migrate.PushOptions{Name: "init"})
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/baajur/prisma-engines/migrate/apply"
	"github.com/baajur/prisma-engines/migrate/describe"
	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/history"
	"github.com/baajur/prisma-engines/migrate/sqlgen"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// Schema is the canonical, dialect-neutral schema snapshot.
type Schema = sqlschema.Schema

// Plan is an ordered list of migration steps.
type Plan = diff.Plan

// PushOptions tune an apply run.
type PushOptions = apply.Options

// Result is the outcome of an apply run.
type Result = apply.Result

// ParseURL splits a database URL into its dialect and the DSN the driver
// expects. sqlite URLs degrade to a bare file path.
func ParseURL(url string) (dialect.Dialect, string, error) {
	scheme, rest, found := strings.Cut(url, "://")
	if !found {
		return "", "", fmt.Errorf("database url %q has no scheme", url)
	}
	d, err := dialect.Parse(scheme)
	if err != nil {
		return "", "", err
	}
	switch d {
	case dialect.SQLite:
		return d, rest, nil
	case dialect.MySQL:
		// go-sql-driver DSNs carry no scheme.
		return d, rest, nil
	default:
		return d, url, nil
	}
}

// Connect opens and pings a database by URL. The driver for the URL's
// dialect must be linked into the binary by the caller.
func Connect(ctx context.Context, url string) (*sql.DB, dialect.Dialect, error) {
	d, dsn, err := ParseURL(url)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s database: %w", d, err)
	}
	if d == dialect.SQLite {
		// sqlite advisory locking pins the sole connection; a pool would
		// split state across independent handles.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("connect to %s database: %w", d, err)
	}
	return db, d, nil
}

// Describe reads the live schema of a database.
func Describe(ctx context.Context, db *sql.DB, d dialect.Dialect) (*Schema, error) {
	describer, err := describe.New(db, d)
	if err != nil {
		return nil, err
	}
	return describer.Describe(ctx)
}

// DiffSchemas computes the plan converging current onto desired, using the
// dialect's capabilities to decide rename support and index identity.
func DiffSchemas(current, desired *Schema, d dialect.Dialect) (*Plan, error) {
	renderer, err := sqlgen.New(d)
	if err != nil {
		return nil, err
	}
	return diff.Diff(current, desired, renderer.Capabilities().DiffOptions()), nil
}

// Render renders a plan into a SQL script for the dialect.
func Render(plan *Plan, d dialect.Dialect) (string, error) {
	renderer, err := sqlgen.New(d)
	if err != nil {
		return "", err
	}
	groups, err := sqlgen.RenderPlan(renderer, plan)
	if err != nil {
		return "", err
	}
	return sqlgen.Script(groups), nil
}

// Push converges the database onto the desired schema in one run.
func Push(ctx context.Context, db *sql.DB, d dialect.Dialect, desired *Schema, opts PushOptions) (*Result, error) {
	applier, err := apply.New(db, d, slog.Default())
	if err != nil {
		return nil, err
	}
	return applier.Apply(ctx, desired, opts)
}

// Status returns the migration history recorded in the target database.
// A missing ledger table reads as an empty history.
func Status(ctx context.Context, db *sql.DB, d dialect.Dialect) ([]history.Record, error) {
	mgr := history.NewManager(db, d)
	if err := mgr.InitTable(ctx); err != nil {
		return nil, err
	}
	return mgr.All(ctx)
}
