// Package apply drives a migration run end to end: take the dialect's
// advisory lock, describe the live schema, diff it against the desired one,
// render the plan and execute it, recording the outcome in the history
// ledger.
package apply

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/baajur/prisma-engines/migrate/describe"
	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/history"
	"github.com/baajur/prisma-engines/migrate/sqlgen"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

// State is where a run ended up. Transitions are strictly forward:
// Planned -> Rendering -> Applying -> Applied | Failed | PartiallyApplied.
type State string

const (
	StatePlanned          State = "planned"
	StateRendering        State = "rendering"
	StateApplying         State = "applying"
	StateApplied          State = "applied"
	StateFailed           State = "failed"
	StatePartiallyApplied State = "partially_applied"
)

// Options tune a single run.
type Options struct {
	// Name labels the migration in the history ledger.
	Name string
	// Force allows destructive steps to execute.
	Force bool
	// DryRun stops after rendering: no lock, no writes, no history row.
	DryRun bool
}

// Result is the outcome of a run. Plan and Script are always populated
// once rendering succeeded, so callers can show what was (or would have
// been) executed regardless of how the run ended.
type Result struct {
	State  State
	Plan   *diff.Plan
	Script string
	Record *history.Record
}

// Applier owns a migration run against one database.
type Applier struct {
	db       *sql.DB
	d        dialect.Dialect
	renderer sqlgen.Renderer
	history  *history.Manager
	log      *slog.Logger
}

// New builds an applier for the database behind db.
func New(db *sql.DB, d dialect.Dialect, log *slog.Logger) (*Applier, error) {
	renderer, err := sqlgen.New(d)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Applier{
		db:       db,
		d:        d,
		renderer: renderer,
		history:  history.NewManager(db, d),
		log:      log,
	}, nil
}

// Apply converges the database onto the desired schema. A non-nil Result
// is returned alongside most errors so callers can inspect how far the run
// got.
//
// A real run pins one connection, takes the dialect's advisory lock on it
// and only then reads the catalog: concurrent appliers serialize before
// computing their plans, so the loser plans against the winner's result
// instead of a stale snapshot. A dry run performs no writes and skips the
// lock.
func (a *Applier) Apply(ctx context.Context, desired *sqlschema.Schema, opts Options) (*Result, error) {
	if opts.Name == "" {
		opts.Name = "migration"
	}
	log := a.log.With("run", uuid.NewString(), "dialect", string(a.d), "name", opts.Name)

	if err := desired.Validate(); err != nil {
		return nil, fmt.Errorf("desired schema: %w", err)
	}

	res := &Result{State: StatePlanned}
	log.Info("planning migration", "state", res.State)

	if opts.DryRun {
		groups, err := a.plan(ctx, a.db, desired, res)
		if err != nil {
			res.State = StateFailed
			return res, err
		}
		if res.Plan.Empty() {
			res.State = StateApplied
			log.Info("schemas already converged, nothing to apply")
			return res, nil
		}
		res.State = StatePlanned
		log.Info("dry run, stopping before execution", "statements", statementCount(groups))
		return res, nil
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("pin connection: %w", err)
	}
	defer conn.Close()

	lock := newAdvisoryLock(a.d, conn)
	if err := lock.Acquire(ctx); err != nil {
		res.State = StateFailed
		return res, err
	}

	// The ledger table must exist before execution so the record insert
	// cannot fail on a missing table. Bootstrapping it under the lock keeps
	// concurrent first runs from racing the CREATE.
	if err := a.history.InitTableOn(ctx, conn); err != nil {
		lock.Abort(ctx)
		res.State = StateFailed
		return res, err
	}

	groups, err := a.plan(ctx, conn, desired, res)
	if err != nil {
		lock.Abort(ctx)
		res.State = StateFailed
		return res, err
	}
	if res.Plan.Empty() {
		res.State = StateApplied
		log.Info("schemas already converged, nothing to apply")
		if relErr := lock.Release(ctx); relErr != nil {
			log.Error("release lock failed", "error", relErr)
		}
		return res, nil
	}

	if destructive := res.Plan.DestructiveSteps(); len(destructive) > 0 && !opts.Force {
		lock.Abort(ctx)
		res.State = StateFailed
		log.Warn("plan contains destructive steps", "count", len(destructive))
		return res, &DestructiveError{Steps: destructive}
	}

	res.State = StateApplying
	log.Info("applying migration", "state", res.State, "groups", len(groups))

	rec := &history.Record{
		ID:        time.Now().UTC().Format("20060102150405") + "_" + opts.Name,
		Name:      opts.Name,
		Checksum:  history.Checksum(res.Script),
		AppliedAt: time.Now().UTC(),
	}
	if snapshot, err := sqlschema.MarshalSchema(desired); err == nil {
		rec.SchemaSnapshot = snapshot
	}

	if err := a.execute(ctx, conn, lock, groups, rec, res, log); err != nil {
		log.Error("migration failed", "state", res.State, "error", err)
		return res, err
	}

	res.State = StateApplied
	res.Record = rec
	log.Info("migration applied", "state", res.State, "id", rec.ID,
		"duration_ms", rec.ExecutionTime)
	return res, nil
}

// plan snapshots the live schema through q, diffs it against desired and
// renders the result. q is the locked connection on a real run and the pool
// on a dry run.
func (a *Applier) plan(ctx context.Context, q describe.Querier, desired *sqlschema.Schema, res *Result) ([]sqlgen.Group, error) {
	describer, err := describe.New(q, a.d)
	if err != nil {
		return nil, err
	}
	current, err := describer.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe current schema: %w", err)
	}
	res.Plan = diff.Diff(current, desired, a.renderer.Capabilities().DiffOptions())
	if res.Plan.Empty() {
		return nil, nil
	}
	res.State = StateRendering
	groups, err := sqlgen.RenderPlan(a.renderer, res.Plan)
	if err != nil {
		return nil, fmt.Errorf("render plan: %w", err)
	}
	res.Script = sqlgen.Script(groups)
	return groups, nil
}

// execute runs the rendered groups on the pinned connection already holding
// the advisory lock, then releases it.
func (a *Applier) execute(ctx context.Context, conn *sql.Conn, lock *advisoryLock, groups []sqlgen.Group, rec *history.Record, res *Result, log *slog.Logger) error {
	started := time.Now()
	caps := a.renderer.Capabilities()
	switch {
	case lock.InTransaction():
		// sqlite: the lock transaction is the migration transaction.
		if err := a.executeOnConn(ctx, conn, groups, rec, res, started); err != nil {
			if rbErr := lock.Abort(ctx); rbErr != nil {
				log.Error("rollback failed", "error", rbErr)
			}
			res.State = StateFailed
			return err
		}
		if err := lock.Release(ctx); err != nil {
			res.State = StateFailed
			return fmt.Errorf("commit migration: %w", err)
		}
		return nil

	case caps.TransactionalDDL:
		err := a.executeInTx(ctx, conn, groups, rec, res, started)
		if relErr := lock.Release(ctx); relErr != nil {
			log.Error("release lock failed", "error", relErr)
		}
		return err

	default:
		// mysql auto-commits DDL; each statement is a point of no return.
		err := a.executeAutoCommit(ctx, conn, groups, rec, res, started)
		if relErr := lock.Release(ctx); relErr != nil {
			log.Error("release lock failed", "error", relErr)
		}
		return err
	}
}

func (a *Applier) executeInTx(ctx context.Context, conn *sql.Conn, groups []sqlgen.Group, rec *history.Record, res *Result, started time.Time) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		res.State = StateFailed
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			tx.Rollback()
			res.State = StateFailed
			return err
		}
		if err := sqlgen.Execute(ctx, tx, g); err != nil {
			tx.Rollback()
			res.State = StateFailed
			return err
		}
	}
	// Measured before the insert: the history row carries the duration, not
	// just the in-memory record.
	rec.ExecutionTime = time.Since(started).Milliseconds()
	if err := a.history.Record(ctx, tx, rec); err != nil {
		tx.Rollback()
		res.State = StateFailed
		return err
	}
	if err := tx.Commit(); err != nil {
		res.State = StateFailed
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (a *Applier) executeOnConn(ctx context.Context, conn *sql.Conn, groups []sqlgen.Group, rec *history.Record, res *Result, started time.Time) error {
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := sqlgen.ExecuteConn(ctx, conn, g); err != nil {
			return err
		}
	}
	rec.ExecutionTime = time.Since(started).Milliseconds()
	return a.history.Record(ctx, conn, rec)
}

func (a *Applier) executeAutoCommit(ctx context.Context, conn *sql.Conn, groups []sqlgen.Group, rec *history.Record, res *Result, started time.Time) error {
	for i, g := range groups {
		// Cancellation is honored only between groups: a group's
		// statements are an atomic unit even without transactions.
		if err := ctx.Err(); err != nil {
			if i > 0 {
				res.State = StatePartiallyApplied
				return &PartialApplyError{Group: i, Statement: 0, Err: err}
			}
			res.State = StateFailed
			return err
		}
		if n, err := sqlgen.ExecuteConn(ctx, conn, g); err != nil {
			if i == 0 && n == 0 {
				res.State = StateFailed
			} else {
				res.State = StatePartiallyApplied
			}
			sqlText := ""
			if n < len(g.Statements) {
				sqlText = g.Statements[n].SQL
			}
			return &PartialApplyError{Group: i, Statement: n, SQL: sqlText, Err: err}
		}
	}
	rec.ExecutionTime = time.Since(started).Milliseconds()
	if err := a.history.Record(ctx, conn, rec); err != nil {
		res.State = StatePartiallyApplied
		return err
	}
	return nil
}

func statementCount(groups []sqlgen.Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Statements)
	}
	return n
}
