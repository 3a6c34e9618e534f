package apply

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/history"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

func newTestApplier(t *testing.T) (*Applier, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// The pinned lock connection must be the only handle on the database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	applier, err := New(db, dialect.SQLite, nil)
	require.NoError(t, err)
	return applier, db
}

func desiredSchema() *sqlschema.Schema {
	return &sqlschema.Schema{Tables: []sqlschema.Table{{
		Name: "users",
		Columns: []sqlschema.Column{
			{Name: "id", Family: sqlschema.FamilyInt, AutoIncrement: true},
			{Name: "email", Family: sqlschema.FamilyText},
		},
		PrimaryKey: &sqlschema.PrimaryKey{Columns: []string{"id"}},
		Indexes: []sqlschema.Index{
			{Name: "users_email_key", Columns: []string{"email"}, Unique: true},
		},
	}}}
}

func TestApplyCreatesSchema(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()

	res, err := applier.Apply(ctx, desiredSchema(), Options{Name: "init"})
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	require.NotNil(t, res.Record)
	assert.Contains(t, res.Record.ID, "_init")
	assert.NotEmpty(t, res.Script)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&count))
	assert.Equal(t, 1, count)

	records, err := history.NewManager(db, dialect.SQLite).All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "init", records[0].Name)
	assert.Equal(t, history.Checksum(res.Script), records[0].Checksum)
	assert.NotEmpty(t, records[0].SchemaSnapshot)
}

func TestApplyConvergedIsNoOp(t *testing.T) {
	applier, _ := newTestApplier(t)
	ctx := context.Background()
	desired := desiredSchema()

	_, err := applier.Apply(ctx, desired, Options{Name: "init"})
	require.NoError(t, err)

	res, err := applier.Apply(ctx, desired, Options{Name: "again"})
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	assert.True(t, res.Plan.Empty())
	assert.Nil(t, res.Record, "no history row for an empty plan")
}

func TestApplyDryRunExecutesNothing(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()

	res, err := applier.Apply(ctx, desiredSchema(), Options{Name: "preview", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatePlanned, res.State)
	assert.NotEmpty(t, res.Script)
	assert.Nil(t, res.Record)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&count))
	assert.Zero(t, count)
}

func TestApplyBlocksDestructiveChanges(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()

	_, err := applier.Apply(ctx, desiredSchema(), Options{Name: "init"})
	require.NoError(t, err)

	// Empty desired schema: everything would be dropped.
	res, err := applier.Apply(ctx, &sqlschema.Schema{}, Options{Name: "wipe"})
	var destructive *DestructiveError
	require.ErrorAs(t, err, &destructive)
	assert.NotEmpty(t, destructive.Steps)
	assert.Equal(t, StateFailed, res.State)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&count))
	assert.Equal(t, 1, count, "nothing executed before the gate")
}

func TestApplyForceAllowsDestructiveChanges(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()

	_, err := applier.Apply(ctx, desiredSchema(), Options{Name: "init"})
	require.NoError(t, err)

	res, err := applier.Apply(ctx, &sqlschema.Schema{}, Options{Name: "wipe", Force: true})
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&count))
	assert.Zero(t, count)
}

func TestApplyIncrementalChange(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()
	desired := desiredSchema()

	_, err := applier.Apply(ctx, desired, Options{Name: "init"})
	require.NoError(t, err)

	next := desiredSchema()
	next.Tables[0].Columns = append(next.Tables[0].Columns,
		sqlschema.Column{Name: "bio", Family: sqlschema.FamilyText, Nullable: true})

	res, err := applier.Apply(ctx, next, Options{Name: "add_bio"})
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	require.Len(t, res.Plan.Steps, 1)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'bio'`).Scan(&count))
	assert.Equal(t, 1, count)

	// Apply-then-describe round trip: a third run has nothing to do.
	res, err = applier.Apply(ctx, next, Options{Name: "noop"})
	require.NoError(t, err)
	assert.True(t, res.Plan.Empty())
}

func TestApplyRejectsInvalidSchema(t *testing.T) {
	applier, _ := newTestApplier(t)
	_, err := applier.Apply(context.Background(), &sqlschema.Schema{
		Tables: []sqlschema.Table{{Name: "t"}, {Name: "t"}},
	}, Options{})
	require.ErrorContains(t, err, "duplicate table")
}

func TestApplyAddForeignKeyConverges(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()

	withPosts := func(fks []sqlschema.ForeignKey) *sqlschema.Schema {
		return &sqlschema.Schema{Tables: []sqlschema.Table{
			{
				Name: "posts",
				Columns: []sqlschema.Column{
					{Name: "id", Family: sqlschema.FamilyInt},
					{Name: "author_id", Family: sqlschema.FamilyInt, Nullable: true},
				},
				PrimaryKey:  &sqlschema.PrimaryKey{Columns: []string{"id"}},
				ForeignKeys: fks,
			},
			{
				Name:       "users",
				Columns:    []sqlschema.Column{{Name: "id", Family: sqlschema.FamilyInt}},
				PrimaryKey: &sqlschema.PrimaryKey{Columns: []string{"id"}},
			},
		}}
	}

	_, err := applier.Apply(ctx, withPosts(nil), Options{Name: "init"})
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO posts (id, author_id) VALUES (1, NULL)`)
	require.NoError(t, err)

	// A constraint-only change rebuilds the table on this dialect; it must
	// execute real statements, not report success over an empty script.
	next := withPosts([]sqlschema.ForeignKey{{
		Columns: []string{"author_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"},
	}})
	res, err := applier.Apply(ctx, next, Options{Name: "link_posts"})
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	assert.NotEmpty(t, res.Script)
	require.NotNil(t, res.Record)

	var ddl string
	require.NoError(t, db.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'posts'`).Scan(&ddl))
	assert.Contains(t, ddl, "FOREIGN KEY")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&count))
	assert.Equal(t, 1, count, "rows survive the rebuild")

	// The second run sees the constraint in place and plans nothing.
	res, err = applier.Apply(ctx, next, Options{Name: "noop"})
	require.NoError(t, err)
	assert.True(t, res.Plan.Empty())
	assert.Nil(t, res.Record)
}

func TestApplyConcurrentRunsSerialize(t *testing.T) {
	applier, _ := newTestApplier(t)
	ctx := context.Background()
	desired := desiredSchema()

	results := make(chan *Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, err := applier.Apply(ctx, desired, Options{Name: name})
			assert.NoError(t, err)
			results <- res
		}(fmt.Sprintf("run_%d", i))
	}
	wg.Wait()
	close(results)

	// The lock is taken before the catalog is read, so the loser plans
	// against the winner's result and converges to a no-op instead of
	// executing a stale plan.
	applied := 0
	for res := range results {
		require.NotNil(t, res)
		assert.Equal(t, StateApplied, res.State)
		if res.Record != nil {
			applied++
		}
	}
	assert.Equal(t, 1, applied, "exactly one run executes the plan")
}

func TestApplyPersistsExecutionTime(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()

	res, err := applier.Apply(ctx, desiredSchema(), Options{Name: "init"})
	require.NoError(t, err)
	require.NotNil(t, res.Record)

	records, err := history.NewManager(db, dialect.SQLite).All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.Record.ExecutionTime, records[0].ExecutionTime,
		"the ledger row carries the same duration the result reports")
	assert.GreaterOrEqual(t, records[0].ExecutionTime, int64(0))
}

func TestApplyPreservesData(t *testing.T) {
	applier, db := newTestApplier(t)
	ctx := context.Background()
	desired := desiredSchema()

	_, err := applier.Apply(ctx, desired, Options{Name: "init"})
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (email) VALUES ('a@example.com')`)
	require.NoError(t, err)

	// Changing a column's nullability rebuilds the table through a shadow
	// copy on this dialect; the rows must survive.
	next := desiredSchema()
	next.Tables[0].Columns[1].Nullable = true
	_, err = applier.Apply(ctx, next, Options{Name: "relax_email"})
	require.NoError(t, err)

	var email string
	require.NoError(t, db.QueryRow(`SELECT email FROM users`).Scan(&email))
	assert.Equal(t, "a@example.com", email)
}
