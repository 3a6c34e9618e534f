package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/diff"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

func renderOne(t *testing.T, r Renderer, step diff.Step) []string {
	t.Helper()
	g, err := r.Render(step)
	require.NoError(t, err)
	out := make([]string, len(g.Statements))
	for i, stmt := range g.Statements {
		out[i] = stmt.SQL
	}
	return out
}

func TestPostgresCreateTable(t *testing.T) {
	r := &postgresRenderer{}
	stmts := renderOne(t, r, diff.CreateTable{Table: sqlschema.Table{
		Name: "users",
		Columns: []sqlschema.Column{
			{Name: "id", Family: sqlschema.FamilyInt, AutoIncrement: true},
			{Name: "email", Family: sqlschema.FamilyText},
			{Name: "bio", Family: sqlschema.FamilyText, Nullable: true},
			{Name: "created_at", Family: sqlschema.FamilyDateTime, Default: &sqlschema.Default{Kind: sqlschema.DefaultNow}},
		},
		PrimaryKey: &sqlschema.PrimaryKey{Columns: []string{"id"}},
	}})
	require.Len(t, stmts, 1)
	sql := stmts[0]

	assert.Contains(t, sql, `CREATE TABLE "users"`)
	assert.Contains(t, sql, `"id" SERIAL NOT NULL`)
	assert.Contains(t, sql, `"email" TEXT NOT NULL`)
	assert.NotContains(t, sql, `"bio" TEXT NOT NULL`)
	assert.Contains(t, sql, `"created_at" TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP`)
	assert.Contains(t, sql, `CONSTRAINT "users_pkey" PRIMARY KEY ("id")`)
}

func TestPostgresAlterColumnTypeUsesCast(t *testing.T) {
	r := &postgresRenderer{}
	stmts := renderOne(t, r, diff.AlterColumn{
		Table:  "users",
		Before: sqlschema.Column{Name: "age", Family: sqlschema.FamilyText},
		After:  sqlschema.Column{Name: "age", Family: sqlschema.FamilyInt},
	})
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "users" ALTER COLUMN "age" TYPE INTEGER USING ("age"::text::INTEGER)`, stmts[0])
}

func TestPostgresAlterColumnNullability(t *testing.T) {
	r := &postgresRenderer{}

	stmts := renderOne(t, r, diff.AlterColumn{
		Table:  "users",
		Before: sqlschema.Column{Name: "bio", Family: sqlschema.FamilyText, Nullable: true},
		After:  sqlschema.Column{Name: "bio", Family: sqlschema.FamilyText},
	})
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "users" ALTER COLUMN "bio" SET NOT NULL`, stmts[0])

	stmts = renderOne(t, r, diff.AlterColumn{
		Table:  "users",
		Before: sqlschema.Column{Name: "bio", Family: sqlschema.FamilyText, Default: &sqlschema.Default{Kind: sqlschema.DefaultValue, Value: "x"}},
		After:  sqlschema.Column{Name: "bio", Family: sqlschema.FamilyText, Nullable: true},
	})
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "users" ALTER COLUMN "bio" DROP NOT NULL, ALTER COLUMN "bio" DROP DEFAULT`, stmts[0])
}

func TestPostgresPartialIndex(t *testing.T) {
	r := &postgresRenderer{}
	stmts := renderOne(t, r, diff.CreateIndex{
		Table: "users",
		Index: sqlschema.Index{Name: "users_active_email", Columns: []string{"email"}, Unique: true, Predicate: "deleted_at IS NULL"},
	})
	require.Len(t, stmts, 1)
	assert.Equal(t, `CREATE UNIQUE INDEX "users_active_email" ON "users"("email") WHERE deleted_at IS NULL`, stmts[0])
}

func TestPostgresForeignKey(t *testing.T) {
	r := &postgresRenderer{}
	stmts := renderOne(t, r, diff.AddForeignKey{
		Table: "posts",
		ForeignKey: sqlschema.ForeignKey{
			Columns:           []string{"author_id"},
			ReferencedTable:   "users",
			ReferencedColumns: []string{"id"},
			OnDelete:          sqlschema.Cascade,
			OnUpdate:          sqlschema.NoAction,
		},
	})
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "posts" ADD CONSTRAINT "posts_author_id_fkey" FOREIGN KEY ("author_id") REFERENCES "users"("id") ON DELETE CASCADE ON UPDATE NO ACTION`, stmts[0])
}

func TestPostgresEnumLifecycle(t *testing.T) {
	r := &postgresRenderer{}

	stmts := renderOne(t, r, diff.CreateEnum{Enum: sqlschema.Enum{Name: "status", Values: []string{"draft", "live"}}})
	require.Len(t, stmts, 1)
	assert.Equal(t, `CREATE TYPE "status" AS ENUM ('draft', 'live')`, stmts[0])

	stmts = renderOne(t, r, diff.AlterEnum{
		Before: sqlschema.Enum{Name: "status", Values: []string{"draft", "live"}},
		After:  sqlschema.Enum{Name: "status", Values: []string{"draft", "live", "archived"}},
	})
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TYPE "status" ADD VALUE 'archived'`, stmts[0])
}

func TestPostgresEnumValueRemovalRebuildsType(t *testing.T) {
	r := &postgresRenderer{}
	stmts := renderOne(t, r, diff.AlterEnum{
		Before: sqlschema.Enum{Name: "status", Values: []string{"draft", "live", "dead"}},
		After:  sqlschema.Enum{Name: "status", Values: []string{"draft", "live"}},
		UsingColumns: []diff.ColumnRef{
			{Table: "posts", Column: "status"},
		},
	})
	require.Len(t, stmts, 4)
	assert.Equal(t, `ALTER TYPE "status" RENAME TO "status_old"`, stmts[0])
	assert.Equal(t, `CREATE TYPE "status" AS ENUM ('draft', 'live')`, stmts[1])
	assert.Equal(t, `ALTER TABLE "posts" ALTER COLUMN "status" TYPE "status" USING ("status"::text::"status")`, stmts[2])
	assert.Equal(t, `DROP TYPE "status_old"`, stmts[3])
}

func TestPostgresIdentifierLimit(t *testing.T) {
	r := &postgresRenderer{}
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	_, err := r.Render(diff.CreateIndex{Table: "t", Index: sqlschema.Index{Name: string(long), Columns: []string{"c"}}})
	var tooLong *IdentifierTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, dialect.Postgres, tooLong.Dialect)
	assert.Equal(t, 63, tooLong.Max)
}

func TestPostgresCapabilities(t *testing.T) {
	caps := (&postgresRenderer{}).Capabilities()
	assert.True(t, caps.TransactionalDDL)
	assert.True(t, caps.PartialIndexes)
	assert.True(t, caps.Enums)
	assert.True(t, caps.InPlaceColumnAlter)
}

func TestScriptFormat(t *testing.T) {
	r := &postgresRenderer{}
	g, err := r.Render(diff.DropTable{Table: "old"})
	require.NoError(t, err)
	script := Script([]Group{g})
	assert.Equal(t, "-- Drop table \"old\"\nDROP TABLE \"old\";\n", script)
}
