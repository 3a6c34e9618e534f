package describe

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baajur/prisma-engines/migrate/dialect"
	"github.com/baajur/prisma-engines/migrate/history"
	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

func setupSQLite(t *testing.T, ddl ...string) Describer {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "setup statement: %s", stmt)
	}
	d, err := New(db, dialect.SQLite)
	require.NoError(t, err)
	return d
}

func TestSQLiteDescribeColumns(t *testing.T) {
	d := setupSQLite(t, `
		CREATE TABLE "users" (
			"id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
			"email" TEXT NOT NULL,
			"bio" TEXT,
			"age" INTEGER DEFAULT 18,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	table := schema.Tables[0]

	assert.Equal(t, "users", table.Name)
	require.NotNil(t, table.PrimaryKey)
	assert.Equal(t, []string{"id"}, table.PrimaryKey.Columns)

	id, ok := table.Column("id")
	require.True(t, ok)
	assert.Equal(t, sqlschema.FamilyInt, id.Family)
	assert.True(t, id.AutoIncrement)
	assert.False(t, id.Nullable)

	email, _ := table.Column("email")
	assert.Equal(t, sqlschema.FamilyText, email.Family)
	assert.False(t, email.Nullable)

	bio, _ := table.Column("bio")
	assert.True(t, bio.Nullable)
	assert.Nil(t, bio.Default)

	age, _ := table.Column("age")
	require.NotNil(t, age.Default)
	assert.Equal(t, sqlschema.DefaultValue, age.Default.Kind)
	assert.Equal(t, "18", age.Default.Value)

	createdAt, _ := table.Column("created_at")
	assert.Equal(t, sqlschema.FamilyDateTime, createdAt.Family)
	require.NotNil(t, createdAt.Default)
	assert.Equal(t, sqlschema.DefaultNow, createdAt.Default.Kind)
}

func TestSQLiteDescribeTextDefaultUnquoted(t *testing.T) {
	d := setupSQLite(t, `CREATE TABLE "t" ("status" TEXT NOT NULL DEFAULT 'it''s live')`)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)

	col, ok := schema.Tables[0].Column("status")
	require.True(t, ok)
	require.NotNil(t, col.Default)
	assert.Equal(t, "it's live", col.Default.Value)
}

func TestSQLiteDescribeIndexes(t *testing.T) {
	d := setupSQLite(t,
		`CREATE TABLE "users" ("id" INTEGER PRIMARY KEY, "email" TEXT, "deleted" INTEGER NOT NULL DEFAULT 0)`,
		`CREATE UNIQUE INDEX "users_email_key" ON "users"("email")`,
		`CREATE INDEX "users_active" ON "users"("email") WHERE deleted = 0`,
	)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)
	table := schema.Tables[0]
	require.Len(t, table.Indexes, 2)

	active, ok := table.Index("users_active")
	require.True(t, ok)
	assert.False(t, active.Unique)
	assert.Equal(t, []string{"email"}, active.Columns)
	assert.Equal(t, "deleted = 0", active.Predicate)

	unique, ok := table.Index("users_email_key")
	require.True(t, ok)
	assert.True(t, unique.Unique)
	assert.Empty(t, unique.Predicate)
}

func TestSQLiteDescribeForeignKeys(t *testing.T) {
	d := setupSQLite(t,
		`CREATE TABLE "users" ("id" INTEGER PRIMARY KEY)`,
		`CREATE TABLE "posts" (
			"id" INTEGER PRIMARY KEY,
			"author_id" INTEGER NOT NULL,
			FOREIGN KEY ("author_id") REFERENCES "users"("id") ON DELETE CASCADE ON UPDATE NO ACTION
		)`,
	)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)

	posts, ok := schema.Table("posts")
	require.True(t, ok)
	require.Len(t, posts.ForeignKeys, 1)
	fk := posts.ForeignKeys[0]
	assert.Equal(t, []string{"author_id"}, fk.Columns)
	assert.Equal(t, "users", fk.ReferencedTable)
	assert.Equal(t, []string{"id"}, fk.ReferencedColumns)
	assert.Equal(t, sqlschema.Cascade, fk.OnDelete)
	assert.Equal(t, sqlschema.NoAction, fk.OnUpdate)
}

func TestSQLiteDescribeCompositeKeyOrder(t *testing.T) {
	d := setupSQLite(t,
		`CREATE TABLE "m" ("b" INTEGER NOT NULL, "a" INTEGER NOT NULL, PRIMARY KEY ("b", "a"))`)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)

	pk := schema.Tables[0].PrimaryKey
	require.NotNil(t, pk)
	assert.Equal(t, []string{"b", "a"}, pk.Columns, "declaration order, not name order")
}

func TestSQLiteDescribeSkipsLedgerTable(t *testing.T) {
	d := setupSQLite(t,
		`CREATE TABLE "`+history.TableName+`" ("id" TEXT PRIMARY KEY)`,
		`CREATE TABLE "users" ("id" INTEGER PRIMARY KEY)`,
	)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "users", schema.Tables[0].Name)
}

func TestSQLiteDescribeUnknowns(t *testing.T) {
	d := setupSQLite(t,
		`CREATE TABLE "users" ("id" INTEGER PRIMARY KEY)`,
		`CREATE VIEW "user_ids" AS SELECT id FROM users`,
	)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Unknowns, 1)
	assert.Equal(t, sqlschema.Unknown{Kind: "view", Name: "user_ids"}, schema.Unknowns[0])
}

func TestSQLiteDescribeDeterministicOrder(t *testing.T) {
	d := setupSQLite(t,
		`CREATE TABLE "zzz" ("id" INTEGER PRIMARY KEY)`,
		`CREATE TABLE "aaa" ("id" INTEGER PRIMARY KEY)`,
	)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Tables, 2)
	assert.Equal(t, "aaa", schema.Tables[0].Name)
	assert.Equal(t, "zzz", schema.Tables[1].Name)
}

func TestSQLiteDescribeUnsupportedTypeKeepsRaw(t *testing.T) {
	d := setupSQLite(t, `CREATE TABLE "t" ("loc" GEOMETRY)`)
	schema, err := d.Describe(context.Background())
	require.NoError(t, err)

	col, ok := schema.Tables[0].Column("loc")
	require.True(t, ok)
	assert.Equal(t, sqlschema.FamilyUnsupported, col.Family)
	assert.Equal(t, "GEOMETRY", col.Raw)
}

func TestReferentialActionNormalization(t *testing.T) {
	assert.Equal(t, sqlschema.Cascade, referentialAction("CASCADE"))
	assert.Equal(t, sqlschema.SetNull, referentialAction("SET NULL"))
	assert.Equal(t, sqlschema.SetNull, referentialAction("SET_NULL"))
	assert.Equal(t, sqlschema.NoAction, referentialAction("NO ACTION"))
	assert.Equal(t, sqlschema.NoAction, referentialAction(""))
}
