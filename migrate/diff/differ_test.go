package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baajur/prisma-engines/migrate/sqlschema"
)

var allOpts = Options{
	SupportsRenameTable:  true,
	SupportsRenameColumn: true,
	StableIndexNames:     true,
}

func simpleTable(name string) sqlschema.Table {
	return sqlschema.Table{
		Name: name,
		Columns: []sqlschema.Column{
			{Name: "id", Family: sqlschema.FamilyInt, AutoIncrement: true},
			{Name: "title", Family: sqlschema.FamilyText, Nullable: true},
		},
		PrimaryKey: &sqlschema.PrimaryKey{Columns: []string{"id"}},
	}
}

func TestDiffIdenticalSchemasIsEmpty(t *testing.T) {
	s := &sqlschema.Schema{
		Tables: []sqlschema.Table{simpleTable("posts"), simpleTable("users")},
		Enums:  []sqlschema.Enum{{Name: "role", Values: []string{"admin", "user"}}},
	}
	plan := Diff(s, s, allOpts)
	assert.True(t, plan.Empty())
}

func TestDiffCreateTable(t *testing.T) {
	table := simpleTable("posts")
	table.Indexes = []sqlschema.Index{{Name: "posts_title_idx", Columns: []string{"title"}}}
	table.ForeignKeys = []sqlschema.ForeignKey{{
		Columns: []string{"id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"},
	}}
	desired := &sqlschema.Schema{Tables: []sqlschema.Table{table, simpleTable("users")}}

	plan := Diff(&sqlschema.Schema{}, desired, allOpts)
	require.Len(t, plan.Steps, 4)

	// Referenced table first, then the referencing one, index and foreign
	// key after both exist.
	first, ok := plan.Steps[0].(CreateTable)
	require.True(t, ok)
	assert.Equal(t, "users", first.Table.Name)

	second, ok := plan.Steps[1].(CreateTable)
	require.True(t, ok)
	assert.Equal(t, "posts", second.Table.Name)
	assert.Empty(t, second.Table.Indexes, "indexes are separate steps")
	assert.Len(t, second.Table.ForeignKeys, 1, "create step keeps foreign keys for inline dialects")

	_, ok = plan.Steps[2].(CreateIndex)
	assert.True(t, ok)
	_, ok = plan.Steps[3].(AddForeignKey)
	assert.True(t, ok)
	assert.False(t, plan.Destructive())
}

func TestDiffDropTable(t *testing.T) {
	table := simpleTable("posts")
	table.ForeignKeys = []sqlschema.ForeignKey{{
		Columns: []string{"id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"},
	}}
	current := &sqlschema.Schema{Tables: []sqlschema.Table{table}}

	plan := Diff(current, &sqlschema.Schema{}, allOpts)
	require.Len(t, plan.Steps, 2)
	_, ok := plan.Steps[0].(DropForeignKey)
	assert.True(t, ok, "outgoing foreign keys are dropped before the table")
	_, ok = plan.Steps[1].(DropTable)
	assert.True(t, ok)
	assert.True(t, plan.Destructive())
}

func TestDiffAddAndDropColumn(t *testing.T) {
	prev := simpleTable("posts")
	next := simpleTable("posts")
	next.Columns = append(next.Columns, sqlschema.Column{Name: "body", Family: sqlschema.FamilyText, Nullable: true})
	next.Columns = next.Columns[1:] // drop "id", keep "title" and "body"
	next.PrimaryKey = nil

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		Options{}, // no rename support: shape-compatible add+drop stays add+drop
	)
	require.Len(t, plan.Steps, 2)

	add, ok := plan.Steps[0].(AddColumn)
	require.True(t, ok)
	assert.Equal(t, "body", add.Column.Name)

	drop, ok := plan.Steps[1].(DropColumn)
	require.True(t, ok)
	assert.Equal(t, "id", drop.Column.Name)
	assert.True(t, plan.Destructive())
}

func TestDiffAlterColumn(t *testing.T) {
	prev := simpleTable("posts")
	next := simpleTable("posts")
	next.Columns[1].Nullable = false

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		allOpts,
	)
	require.Len(t, plan.Steps, 1)
	alter, ok := plan.Steps[0].(AlterColumn)
	require.True(t, ok)
	assert.Equal(t, "title", alter.After.Name)
	assert.True(t, alter.Before.Nullable)
	assert.False(t, alter.After.Nullable)
	assert.Equal(t, "posts", alter.TableAfter.Name, "step carries full table shapes for rebuild dialects")
	assert.True(t, plan.Destructive(), "nullable to required can fail on existing rows")
}

func TestDiffColumnRename(t *testing.T) {
	prev := simpleTable("posts")
	next := simpleTable("posts")
	next.Columns[1].Name = "headline"

	t.Run("detected when supported", func(t *testing.T) {
		plan := Diff(
			&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
			&sqlschema.Schema{Tables: []sqlschema.Table{next}},
			allOpts,
		)
		require.Len(t, plan.Steps, 1)
		rename, ok := plan.Steps[0].(RenameColumn)
		require.True(t, ok)
		assert.Equal(t, "title", rename.From)
		assert.Equal(t, "headline", rename.To)
		assert.False(t, plan.Destructive())
	})

	t.Run("degrades to drop and add without support", func(t *testing.T) {
		plan := Diff(
			&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
			&sqlschema.Schema{Tables: []sqlschema.Table{next}},
			Options{},
		)
		require.Len(t, plan.Steps, 2)
		_, ok := plan.Steps[0].(AddColumn)
		assert.True(t, ok)
		_, ok = plan.Steps[1].(DropColumn)
		assert.True(t, ok)
		assert.True(t, plan.Destructive())
	})
}

func TestDiffColumnRenameAmbiguous(t *testing.T) {
	prev := sqlschema.Table{Name: "t", Columns: []sqlschema.Column{
		{Name: "a", Family: sqlschema.FamilyText, Nullable: true},
		{Name: "b", Family: sqlschema.FamilyText, Nullable: true},
	}}
	next := sqlschema.Table{Name: "t", Columns: []sqlschema.Column{
		{Name: "c", Family: sqlschema.FamilyText, Nullable: true},
	}}

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		allOpts,
	)
	// Two dropped columns share the added column's shape: either could be
	// the rename source, so the differ refuses to guess.
	for _, step := range plan.Steps {
		_, isRename := step.(RenameColumn)
		assert.False(t, isRename, "ambiguous rename must not be detected")
	}
	require.Len(t, plan.Steps, 3)
}

func TestDiffTableRename(t *testing.T) {
	prev := simpleTable("posts")
	next := simpleTable("articles")

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		allOpts,
	)
	require.Len(t, plan.Steps, 1)
	rename, ok := plan.Steps[0].(RenameTable)
	require.True(t, ok)
	assert.Equal(t, "posts", rename.From)
	assert.Equal(t, "articles", rename.To)
}

func TestDiffTableRenameWithColumnChange(t *testing.T) {
	prev := simpleTable("posts")
	next := simpleTable("articles")
	next.Columns = append(next.Columns, sqlschema.Column{Name: "extra", Family: sqlschema.FamilyInt, Nullable: true})

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		allOpts,
	)
	// Shape differs, so no rename: the table is dropped and recreated.
	var sawDrop, sawCreate bool
	for _, step := range plan.Steps {
		switch step.(type) {
		case DropTable:
			sawDrop = true
		case CreateTable:
			sawCreate = true
		}
	}
	assert.True(t, sawDrop)
	assert.True(t, sawCreate)
}

func TestDiffIndexes(t *testing.T) {
	prev := simpleTable("posts")
	prev.Indexes = []sqlschema.Index{{Name: "idx_a", Columns: []string{"title"}}}
	next := simpleTable("posts")
	next.Indexes = []sqlschema.Index{
		{Name: "idx_a", Columns: []string{"title"}, Unique: true},
		{Name: "idx_b", Columns: []string{"id", "title"}},
	}

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		allOpts,
	)
	// idx_a changed structure under a stable name: rebuilt. idx_b is new.
	var drops, creates int
	for _, step := range plan.Steps {
		switch step.(type) {
		case DropIndex:
			drops++
		case CreateIndex:
			creates++
		}
	}
	assert.Equal(t, 1, drops)
	assert.Equal(t, 2, creates)
}

func TestDiffIndexesBySignature(t *testing.T) {
	prev := simpleTable("posts")
	prev.Indexes = []sqlschema.Index{{Name: "sqlite_autoindex_1", Columns: []string{"title"}, Unique: true}}
	next := simpleTable("posts")
	next.Indexes = []sqlschema.Index{{Name: "posts_title_key", Columns: []string{"title"}, Unique: true}}

	plan := Diff(
		&sqlschema.Schema{Tables: []sqlschema.Table{prev}},
		&sqlschema.Schema{Tables: []sqlschema.Table{next}},
		Options{StableIndexNames: false},
	)
	assert.True(t, plan.Empty(), "same structure under different names matches by signature")
}

func TestDiffForeignKeysBySignature(t *testing.T) {
	mk := func(constraint string, onDelete sqlschema.ReferentialAction) sqlschema.Table {
		t := simpleTable("posts")
		t.ForeignKeys = []sqlschema.ForeignKey{{
			ConstraintName:    constraint,
			Columns:           []string{"id"},
			ReferencedTable:   "users",
			ReferencedColumns: []string{"id"},
			OnDelete:          onDelete,
		}}
		return t
	}
	users := simpleTable("users")

	t.Run("name change alone is a no-op", func(t *testing.T) {
		plan := Diff(
			&sqlschema.Schema{Tables: []sqlschema.Table{mk("fk_old", sqlschema.Cascade), users}},
			&sqlschema.Schema{Tables: []sqlschema.Table{mk("fk_new", sqlschema.Cascade), users}},
			allOpts,
		)
		assert.True(t, plan.Empty())
	})

	t.Run("action change drops and re-adds", func(t *testing.T) {
		plan := Diff(
			&sqlschema.Schema{Tables: []sqlschema.Table{mk("fk", sqlschema.Cascade), users}},
			&sqlschema.Schema{Tables: []sqlschema.Table{mk("fk", sqlschema.SetNull), users}},
			allOpts,
		)
		require.Len(t, plan.Steps, 2)
		_, ok := plan.Steps[0].(DropForeignKey)
		assert.True(t, ok)
		add, ok := plan.Steps[1].(AddForeignKey)
		require.True(t, ok)
		assert.Equal(t, sqlschema.SetNull, add.ForeignKey.OnDelete)
	})
}

func TestDiffEnums(t *testing.T) {
	current := &sqlschema.Schema{Enums: []sqlschema.Enum{
		{Name: "status", Values: []string{"draft", "published", "archived"}},
		{Name: "obsolete", Values: []string{"x"}},
	}}
	desired := &sqlschema.Schema{
		Tables: []sqlschema.Table{{Name: "posts", Columns: []sqlschema.Column{
			{Name: "status", Family: sqlschema.FamilyEnum, EnumName: "status", EnumValues: []string{"draft", "published"}},
		}}},
		Enums: []sqlschema.Enum{
			{Name: "status", Values: []string{"draft", "published"}},
			{Name: "role", Values: []string{"admin"}},
		},
	}

	plan := Diff(current, desired, allOpts)

	var created, droppedEnums []string
	var alter *AlterEnum
	for _, step := range plan.Steps {
		switch s := step.(type) {
		case CreateEnum:
			created = append(created, s.Enum.Name)
		case DropEnum:
			droppedEnums = append(droppedEnums, s.Name)
		case AlterEnum:
			cp := s
			alter = &cp
		}
	}
	assert.Equal(t, []string{"role"}, created)
	assert.Equal(t, []string{"obsolete"}, droppedEnums)
	require.NotNil(t, alter)
	assert.Equal(t, "status", alter.After.Name)
	require.Len(t, alter.UsingColumns, 1)
	assert.Equal(t, "posts", alter.UsingColumns[0].Table)
	assert.Equal(t, "status", alter.UsingColumns[0].Column)
	assert.True(t, IsDestructive(*alter), "removing enum values can orphan rows")
}

func TestDiffEnumAddValueNotDestructive(t *testing.T) {
	step := AlterEnum{
		Before: sqlschema.Enum{Name: "c", Values: []string{"a"}},
		After:  sqlschema.Enum{Name: "c", Values: []string{"a", "b"}},
	}
	assert.False(t, IsDestructive(step))
}

func TestDiffDeterministic(t *testing.T) {
	current := &sqlschema.Schema{Tables: []sqlschema.Table{simpleTable("b"), simpleTable("a")}}
	desired := &sqlschema.Schema{Tables: []sqlschema.Table{simpleTable("c"), simpleTable("d")}}

	first := Diff(current, desired, allOpts)
	for i := 0; i < 10; i++ {
		again := Diff(current, desired, allOpts)
		require.Equal(t, first.Steps, again.Steps)
	}
}

func TestDiffInlineForeignKeysNewAndDroppedTables(t *testing.T) {
	inline := allOpts
	inline.InlineForeignKeys = true

	schema := &sqlschema.Schema{Tables: []sqlschema.Table{
		tableWithFK("posts", "users"), simpleTable("users"),
	}}

	plan := Diff(&sqlschema.Schema{}, schema, inline)
	for _, s := range plan.Steps {
		_, isAdd := s.(AddForeignKey)
		assert.False(t, isAdd, "constraints travel inside CreateTable: %s", s.Summarize())
	}

	plan = Diff(schema, &sqlschema.Schema{}, inline)
	for _, s := range plan.Steps {
		_, isDrop := s.(DropForeignKey)
		assert.False(t, isDrop, "constraints fall with the table: %s", s.Summarize())
	}
}

func TestDiffInlineForeignKeysRecreateOnConstraintChange(t *testing.T) {
	inline := allOpts
	inline.InlineForeignKeys = true

	bare := tableWithFK("posts", "users")
	bare.ForeignKeys = nil
	current := &sqlschema.Schema{Tables: []sqlschema.Table{bare, simpleTable("users")}}
	desired := &sqlschema.Schema{Tables: []sqlschema.Table{tableWithFK("posts", "users"), simpleTable("users")}}

	plan := Diff(current, desired, inline)
	require.Len(t, plan.Steps, 1)
	recreate, ok := plan.Steps[0].(RecreateTable)
	require.True(t, ok, "a constraint-only change forces a rebuild, got %T", plan.Steps[0])
	assert.Empty(t, recreate.Before.ForeignKeys)
	assert.Len(t, recreate.After.ForeignKeys, 1)

	// Without inline constraints the same change is a plain constraint step.
	plan = Diff(current, desired, allOpts)
	require.Len(t, plan.Steps, 1)
	_, ok = plan.Steps[0].(AddForeignKey)
	assert.True(t, ok)
}

func TestDiffInlineForeignKeysAlterColumnAbsorbsConstraintChange(t *testing.T) {
	inline := allOpts
	inline.InlineForeignKeys = true

	bare := tableWithFK("posts", "users")
	bare.ForeignKeys = nil
	current := &sqlschema.Schema{Tables: []sqlschema.Table{bare, simpleTable("users")}}

	// Change the column type and add the constraint in one diff: the
	// AlterColumn rebuild already carries the desired shape.
	next := tableWithFK("posts", "users")
	next.Columns[1].Family = sqlschema.FamilyBigInt
	desired := &sqlschema.Schema{Tables: []sqlschema.Table{next, simpleTable("users")}}

	plan := Diff(current, desired, inline)
	require.Len(t, plan.Steps, 1)
	alter, ok := plan.Steps[0].(AlterColumn)
	require.True(t, ok, "got %T", plan.Steps[0])
	assert.Len(t, alter.TableAfter.ForeignKeys, 1)
}
